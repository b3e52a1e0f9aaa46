package service

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"ridebook/internal/domain"
	"ridebook/internal/events"
	"ridebook/internal/lifecycle"
	"ridebook/internal/lock"
	"ridebook/internal/repository"
	"ridebook/internal/watch"
)

// DriverDirectory supplies the driver facts Assign needs at call time.
type DriverDirectory interface {
	Lookup(ctx context.Context, driverID string) (*domain.Driver, error)
}

// PositionIndex mirrors live driver positions for nearby search.
type PositionIndex interface {
	UpdateLocation(ctx context.Context, driverID string, p domain.Point) error
}

// ReservationService is the reservation lifecycle engine. Every mutating
// operation runs under the reservation's lock; Assign additionally holds the
// driver's lock, taken first.
type ReservationService struct {
	reservations repository.ReservationRepository
	directory    DriverDirectory
	locker       lock.Locker
	emitter      events.Emitter
	hub          *watch.Hub
	positions    PositionIndex
	now          func() time.Time
}

// ReservationOption configures a ReservationService.
type ReservationOption func(*ReservationService)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ReservationOption {
	return func(s *ReservationService) { s.now = now }
}

// WithPositionIndex mirrors driver location updates into idx.
func WithPositionIndex(idx PositionIndex) ReservationOption {
	return func(s *ReservationService) { s.positions = idx }
}

// NewReservationService creates a new ReservationService.
func NewReservationService(
	reservations repository.ReservationRepository,
	directory DriverDirectory,
	locker lock.Locker,
	emitter events.Emitter,
	hub *watch.Hub,
	opts ...ReservationOption,
) *ReservationService {
	if emitter == nil {
		emitter = events.Discard
	}
	if hub == nil {
		hub = watch.NewHub()
	}
	s := &ReservationService{
		reservations: reservations,
		directory:    directory,
		locker:       locker,
		emitter:      emitter,
		hub:          hub,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateReservationRequest contains the parameters for creating a reservation.
type CreateReservationRequest struct {
	CustomerID        string
	Pickup            domain.Place
	Dropoff           domain.Place
	Cost              float64
	DesiredPickupTime *time.Time // nil for an immediate ride
	Paid              bool
}

// CreateReservation creates a reservation in pending_assignment.
func (s *ReservationService) CreateReservation(ctx context.Context, req CreateReservationRequest) (*domain.Reservation, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	res := &domain.Reservation{
		ID:         uuid.New().String(),
		CustomerID: req.CustomerID,
		Pickup:     req.Pickup,
		Dropoff:    req.Dropoff,
		Cost:       req.Cost,
		Paid:       req.Paid,
		Status:     domain.StatusPendingAssignment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.DesiredPickupTime != nil {
		t := req.DesiredPickupTime.UTC()
		res.DesiredPickupTime = &t
	}

	if err := s.reservations.Create(ctx, res); err != nil {
		return nil, err
	}

	log.Printf("Reservation %s created for customer %s (cost=%.2f, paid=%t)", res.ID, res.CustomerID, res.Cost, res.Paid)
	return res.Clone(), nil
}

func validateCreateRequest(req CreateReservationRequest) error {
	if req.CustomerID == "" {
		return ErrInvalidCustomerID
	}

	if !req.Pickup.Valid() {
		return ErrInvalidPickupLocation
	}

	if !req.Dropoff.Valid() {
		return ErrInvalidDropoffLocation
	}

	if req.Cost < 0 || math.IsNaN(req.Cost) || math.IsInf(req.Cost, 0) {
		return ErrInvalidCost
	}

	// Cost is charged as given, so sub-cent amounts are refused rather than rounded.
	cents := req.Cost * 100
	if math.Abs(cents-math.Round(cents)) > 1e-6 {
		return ErrInvalidCost
	}

	return nil
}

// MarkPaid is the payment collaborator's callback. Calling it again is a no-op.
func (s *ReservationService) MarkPaid(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}

	unlock, err := s.locker.Lock(ctx, lock.ReservationKey(reservationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.reservations.MarkPaid(ctx, reservationID, s.now()); err != nil {
		return nil, err
	}

	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(res)
	return res, nil
}

// GetReservation returns a read-only snapshot.
func (s *ReservationService) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}
	return s.reservations.GetByID(ctx, reservationID)
}

// ListReservationsRequest narrows ListReservations.
type ListReservationsRequest struct {
	Statuses   []domain.Status
	CustomerID string
	DriverID   string
	Limit      int
}

// AssignmentQueue is the set of statuses a manager picks work from.
var AssignmentQueue = []domain.Status{domain.StatusPendingAssignment, domain.StatusDriverRefused}

// ListReservations returns reservations matching req, newest first.
func (s *ReservationService) ListReservations(ctx context.Context, req ListReservationsRequest) ([]*domain.Reservation, error) {
	return s.reservations.List(ctx, repository.ReservationFilter{
		Statuses:   req.Statuses,
		CustomerID: req.CustomerID,
		DriverID:   req.DriverID,
		Limit:      req.Limit,
	})
}

// History returns the transition log of a reservation, oldest first.
func (s *ReservationService) History(ctx context.Context, reservationID string) ([]domain.StatusChange, error) {
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}
	return s.reservations.History(ctx, reservationID)
}

// Subscribe registers for snapshots of one reservation. The current snapshot is
// returned alongside the channel; the subscription is taken first so no later
// update is missed.
func (s *ReservationService) Subscribe(ctx context.Context, reservationID string) (*domain.Reservation, <-chan *domain.Reservation, func(), error) {
	if reservationID == "" {
		return nil, nil, nil, ErrInvalidReservationID
	}

	ch, cancel := s.hub.Subscribe(reservationID)
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return res, ch, cancel, nil
}

// Assign binds driverID to the reservation on behalf of a manager or admin.
func (s *ReservationService) Assign(ctx context.Context, reservationID, driverID string, actor domain.Actor) (*domain.Reservation, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}

	unlockDriver, err := s.locker.Lock(ctx, lock.DriverKey(driverID))
	if err != nil {
		return nil, err
	}
	defer unlockDriver()

	return s.mutate(ctx, reservationID, func(res *domain.Reservation, now time.Time) (*pending, error) {
		to, err := s.authorize(res, actor, domain.ActionAssign)
		if err != nil {
			return nil, err
		}

		if !res.Paid {
			return nil, ErrPaymentRequired
		}

		driver, err := s.directory.Lookup(ctx, driverID)
		if err != nil {
			return nil, err
		}
		if !driver.IsOnline {
			return nil, ErrDriverOffline
		}

		active, err := s.reservations.GetActiveByDriverID(ctx, driverID)
		if err != nil {
			return nil, err
		}
		if active != nil && active.ID != res.ID {
			return nil, ErrDriverAlreadyBusy
		}

		next := res.Clone()
		next.AssignedDriverID = driverID
		next.AssignedByManagerID = actor.ID
		next.AssignedAt = &now
		next.Vehicle = driver.Vehicle.Clone()
		next.DriverLocation = nil

		p := s.step(res, next, to, domain.ActionAssign, actor, now)
		p.events[0].Payload["assigned_by"] = actor.ID
		p.events[0].Payload["vehicle"] = next.Vehicle
		return p, nil
	})
}

// Accept records the assigned driver's acceptance.
func (s *ReservationService) Accept(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error) {
	return s.driverStep(ctx, reservationID, actor, domain.ActionAccept, func(r *domain.Reservation, now *time.Time) {
		r.AcceptedAt = now
	})
}

// Refuse records the assigned driver's refusal. The reservation goes back to
// pending_assignment in the same operation, with no driver attached.
func (s *ReservationService) Refuse(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}

	return s.mutate(ctx, reservationID, func(res *domain.Reservation, now time.Time) (*pending, error) {
		refused, err := s.authorize(res, actor, domain.ActionRefuse)
		if err != nil {
			return nil, err
		}

		next := res.Clone()
		next.AssignedDriverID = ""
		next.Vehicle = nil
		next.DriverLocation = nil
		next.RefusedAt = &now

		p := s.step(res, next, refused, domain.ActionRefuse, actor, now)
		p.events[0].Payload["driver_id"] = res.AssignedDriverID

		// driver_refused -> pending_assignment happens without a second actor.
		next.Status = domain.StatusPendingAssignment
		p.change.History = append(p.change.History, domain.StatusChange{
			ReservationID: res.ID,
			From:          refused,
			To:            domain.StatusPendingAssignment,
			Action:        domain.ActionRequeue,
			ActorRole:     actor.Role,
			ActorID:       actor.ID,
			At:            now,
		})
		p.events[0].Payload["status"] = string(domain.StatusPendingAssignment)
		return p, nil
	})
}

// Start records that the assigned driver picked the customer up.
func (s *ReservationService) Start(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error) {
	return s.driverStep(ctx, reservationID, actor, domain.ActionStart, func(r *domain.Reservation, now *time.Time) {
		r.StartedAt = now
	})
}

// Complete records the end of the ride; the reservation then awaits the customer's review.
func (s *ReservationService) Complete(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error) {
	return s.driverStep(ctx, reservationID, actor, domain.ActionComplete, func(r *domain.Reservation, now *time.Time) {
		r.CompletedAt = now
	})
}

func (s *ReservationService) driverStep(ctx context.Context, reservationID string, actor domain.Actor, action domain.Action, stamp func(*domain.Reservation, *time.Time)) (*domain.Reservation, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}

	return s.mutate(ctx, reservationID, func(res *domain.Reservation, now time.Time) (*pending, error) {
		to, err := s.authorize(res, actor, action)
		if err != nil {
			return nil, err
		}

		next := res.Clone()
		stamp(next, &now)
		return s.step(res, next, to, action, actor, now), nil
	})
}

// CancelResult is the outcome of a successful cancellation.
type CancelResult struct {
	Reservation *domain.Reservation
	Refund      *domain.Refund
}

// Cancel cancels a non-terminal reservation and records the refund owed.
func (s *ReservationService) Cancel(ctx context.Context, reservationID string, actor domain.Actor, reason string) (*CancelResult, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}

	var refund *domain.Refund
	res, err := s.mutate(ctx, reservationID, func(res *domain.Reservation, now time.Time) (*pending, error) {
		to, err := s.authorize(res, actor, domain.ActionCancel)
		if err != nil {
			return nil, err
		}

		decision, err := lifecycle.ComputeRefund(res.Status, res.DesiredPickupTime, now, res.Cost)
		if err != nil {
			return nil, err
		}

		next := res.Clone()
		next.CancelledAt = &now
		next.CancelledBy = actor.Role
		next.CancelReason = reason

		refund = &domain.Refund{
			ID:             uuid.New().String(),
			ReservationID:  res.ID,
			Fraction:       decision.Fraction,
			Amount:         decision.Amount,
			Reason:         decision.Reason,
			Status:         domain.RefundStatusPending,
			IdempotencyKey: RefundIdempotencyKey(res.ID),
			CreatedAt:      now,
		}

		p := s.step(res, next, to, domain.ActionCancel, actor, now)
		p.change.Refund = refund
		p.events[0].Payload["reason"] = reason
		p.events = append(p.events, s.event(domain.EventRefundComputed, res.ID, now, map[string]any{
			"refund_id":   refund.ID,
			"customer_id": res.CustomerID,
			"fraction":    refund.Fraction,
			"amount":      refund.Amount,
			"cost":        res.Cost,
			"reason":      refund.Reason,
		}))
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return &CancelResult{Reservation: res, Refund: refund}, nil
}

// RefundIdempotencyKey is the key under which a reservation's single refund is recorded.
func RefundIdempotencyKey(reservationID string) string {
	return "refund:" + reservationID
}

// SubmitReview records the customer's rating of the driver and completes the
// reservation. A second review is ignored.
func (s *ReservationService) SubmitReview(ctx context.Context, reservationID string, actor domain.Actor, rating int, comment string) (*domain.Reservation, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}
	if !validRating(rating) {
		return nil, ErrInvalidRating
	}

	return s.mutate(ctx, reservationID, func(res *domain.Reservation, now time.Time) (*pending, error) {
		to, err := s.authorize(res, actor, domain.ActionSubmitReview)
		if err != nil {
			return nil, err
		}
		if res.Rating != nil {
			return nil, nil
		}

		next := res.Clone()
		next.Rating = &rating
		next.Comment = comment

		p := s.step(res, next, to, domain.ActionSubmitReview, actor, now)
		p.events[0].Payload["rating"] = rating
		return p, nil
	})
}

// RateClient records the driver's rating of the customer. A second rating is ignored.
func (s *ReservationService) RateClient(ctx context.Context, reservationID string, actor domain.Actor, rating int, comment string) (*domain.Reservation, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}
	if !validRating(rating) {
		return nil, ErrInvalidRating
	}

	return s.mutate(ctx, reservationID, func(res *domain.Reservation, now time.Time) (*pending, error) {
		to, err := s.authorize(res, actor, domain.ActionRateClient)
		if err != nil {
			return nil, err
		}
		if res.ClientRatingByDriver != nil {
			return nil, nil
		}

		next := res.Clone()
		next.ClientRatingByDriver = &rating
		next.ClientCommentByDriver = comment

		p := s.step(res, next, to, domain.ActionRateClient, actor, now)
		p.events[0].Payload["rating"] = rating
		return p, nil
	})
}

// UpdateDriverLocation stores the assigned driver's live position. Outside the
// driver-holding statuses the ping is dropped and false is returned.
func (s *ReservationService) UpdateDriverLocation(ctx context.Context, reservationID string, actor domain.Actor, p domain.Point) (bool, error) {
	return s.updateLocation(ctx, reservationID, actor, domain.PartyDriver, p)
}

// UpdateCustomerLocation stores the owning customer's live position. Outside the
// driver-holding statuses the ping is dropped and false is returned.
func (s *ReservationService) UpdateCustomerLocation(ctx context.Context, reservationID string, actor domain.Actor, p domain.Point) (bool, error) {
	return s.updateLocation(ctx, reservationID, actor, domain.PartyCustomer, p)
}

// updateLocation is last-writer-wins and takes no lock; the status guard is
// re-checked by the repository at write time.
func (s *ReservationService) updateLocation(ctx context.Context, reservationID string, actor domain.Actor, party domain.Party, p domain.Point) (bool, error) {
	if err := validateActor(actor); err != nil {
		return false, err
	}
	if reservationID == "" {
		return false, ErrInvalidReservationID
	}
	if !p.Valid() {
		return false, ErrInvalidLocation
	}

	want := domain.RoleDriver
	if party == domain.PartyCustomer {
		want = domain.RoleCustomer
	}
	if actor.Role != want {
		return false, ErrForbidden
	}

	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return false, err
	}
	if !res.Status.HoldsDriver() {
		return false, nil
	}
	if err := lifecycle.Authorize(res, actor); err != nil {
		return false, err
	}

	updated, err := s.reservations.UpdateLocation(ctx, reservationID, party, p, s.now())
	if err != nil || !updated {
		return false, err
	}

	if party == domain.PartyDriver && s.positions != nil {
		if err := s.positions.UpdateLocation(ctx, actor.ID, p); err != nil {
			log.Printf("Failed to index position of driver %s: %v", actor.ID, err)
		}
	}

	if latest, err := s.reservations.GetByID(ctx, reservationID); err == nil {
		s.hub.Publish(latest)
	}
	return true, nil
}

// pending is a validated change waiting to be written and announced.
type pending struct {
	change repository.Change
	events []domain.Event
}

// mutate loads the reservation under its lock and hands it to fn. fn returns
// the change to persist, or nil for a no-op. Nothing is written, published or
// emitted when fn fails.
func (s *ReservationService) mutate(ctx context.Context, reservationID string, fn func(res *domain.Reservation, now time.Time) (*pending, error)) (*domain.Reservation, error) {
	unlock, err := s.locker.Lock(ctx, lock.ReservationKey(reservationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p, err := fn(res, now)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return res, nil
	}

	if err := s.reservations.Apply(ctx, p.change); err != nil {
		if errors.Is(err, repository.ErrDriverBusy) {
			return nil, ErrDriverAlreadyBusy
		}
		return nil, err
	}

	s.hub.Publish(p.change.Reservation)

	// Emitted before unlocking so consumers see one reservation's events in order.
	for _, ev := range p.events {
		if err := s.emitter.Emit(ctx, ev); err != nil {
			log.Printf("[EVENT] failed to emit %s for reservation %s: %v", ev.Kind, ev.ReservationID, err)
		}
	}

	return p.change.Reservation.Clone(), nil
}

// authorize runs the transition table and the identity check.
func (s *ReservationService) authorize(res *domain.Reservation, actor domain.Actor, action domain.Action) (domain.Status, error) {
	to, err := lifecycle.Validate(res.Status, actor.Role, action)
	if err != nil {
		return "", err
	}
	if err := lifecycle.Authorize(res, actor); err != nil {
		return "", err
	}
	return to, nil
}

// step finishes next as the result of action and builds its history row and event.
func (s *ReservationService) step(prev, next *domain.Reservation, to domain.Status, action domain.Action, actor domain.Actor, now time.Time) *pending {
	next.Status = to
	next.UpdatedAt = now

	payload := map[string]any{
		"from":        string(prev.Status),
		"status":      string(to),
		"customer_id": next.CustomerID,
		"actor_role":  string(actor.Role),
		"actor_id":    actor.ID,
	}
	if next.AssignedDriverID != "" {
		payload["driver_id"] = next.AssignedDriverID
	}

	return &pending{
		change: repository.Change{
			Reservation: next,
			History: []domain.StatusChange{{
				ReservationID: prev.ID,
				From:          prev.Status,
				To:            to,
				Action:        action,
				ActorRole:     actor.Role,
				ActorID:       actor.ID,
				At:            now,
			}},
		},
		events: []domain.Event{s.event(domain.EventFor[action], prev.ID, now, payload)},
	}
}

func (s *ReservationService) event(kind domain.EventKind, reservationID string, now time.Time, payload map[string]any) domain.Event {
	return domain.Event{
		ID:            uuid.New().String(),
		Kind:          kind,
		ReservationID: reservationID,
		Payload:       payload,
		OccurredAt:    now,
	}
}

func validateActor(actor domain.Actor) error {
	if actor.ID == "" {
		return ErrInvalidActor
	}
	if _, ok := domain.ParseRole(string(actor.Role)); !ok {
		return ErrInvalidActor
	}
	return nil
}

func validRating(rating int) bool {
	return rating >= 1 && rating <= 5
}
