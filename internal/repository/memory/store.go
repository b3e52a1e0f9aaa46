// Package memory holds in-process repository implementations used for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridebook/internal/domain"
	"ridebook/internal/repository"
)

// Store keeps reservations, their history and refunds behind one mutex so that
// Apply is atomic in the same way a database transaction is.
type Store struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation
	history      map[string][]domain.StatusChange
	refunds      map[string]*domain.Refund // keyed by refund ID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		reservations: make(map[string]*domain.Reservation),
		history:      make(map[string][]domain.StatusChange),
		refunds:      make(map[string]*domain.Refund),
	}
}

// Reservations returns the reservation repository view of the store.
func (s *Store) Reservations() *ReservationRepository {
	return &ReservationRepository{s: s}
}

// Refunds returns the refund repository view of the store.
func (s *Store) Refunds() *RefundRepository {
	return &RefundRepository{s: s}
}

// ReservationRepository is an in-memory implementation of repository.ReservationRepository.
type ReservationRepository struct {
	s *Store
}

var _ repository.ReservationRepository = (*ReservationRepository)(nil)

func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.reservations[res.ID]; ok {
		return repository.ErrDuplicate
	}
	r.s.reservations[res.ID] = res.Clone()
	return nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return res.Clone(), nil
}

func (r *ReservationRepository) List(ctx context.Context, filter repository.ReservationFilter) ([]*domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*domain.Reservation, 0)
	for _, res := range r.s.reservations {
		if matches(res, filter) {
			out = append(out, res.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *ReservationRepository) Apply(ctx context.Context, change repository.Change) error {
	res := change.Reservation

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.reservations[res.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if res.Status.HoldsDriver() && res.AssignedDriverID != "" {
		for id, other := range r.s.reservations {
			if id != res.ID && other.AssignedDriverID == res.AssignedDriverID && other.Status.HoldsDriver() {
				return repository.ErrDriverBusy
			}
		}
	}

	// Positions belong to UpdateLocation; a change of driver drops the old one.
	next := res.Clone()
	next.CustomerLocation = stored.CustomerLocation
	next.DriverLocation = stored.DriverLocation
	if stored.AssignedDriverID != res.AssignedDriverID {
		next.DriverLocation = nil
	}
	r.s.reservations[res.ID] = next
	r.s.history[res.ID] = append(r.s.history[res.ID], change.History...)
	if change.Refund != nil {
		ref := *change.Refund
		r.s.refunds[ref.ID] = &ref
	}
	return nil
}

func (r *ReservationRepository) MarkPaid(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.reservations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !res.Paid {
		res.Paid = true
		res.UpdatedAt = at
	}
	return nil
}

func (r *ReservationRepository) UpdateLocation(ctx context.Context, id string, party domain.Party, p domain.Point, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.reservations[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !res.Status.HoldsDriver() {
		return false, nil
	}
	pt := p
	switch party {
	case domain.PartyDriver:
		res.DriverLocation = &pt
	case domain.PartyCustomer:
		res.CustomerLocation = &pt
	default:
		return false, nil
	}
	res.UpdatedAt = at
	return true, nil
}

func (r *ReservationRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, res := range r.s.reservations {
		if res.AssignedDriverID == driverID && res.Status.HoldsDriver() {
			return res.Clone(), nil
		}
	}
	return nil, nil
}

func (r *ReservationRepository) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if _, ok := r.s.reservations[id]; !ok {
		return nil, repository.ErrNotFound
	}
	out := make([]domain.StatusChange, len(r.s.history[id]))
	copy(out, r.s.history[id])
	return out, nil
}

func matches(res *domain.Reservation, f repository.ReservationFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if res.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CustomerID != "" && res.CustomerID != f.CustomerID {
		return false
	}
	if f.DriverID != "" && res.AssignedDriverID != f.DriverID {
		return false
	}
	if !f.AssignedBefore.IsZero() && (res.AssignedAt == nil || !res.AssignedAt.Before(f.AssignedBefore)) {
		return false
	}
	return true
}

// RefundRepository is an in-memory implementation of repository.RefundRepository.
type RefundRepository struct {
	s *Store
}

var _ repository.RefundRepository = (*RefundRepository)(nil)

func (r *RefundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ref, ok := r.s.refunds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *ref
	return &c, nil
}

func (r *RefundRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Refund, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, ref := range r.s.refunds {
		if ref.ReservationID == reservationID {
			c := *ref
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *RefundRepository) UpdateStatus(ctx context.Context, id string, status domain.RefundStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ref, ok := r.s.refunds[id]
	if !ok {
		return repository.ErrNotFound
	}
	ref.Status = status
	return nil
}
