package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"ridebook/internal/domain"
	"ridebook/internal/repository"
)

const uniqueViolation = "23505"

const activeDriverIndex = "reservations_one_active_per_driver"

const reservationColumns = `
	id, customer_id, assigned_driver_id, assigned_by_manager_id,
	pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
	desired_pickup_time, cost, paid, status, vehicle,
	created_at, updated_at, assigned_at, accepted_at, refused_at, started_at, completed_at, cancelled_at,
	cancelled_by, cancel_reason, rating, comment, client_rating_by_driver, client_comment_by_driver,
	driver_lat, driver_lng, customer_lat, customer_lng`

// ReservationRepository is a PostgreSQL implementation of repository.ReservationRepository.
type ReservationRepository struct {
	db *sql.DB
}

var _ repository.ReservationRepository = (*ReservationRepository)(nil)

// NewReservationRepository creates a new PostgreSQL reservation repository.
func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create persists a new reservation.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	query := `
		INSERT INTO reservations (id, customer_id, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address, desired_pickup_time, cost, paid, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		res.ID,
		res.CustomerID,
		res.Pickup.Lat,
		res.Pickup.Lng,
		res.Pickup.Address,
		res.Dropoff.Lat,
		res.Dropoff.Lng,
		res.Dropoff.Address,
		nullTime(res.DesiredPickupTime),
		res.Cost,
		res.Paid,
		res.Status,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if isUniqueViolation(err, "") {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a reservation by ID.
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	res, err := scanReservation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// List retrieves reservations matching the filter, newest first.
func (r *ReservationRepository) List(ctx context.Context, filter repository.ReservationFilter) ([]*domain.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.DriverID != "" {
		args = append(args, filter.DriverID)
		where = append(where, fmt.Sprintf("assigned_driver_id = $%d", len(args)))
	}
	if !filter.AssignedBefore.IsZero() {
		args = append(args, filter.AssignedBefore)
		where = append(where, fmt.Sprintf("assigned_at < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Apply writes the reservation row, its history and an optional refund in one transaction.
func (r *ReservationRepository) Apply(ctx context.Context, change repository.Change) error {
	return inTx(ctx, r.db, func(q Querier) error {
		return r.apply(ctx, q, change)
	})
}

func (r *ReservationRepository) apply(ctx context.Context, q Querier, change repository.Change) error {
	if err := updateReservation(ctx, q, change.Reservation); err != nil {
		return err
	}

	for _, h := range change.History {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO reservation_events (reservation_id, from_status, to_status, action, actor_role, actor_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			h.ReservationID, h.From, h.To, h.Action, h.ActorRole, nullString(h.ActorID), h.At,
		); err != nil {
			return err
		}
	}

	if change.Refund != nil {
		if err := insertRefund(ctx, q, change.Refund); err != nil {
			return err
		}
	}
	return nil
}

func updateReservation(ctx context.Context, q Querier, res *domain.Reservation) error {
	// A change of driver drops the previous driver's last position. Otherwise
	// positions are left to UpdateLocation.
	query := `
		UPDATE reservations
		SET driver_lat = CASE WHEN assigned_driver_id IS DISTINCT FROM $1 THEN NULL ELSE driver_lat END,
		    driver_lng = CASE WHEN assigned_driver_id IS DISTINCT FROM $1 THEN NULL ELSE driver_lng END,
		    assigned_driver_id = $1, assigned_by_manager_id = $2, paid = $3, status = $4, vehicle = $5,
		    updated_at = $6, assigned_at = $7, accepted_at = $8, refused_at = $9, started_at = $10,
		    completed_at = $11, cancelled_at = $12, cancelled_by = $13, cancel_reason = $14,
		    rating = $15, comment = $16, client_rating_by_driver = $17, client_comment_by_driver = $18
		WHERE id = $19
	`

	vehicle, err := encodeVehicle(res.Vehicle)
	if err != nil {
		return err
	}

	result, err := q.ExecContext(ctx, query,
		nullString(res.AssignedDriverID),
		nullString(res.AssignedByManagerID),
		res.Paid,
		res.Status,
		vehicle,
		res.UpdatedAt,
		nullTime(res.AssignedAt),
		nullTime(res.AcceptedAt),
		nullTime(res.RefusedAt),
		nullTime(res.StartedAt),
		nullTime(res.CompletedAt),
		nullTime(res.CancelledAt),
		nullString(string(res.CancelledBy)),
		nullString(res.CancelReason),
		nullInt(res.Rating),
		nullString(res.Comment),
		nullInt(res.ClientRatingByDriver),
		nullString(res.ClientCommentByDriver),
		res.ID,
	)
	if err != nil {
		if isUniqueViolation(err, activeDriverIndex) {
			return repository.ErrDriverBusy
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// MarkPaid sets the paid flag.
func (r *ReservationRepository) MarkPaid(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE reservations
		SET paid = TRUE, updated_at = CASE WHEN paid THEN updated_at ELSE $1 END
		WHERE id = $2`, at, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLocation overwrites one party's live position while the reservation holds a driver.
// The status guard lives in the WHERE clause, so no lock is needed.
func (r *ReservationRepository) UpdateLocation(ctx context.Context, id string, party domain.Party, p domain.Point, at time.Time) (bool, error) {
	var query string
	switch party {
	case domain.PartyDriver:
		query = `UPDATE reservations SET driver_lat = $1, driver_lng = $2, updated_at = $3 WHERE id = $4 AND status = ANY($5)`
	case domain.PartyCustomer:
		query = `UPDATE reservations SET customer_lat = $1, customer_lng = $2, updated_at = $3 WHERE id = $4 AND status = ANY($5)`
	default:
		return false, nil
	}

	statuses := make([]string, len(domain.ActiveDriverStatuses))
	for i, s := range domain.ActiveDriverStatuses {
		statuses[i] = string(s)
	}

	result, err := r.db.ExecContext(ctx, query, p.Lat, p.Lng, at, id, pq.Array(statuses))
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// GetActiveByDriverID retrieves the reservation the driver currently holds, or nil.
func (r *ReservationRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE assigned_driver_id = $1 AND status IN ('driver_assigned', 'driver_accepted', 'in_progress')
		LIMIT 1`

	res, err := scanReservation(r.db.QueryRowContext(ctx, query, driverID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// History returns the transition log of a reservation, oldest first.
func (r *ReservationRepository) History(ctx context.Context, id string) ([]domain.StatusChange, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT reservation_id, from_status, to_status, action, actor_role, COALESCE(actor_id, ''), created_at
		FROM reservation_events
		WHERE reservation_id = $1
		ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var h domain.StatusChange
		if err := rows.Scan(&h.ReservationID, &h.From, &h.To, &h.Action, &h.ActorRole, &h.ActorID, &h.At); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var res domain.Reservation
	var (
		assignedDriverID, assignedBy        sql.NullString
		cancelledBy, cancelReason           sql.NullString
		comment, clientComment              sql.NullString
		desiredPickup                       sql.NullTime
		assignedAt, acceptedAt, refusedAt   sql.NullTime
		startedAt, completedAt, cancelledAt sql.NullTime
		rating, clientRating                sql.NullInt64
		driverLat, driverLng                sql.NullFloat64
		customerLat, customerLng            sql.NullFloat64
		vehicle                             []byte
	)

	err := row.Scan(
		&res.ID,
		&res.CustomerID,
		&assignedDriverID,
		&assignedBy,
		&res.Pickup.Lat,
		&res.Pickup.Lng,
		&res.Pickup.Address,
		&res.Dropoff.Lat,
		&res.Dropoff.Lng,
		&res.Dropoff.Address,
		&desiredPickup,
		&res.Cost,
		&res.Paid,
		&res.Status,
		&vehicle,
		&res.CreatedAt,
		&res.UpdatedAt,
		&assignedAt,
		&acceptedAt,
		&refusedAt,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&cancelledBy,
		&cancelReason,
		&rating,
		&comment,
		&clientRating,
		&clientComment,
		&driverLat,
		&driverLng,
		&customerLat,
		&customerLng,
	)
	if err != nil {
		return nil, err
	}

	res.AssignedDriverID = assignedDriverID.String
	res.AssignedByManagerID = assignedBy.String
	res.CancelledBy = domain.Role(cancelledBy.String)
	res.CancelReason = cancelReason.String
	res.Comment = comment.String
	res.ClientCommentByDriver = clientComment.String

	res.DesiredPickupTime = toTimePtr(desiredPickup)
	res.AssignedAt = toTimePtr(assignedAt)
	res.AcceptedAt = toTimePtr(acceptedAt)
	res.RefusedAt = toTimePtr(refusedAt)
	res.StartedAt = toTimePtr(startedAt)
	res.CompletedAt = toTimePtr(completedAt)
	res.CancelledAt = toTimePtr(cancelledAt)

	res.Rating = toIntPtr(rating)
	res.ClientRatingByDriver = toIntPtr(clientRating)

	if driverLat.Valid && driverLng.Valid {
		res.DriverLocation = &domain.Point{Lat: driverLat.Float64, Lng: driverLng.Float64}
	}
	if customerLat.Valid && customerLng.Valid {
		res.CustomerLocation = &domain.Point{Lat: customerLat.Float64, Lng: customerLng.Float64}
	}

	if len(vehicle) > 0 {
		if err := json.Unmarshal(vehicle, &res.Vehicle); err != nil {
			return nil, fmt.Errorf("decode vehicle: %w", err)
		}
	}

	return &res, nil
}

func encodeVehicle(v domain.VehicleDetails) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func toIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
