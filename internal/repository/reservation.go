package repository

import (
	"context"
	"time"

	"ridebook/internal/domain"
)

// Change is one all-or-nothing write: the new reservation state, the history rows
// describing how it got there and, on cancellation, the refund record.
type Change struct {
	Reservation *domain.Reservation
	History     []domain.StatusChange
	Refund      *domain.Refund
}

// ReservationFilter narrows List results. Zero values match everything.
type ReservationFilter struct {
	Statuses       []domain.Status
	CustomerID     string
	DriverID       string
	AssignedBefore time.Time
	Limit          int
}

// ReservationRepository defines the persistence operations for reservations.
type ReservationRepository interface {
	// Create persists a new reservation.
	Create(ctx context.Context, r *domain.Reservation) error

	// GetByID retrieves a reservation by ID.
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// List retrieves reservations matching the filter, newest first.
	List(ctx context.Context, filter ReservationFilter) ([]*domain.Reservation, error)

	// Apply writes a Change atomically. Returns ErrDriverBusy when the assigned driver
	// already holds another active reservation.
	Apply(ctx context.Context, change Change) error

	// MarkPaid sets the paid flag. Returns ErrNotFound for unknown IDs.
	MarkPaid(ctx context.Context, id string, at time.Time) error

	// UpdateLocation overwrites the live position of one party, but only while the
	// reservation is in a driver-holding status. Reports whether a row was updated.
	UpdateLocation(ctx context.Context, id string, party domain.Party, p domain.Point, at time.Time) (bool, error)

	// GetActiveByDriverID retrieves the reservation the driver currently holds.
	// Returns nil if the driver is free.
	GetActiveByDriverID(ctx context.Context, driverID string) (*domain.Reservation, error)

	// History returns the transition log of a reservation, oldest first.
	History(ctx context.Context, id string) ([]domain.StatusChange, error)
}
