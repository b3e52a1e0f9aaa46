package repository

import (
	"context"

	"ridebook/internal/domain"
)

// RefundRepository defines the persistence operations for refunds.
// Refunds are created through ReservationRepository.Apply together with the cancellation.
type RefundRepository interface {
	// GetByID retrieves a refund by ID.
	GetByID(ctx context.Context, id string) (*domain.Refund, error)

	// GetByReservationID retrieves the refund issued for a reservation.
	GetByReservationID(ctx context.Context, reservationID string) (*domain.Refund, error)

	// UpdateStatus updates the status of a refund.
	UpdateStatus(ctx context.Context, id string, status domain.RefundStatus) error
}
