package postgres

import (
	"context"
	"database/sql"
	"errors"

	"ridebook/internal/domain"
	"ridebook/internal/repository"
)

// RefundRepository is a PostgreSQL implementation of repository.RefundRepository.
type RefundRepository struct {
	q Querier
}

var _ repository.RefundRepository = (*RefundRepository)(nil)

// NewRefundRepository creates a new PostgreSQL refund repository.
func NewRefundRepository(db *sql.DB) *RefundRepository {
	return &RefundRepository{q: db}
}

const refundColumns = `id, reservation_id, fraction, amount, reason, status, idempotency_key, created_at`

// insertRefund records a refund. A second refund for the same reservation is rejected
// by the unique constraints and surfaces as repository.ErrDuplicate.
func insertRefund(ctx context.Context, q Querier, refund *domain.Refund) error {
	query := `
		INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := q.ExecContext(ctx, query,
		refund.ID,
		refund.ReservationID,
		refund.Fraction,
		refund.Amount,
		refund.Reason,
		refund.Status,
		refund.IdempotencyKey,
		refund.CreatedAt,
	)
	if isUniqueViolation(err, "") {
		return repository.ErrDuplicate
	}
	return err
}

// GetByID retrieves a refund by ID.
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE id = $1`
	return scanRefund(r.q.QueryRowContext(ctx, query, id))
}

// GetByReservationID retrieves the refund issued for a reservation.
func (r *RefundRepository) GetByReservationID(ctx context.Context, reservationID string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE reservation_id = $1`
	return scanRefund(r.q.QueryRowContext(ctx, query, reservationID))
}

// UpdateStatus updates the status of a refund.
func (r *RefundRepository) UpdateStatus(ctx context.Context, id string, status domain.RefundStatus) error {
	query := `UPDATE refunds SET status = $1 WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, status, id)
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

func scanRefund(row rowScanner) (*domain.Refund, error) {
	var refund domain.Refund
	err := row.Scan(
		&refund.ID,
		&refund.ReservationID,
		&refund.Fraction,
		&refund.Amount,
		&refund.Reason,
		&refund.Status,
		&refund.IdempotencyKey,
		&refund.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &refund, nil
}
