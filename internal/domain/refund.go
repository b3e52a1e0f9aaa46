package domain

import "time"

// RefundStatus represents the processing state of a refund.
type RefundStatus string

const (
	RefundStatusPending RefundStatus = "PENDING"
	RefundStatusIssued  RefundStatus = "ISSUED"
	RefundStatusFailed  RefundStatus = "FAILED"
)

// Refund records the amount owed back to a customer after a cancellation.
// The refund collaborator acts on it; the engine never captures money itself.
type Refund struct {
	ID             string
	ReservationID  string
	Fraction       float64
	Amount         float64
	Reason         string
	Status         RefundStatus
	IdempotencyKey string
	CreatedAt      time.Time
}
