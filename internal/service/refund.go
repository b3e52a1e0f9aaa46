package service

import (
	"context"
	"log"

	"ridebook/internal/domain"
	"ridebook/internal/repository"
)

// RefundIssuer is the payment provider side of a refund.
type RefundIssuer interface {
	Refund(ctx context.Context, refund *domain.Refund) (bool, error)
}

// MockRefundIssuer is a mock implementation of RefundIssuer. Always succeeds.
type MockRefundIssuer struct{}

// NewMockRefundIssuer creates a new mock issuer.
func NewMockRefundIssuer() *MockRefundIssuer {
	return &MockRefundIssuer{}
}

// Refund simulates paying a refund back.
func (i *MockRefundIssuer) Refund(ctx context.Context, refund *domain.Refund) (bool, error) {
	return true, nil
}

// RefundService reads the refund ledger and settles pending refunds.
type RefundService struct {
	refundRepo repository.RefundRepository
	issuer     RefundIssuer
}

// NewRefundService creates a new RefundService.
func NewRefundService(refundRepo repository.RefundRepository, issuer RefundIssuer) *RefundService {
	return &RefundService{
		refundRepo: refundRepo,
		issuer:     issuer,
	}
}

// GetRefund retrieves the refund recorded for a cancelled reservation.
func (s *RefundService) GetRefund(ctx context.Context, reservationID string) (*domain.Refund, error) {
	if reservationID == "" {
		return nil, ErrInvalidReservationID
	}

	return s.refundRepo.GetByReservationID(ctx, reservationID)
}

// ProcessRefund hands a pending refund to the issuer and records the outcome.
// Zero-amount refunds are marked issued without calling the issuer.
func (s *RefundService) ProcessRefund(ctx context.Context, reservationID string) (*domain.Refund, error) {
	refund, err := s.GetRefund(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	if refund.Status != domain.RefundStatusPending {
		return refund, ErrRefundAlreadyProcessed
	}

	success := true
	if refund.Amount > 0 {
		success, err = s.issuer.Refund(ctx, refund)
		if err != nil {
			log.Printf("Refund %s for reservation %s failed: %v", refund.ID, reservationID, err)
			success = false
		}
	}

	status := domain.RefundStatusIssued
	if !success {
		status = domain.RefundStatusFailed
	}

	if err := s.refundRepo.UpdateStatus(ctx, refund.ID, status); err != nil {
		return nil, err
	}
	refund.Status = status

	return refund, nil
}
