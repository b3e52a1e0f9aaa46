package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebook/internal/domain"
)

type stubIssuer struct {
	ok    bool
	err   error
	calls int
}

func (s *stubIssuer) Refund(context.Context, *domain.Refund) (bool, error) {
	s.calls++
	return s.ok, s.err
}

func cancelledReservation(t *testing.T, f *fixture, cost float64) string {
	t.Helper()
	res := f.createReservation(t, cost, nil)
	_, err := f.svc.Cancel(context.Background(), res.ID, customer, "")
	require.NoError(t, err)
	return res.ID
}

func TestRefundService_ProcessRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := cancelledReservation(t, f, 40)

	svc := NewRefundService(f.store.Refunds(), NewMockRefundIssuer())

	refund, err := svc.GetRefund(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusPending, refund.Status)
	assert.Equal(t, 40.0, refund.Amount)

	refund, err = svc.ProcessRefund(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusIssued, refund.Status)

	_, err = svc.ProcessRefund(ctx, id)
	assert.ErrorIs(t, err, ErrRefundAlreadyProcessed)
}

func TestRefundService_IssuerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := cancelledReservation(t, f, 12.5)

	issuer := &stubIssuer{err: errors.New("psp timeout")}
	svc := NewRefundService(f.store.Refunds(), issuer)

	refund, err := svc.ProcessRefund(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusFailed, refund.Status)
	assert.Equal(t, 1, issuer.calls)
}

func TestRefundService_ZeroAmountSkipsIssuer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := cancelledReservation(t, f, 0)

	issuer := &stubIssuer{ok: true}
	svc := NewRefundService(f.store.Refunds(), issuer)

	refund, err := svc.ProcessRefund(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusIssued, refund.Status)
	assert.Zero(t, issuer.calls)
}

func TestRefundService_NotCancelled(t *testing.T) {
	f := newFixture(t)
	res := f.createReservation(t, 40, nil)
	svc := NewRefundService(f.store.Refunds(), NewMockRefundIssuer())

	_, err := svc.GetRefund(context.Background(), res.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetRefund(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidReservationID)
}
