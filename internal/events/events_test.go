package events

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebook/internal/domain"
)

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	var first, second Recorder
	boom := errors.New("boom")

	fan := Fanout{
		&first,
		EmitterFunc(func(context.Context, domain.Event) error { return boom }),
		nil,
		&second,
	}

	err := fan.Emit(context.Background(), domain.Event{Kind: domain.EventAssigned, ReservationID: "r1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestRecorder_KindsFiltersByReservation(t *testing.T) {
	var rec Recorder
	ctx := context.Background()

	require.NoError(t, rec.Emit(ctx, domain.Event{Kind: domain.EventAssigned, ReservationID: "r1"}))
	require.NoError(t, rec.Emit(ctx, domain.Event{Kind: domain.EventAssigned, ReservationID: "r2"}))
	require.NoError(t, rec.Emit(ctx, domain.Event{Kind: domain.EventAccepted, ReservationID: "r1"}))

	assert.Equal(t, []domain.EventKind{domain.EventAssigned, domain.EventAccepted}, rec.Kinds("r1"))
	assert.Len(t, rec.Kinds(""), 3)

	rec.Reset()
	assert.Empty(t, rec.Events())
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "reservation.refund_computed", RoutingKey(domain.EventRefundComputed))
	assert.Equal(t, "reservation.assigned", RoutingKey(domain.EventAssigned))
}

func TestRabbitPublisher_Emit(t *testing.T) {
	url := os.Getenv("RABBITMQ_TEST_URL")
	if url == "" {
		t.Skip("RABBITMQ_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pub, err := NewRabbitPublisher(ctx, RabbitConfig{URL: url, Exchange: "reservations.test", MaxRetries: 1})
	require.NoError(t, err)

	err = pub.Emit(ctx, domain.Event{
		ID:            "e1",
		Kind:          domain.EventCancelled,
		ReservationID: "r1",
		OccurredAt:    time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Emit(ctx, domain.Event{Kind: domain.EventCancelled}), ErrPublisherClosed)
}

func TestRabbitPublisher_EmitWhileDisconnected(t *testing.T) {
	pub := &RabbitPublisher{exchange: "reservations.test", done: make(chan struct{})}
	ctx := context.Background()

	assert.ErrorIs(t, pub.Emit(ctx, domain.Event{Kind: domain.EventAssigned}), ErrBrokerUnavailable)

	require.NoError(t, pub.Close())
	assert.ErrorIs(t, pub.Emit(ctx, domain.Event{Kind: domain.EventAssigned}), ErrPublisherClosed)
}

func TestNextDelay(t *testing.T) {
	assert.Equal(t, 150*time.Millisecond, nextDelay(100*time.Millisecond))
	assert.Equal(t, maxReconnectDelay, nextDelay(25*time.Second))
}

func TestRabbitPublisher_ReconnectsAfterConnectionLoss(t *testing.T) {
	url := os.Getenv("RABBITMQ_TEST_URL")
	if url == "" {
		t.Skip("RABBITMQ_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pub, err := NewRabbitPublisher(ctx, RabbitConfig{
		URL:          url,
		Exchange:     "reservations.test",
		MaxRetries:   1,
		InitialDelay: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer pub.Close()

	pub.mu.Lock()
	conn := pub.conn
	pub.mu.Unlock()
	require.NoError(t, conn.Close())

	event := domain.Event{ID: "e2", Kind: domain.EventAssigned, ReservationID: "r1", OccurredAt: time.Now()}
	require.Eventually(t, func() bool {
		return pub.Emit(ctx, event) == nil
	}, 10*time.Second, 50*time.Millisecond)

	pub.mu.Lock()
	assert.NotSame(t, conn, pub.conn)
	pub.mu.Unlock()
}
