package service

import (
	"context"
	"log"
	"time"

	"ridebook/internal/domain"
	"ridebook/internal/repository"
)

// StaleHook is called for every assignment that has waited longer than the
// threshold for the driver's answer.
type StaleHook func(ctx context.Context, reservationID string, elapsed time.Duration)

// LogStaleAssignment is the default hook. It only logs; nothing is auto-refused.
func LogStaleAssignment(ctx context.Context, reservationID string, elapsed time.Duration) {
	log.Printf("[STALE] reservation %s has waited %s for driver acceptance", reservationID, elapsed.Round(time.Second))
}

// StaleMonitor periodically looks for driver_assigned reservations whose
// driver has not answered.
type StaleMonitor struct {
	reservations repository.ReservationRepository
	threshold    time.Duration
	interval     time.Duration
	hook         StaleHook
	now          func() time.Time
}

// NewStaleMonitor creates a new StaleMonitor. A nil hook means LogStaleAssignment.
func NewStaleMonitor(reservations repository.ReservationRepository, threshold, interval time.Duration, hook StaleHook) *StaleMonitor {
	if hook == nil {
		hook = LogStaleAssignment
	}
	return &StaleMonitor{
		reservations: reservations,
		threshold:    threshold,
		interval:     interval,
		hook:         hook,
		now:          time.Now,
	}
}

// OnAssignmentStale replaces the hook.
func (m *StaleMonitor) OnAssignmentStale(hook StaleHook) {
	m.hook = hook
}

// Run scans every interval until ctx is done.
func (m *StaleMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Scan(ctx, m.now()); err != nil && ctx.Err() == nil {
				log.Printf("[STALE] scan failed: %v", err)
			}
		}
	}
}

// Scan calls the hook for each stale assignment as of now and returns how many it found.
func (m *StaleMonitor) Scan(ctx context.Context, now time.Time) (int, error) {
	stale, err := m.reservations.List(ctx, repository.ReservationFilter{
		Statuses:       []domain.Status{domain.StatusDriverAssigned},
		AssignedBefore: now.Add(-m.threshold),
		Limit:          500,
	})
	if err != nil {
		return 0, err
	}

	for _, res := range stale {
		if res.AssignedAt == nil {
			continue
		}
		m.hook(ctx, res.ID, now.Sub(*res.AssignedAt))
	}
	return len(stale), nil
}
