// Package events delivers lifecycle events to downstream consumers.
package events

import (
	"context"
	"errors"
	"sync"

	"ridebook/internal/domain"
)

// Emitter accepts lifecycle events. Implementations must not block for long:
// the engine calls Emit while it still holds the reservation lock.
type Emitter interface {
	Emit(ctx context.Context, event domain.Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, event domain.Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Fanout delivers each event to every emitter and joins their errors.
type Fanout []Emitter

// Emit delivers event to all emitters, even if an earlier one fails.
func (f Fanout) Emit(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(context.Context, domain.Event) error { return nil })

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Emit records event.
func (r *Recorder) Emit(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events, optionally limited to one reservation.
func (r *Recorder) Kinds(reservationID string) []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.EventKind
	for _, e := range r.events {
		if reservationID == "" || e.ReservationID == reservationID {
			out = append(out, e.Kind)
		}
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
