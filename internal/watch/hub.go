// Package watch fans reservation snapshots out to in-process subscribers.
package watch

import (
	"sync"

	"ridebook/internal/domain"
)

// Hub delivers the latest reservation snapshot to each subscriber. A slow
// subscriber only ever misses intermediate snapshots, never the newest one,
// and never blocks Publish.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch     chan *domain.Reservation
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers interest in one reservation. The returned cancel func
// removes the subscription and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(reservationID string) (<-chan *domain.Reservation, func()) {
	s := &subscriber{ch: make(chan *domain.Reservation, 1)}

	h.mu.Lock()
	set, ok := h.subs[reservationID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[reservationID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		close(s.ch)
		if set, ok := h.subs[reservationID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, reservationID)
			}
		}
	}
	return s.ch, cancel
}

// Publish hands a copy of res to every subscriber of res.ID.
func (h *Hub) Publish(res *domain.Reservation) {
	if res == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[res.ID] {
		snapshot := res.Clone()
		select {
		case s.ch <- snapshot:
			continue
		default:
		}
		// Buffer full: replace the stale snapshot with the new one.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snapshot:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions for a reservation.
func (h *Hub) Subscribers(reservationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[reservationID])
}
