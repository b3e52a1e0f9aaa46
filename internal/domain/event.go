package domain

import "time"

// EventKind is the type of a lifecycle event.
type EventKind string

const (
	EventAssigned        EventKind = "ASSIGNED"
	EventAccepted        EventKind = "ACCEPTED"
	EventRefused         EventKind = "REFUSED"
	EventStarted         EventKind = "STARTED"
	EventCompleted       EventKind = "COMPLETED"
	EventReviewSubmitted EventKind = "REVIEW_SUBMITTED"
	EventClientRated     EventKind = "CLIENT_RATED"
	EventCancelled       EventKind = "CANCELLED"
	EventRefundComputed  EventKind = "REFUND_COMPUTED"
)

// EventFor maps an action to the event it emits.
var EventFor = map[Action]EventKind{
	ActionAssign:       EventAssigned,
	ActionAccept:       EventAccepted,
	ActionRefuse:       EventRefused,
	ActionStart:        EventStarted,
	ActionComplete:     EventCompleted,
	ActionSubmitReview: EventReviewSubmitted,
	ActionRateClient:   EventClientRated,
	ActionCancel:       EventCancelled,
}

// Event is a lifecycle fact handed to downstream notification and audit consumers.
type Event struct {
	ID            string         `json:"id"`
	Kind          EventKind      `json:"kind"`
	ReservationID string         `json:"reservation_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}
