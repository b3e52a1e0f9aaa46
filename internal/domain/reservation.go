package domain

import "time"

// Status represents the lifecycle state of a reservation.
type Status string

const (
	StatusPendingAssignment Status = "pending_assignment"
	StatusDriverAssigned    Status = "driver_assigned"
	StatusDriverRefused     Status = "driver_refused"
	StatusDriverAccepted    Status = "driver_accepted"
	StatusInProgress        Status = "in_progress"
	StatusAwaitingReview    Status = "awaiting_review"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

// Statuses lists every lifecycle state, in graph order.
var Statuses = []Status{
	StatusPendingAssignment,
	StatusDriverAssigned,
	StatusDriverRefused,
	StatusDriverAccepted,
	StatusInProgress,
	StatusAwaitingReview,
	StatusCompleted,
	StatusCancelled,
}

// ParseStatus converts a raw value into a Status.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HoldsDriver reports whether a reservation in this status keeps its driver busy.
func (s Status) HoldsDriver() bool {
	return s == StatusDriverAssigned || s == StatusDriverAccepted || s == StatusInProgress
}

// ActiveDriverStatuses are the statuses in which the assigned driver is busy.
var ActiveDriverStatuses = []Status{StatusDriverAssigned, StatusDriverAccepted, StatusInProgress}

// Point is a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinates are within range.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Place is a pickup or dropoff location.
type Place struct {
	Point
	Address string `json:"address,omitempty"`
}

// Party identifies whose live position is being reported.
type Party string

const (
	PartyDriver   Party = "driver"
	PartyCustomer Party = "customer"
)

// Reservation represents one ride order from booking to completion or cancellation.
type Reservation struct {
	ID                  string
	CustomerID          string
	AssignedDriverID    string // empty when no driver holds the reservation
	AssignedByManagerID string

	Pickup            Place
	Dropoff           Place
	DesiredPickupTime *time.Time // nil means an immediate ride

	Cost float64
	Paid bool

	Status  Status
	Vehicle VehicleDetails // snapshot taken at assignment time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	AssignedAt  *time.Time
	AcceptedAt  *time.Time
	RefusedAt   *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CancelledBy  Role
	CancelReason string

	Rating                *int
	Comment               string
	ClientRatingByDriver  *int
	ClientCommentByDriver string

	DriverLocation   *Point
	CustomerLocation *Point
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.DesiredPickupTime = cloneTime(r.DesiredPickupTime)
	c.AssignedAt = cloneTime(r.AssignedAt)
	c.AcceptedAt = cloneTime(r.AcceptedAt)
	c.RefusedAt = cloneTime(r.RefusedAt)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	c.Vehicle = r.Vehicle.Clone()
	if r.Rating != nil {
		v := *r.Rating
		c.Rating = &v
	}
	if r.ClientRatingByDriver != nil {
		v := *r.ClientRatingByDriver
		c.ClientRatingByDriver = &v
	}
	if r.DriverLocation != nil {
		p := *r.DriverLocation
		c.DriverLocation = &p
	}
	if r.CustomerLocation != nil {
		p := *r.CustomerLocation
		c.CustomerLocation = &p
	}
	return &c
}

// StatusChange is one entry of a reservation's transition history.
type StatusChange struct {
	ReservationID string
	From          Status
	To            Status
	Action        Action
	ActorRole     Role
	ActorID       string
	At            time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
