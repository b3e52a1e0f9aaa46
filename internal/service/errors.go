package service

import (
	"errors"

	"ridebook/internal/lifecycle"
	"ridebook/internal/repository"
)

// Lifecycle and repository errors, re-exported so callers need only this package.
var (
	ErrNotFound          = repository.ErrNotFound
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
	ErrAlreadyTerminal   = lifecycle.ErrAlreadyTerminal
	ErrNotAssignedDriver = lifecycle.ErrNotAssignedDriver
	ErrNotOwner          = lifecycle.ErrNotOwner
)

var (
	// ErrDriverOffline is returned when assigning a driver whose isOnline flag is false.
	ErrDriverOffline = errors.New("driver is offline")

	// ErrDriverAlreadyBusy is returned when the driver already holds an active reservation.
	ErrDriverAlreadyBusy = errors.New("driver already holds an active reservation")

	// ErrPaymentRequired is returned when assigning a reservation that has not been paid.
	ErrPaymentRequired = errors.New("reservation has not been paid")

	// ErrInvalidRating is returned when a rating is outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrForbidden is returned when the actor's role may not perform a non-lifecycle operation.
	ErrForbidden = errors.New("operation not permitted for this role")

	// ErrInvalidActor is returned when the actor has no ID or an unknown role.
	ErrInvalidActor = errors.New("invalid actor")

	// ErrInvalidReservationID is returned when reservation ID is empty.
	ErrInvalidReservationID = errors.New("invalid reservation id")

	// ErrInvalidCustomerID is returned when customer ID is empty.
	ErrInvalidCustomerID = errors.New("invalid customer id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidPickupLocation is returned when pickup coordinates are invalid.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDropoffLocation is returned when dropoff coordinates are invalid.
	ErrInvalidDropoffLocation = errors.New("invalid dropoff location")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidCost is returned when the cost is negative, not a number, or has more than two decimals.
	ErrInvalidCost = errors.New("invalid cost")

	// ErrInvalidDriverName is returned when a driver is registered without a name.
	ErrInvalidDriverName = errors.New("invalid driver name")

	// ErrInvalidPhone is returned when a driver is registered without a phone number.
	ErrInvalidPhone = errors.New("invalid phone")

	// ErrInvalidRadius is returned when a nearby search radius is not positive.
	ErrInvalidRadius = errors.New("invalid search radius")

	// ErrLocationIndexUnavailable is returned when no driver position index is configured.
	ErrLocationIndexUnavailable = errors.New("driver location index unavailable")

	// ErrRefundAlreadyProcessed is returned when processing a refund that is no longer pending.
	ErrRefundAlreadyProcessed = errors.New("refund already processed")
)
