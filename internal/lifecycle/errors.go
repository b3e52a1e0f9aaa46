package lifecycle

import (
	"errors"
	"fmt"

	"ridebook/internal/domain"
)

var (
	// ErrInvalidTransition is returned when the (role, status) pair does not allow the action.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyTerminal is returned when a refund is computed for a finished reservation.
	ErrAlreadyTerminal = errors.New("reservation already terminal")

	// ErrNotAssignedDriver is returned when a driver acts on a reservation they do not hold.
	ErrNotAssignedDriver = errors.New("driver is not assigned to this reservation")

	// ErrNotOwner is returned when a customer acts on a reservation they do not own.
	ErrNotOwner = errors.New("customer does not own this reservation")
)

// TransitionError carries the diagnostics of a rejected transition.
type TransitionError struct {
	Status domain.Status
	Role   domain.Role
	Action domain.Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s by %s not allowed in status %s", e.Action, e.Role, e.Status)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
