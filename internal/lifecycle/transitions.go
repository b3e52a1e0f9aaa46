// Package lifecycle decides transition legality and refund policy. Nothing here performs I/O.
package lifecycle

import "ridebook/internal/domain"

// rule is one row of the transition table.
type rule struct {
	roles []domain.Role
	from  []domain.Status
	// to is the resulting status; empty keeps the current status.
	to domain.Status
}

// rules is the reservation state machine as code.
var rules = map[domain.Action]rule{
	domain.ActionAssign: {
		roles: []domain.Role{domain.RoleManager, domain.RoleAdmin},
		from:  []domain.Status{domain.StatusPendingAssignment, domain.StatusDriverRefused},
		to:    domain.StatusDriverAssigned,
	},
	domain.ActionAccept: {
		roles: []domain.Role{domain.RoleDriver},
		from:  []domain.Status{domain.StatusDriverAssigned},
		to:    domain.StatusDriverAccepted,
	},
	domain.ActionRefuse: {
		roles: []domain.Role{domain.RoleDriver},
		from:  []domain.Status{domain.StatusDriverAssigned},
		to:    domain.StatusDriverRefused,
	},
	domain.ActionStart: {
		roles: []domain.Role{domain.RoleDriver},
		from:  []domain.Status{domain.StatusDriverAccepted},
		to:    domain.StatusInProgress,
	},
	domain.ActionComplete: {
		roles: []domain.Role{domain.RoleDriver},
		from:  []domain.Status{domain.StatusInProgress},
		to:    domain.StatusAwaitingReview,
	},
	domain.ActionSubmitReview: {
		roles: []domain.Role{domain.RoleCustomer},
		from:  []domain.Status{domain.StatusAwaitingReview, domain.StatusCompleted},
		to:    domain.StatusCompleted,
	},
	domain.ActionRateClient: {
		roles: []domain.Role{domain.RoleDriver},
		from:  []domain.Status{domain.StatusCompleted},
	},
	domain.ActionCancel: {
		roles: []domain.Role{domain.RoleCustomer, domain.RoleManager, domain.RoleAdmin},
		from: []domain.Status{
			domain.StatusPendingAssignment,
			domain.StatusDriverAssigned,
			domain.StatusDriverRefused,
			domain.StatusDriverAccepted,
			domain.StatusInProgress,
			domain.StatusAwaitingReview,
		},
		to: domain.StatusCancelled,
	},
}

// edges is the directed status graph, including the automatic requeue step.
var edges = map[domain.Status][]domain.Status{
	domain.StatusPendingAssignment: {domain.StatusDriverAssigned, domain.StatusCancelled},
	domain.StatusDriverAssigned:    {domain.StatusDriverAccepted, domain.StatusDriverRefused, domain.StatusCancelled},
	domain.StatusDriverRefused:     {domain.StatusPendingAssignment, domain.StatusDriverAssigned, domain.StatusCancelled},
	domain.StatusDriverAccepted:    {domain.StatusInProgress, domain.StatusCancelled},
	domain.StatusInProgress:        {domain.StatusAwaitingReview, domain.StatusCancelled},
	domain.StatusAwaitingReview:    {domain.StatusCompleted, domain.StatusCancelled},
	domain.StatusCompleted:         {},
	domain.StatusCancelled:         {},
}

// Validate returns the status that results from role performing action in status,
// or a *TransitionError when the pair is not in the table.
func Validate(status domain.Status, role domain.Role, action domain.Action) (domain.Status, error) {
	r, ok := rules[action]
	if !ok || !containsRole(r.roles, role) || !containsStatus(r.from, status) {
		return "", &TransitionError{Status: status, Role: role, Action: action}
	}
	if r.to == "" {
		return status, nil
	}
	return r.to, nil
}

// Allowed reports whether role may perform action in status.
func Allowed(status domain.Status, role domain.Role, action domain.Action) bool {
	_, err := Validate(status, role, action)
	return err == nil
}

// AvailableActions lists what role may do next, so a caller can re-render after an error.
func AvailableActions(status domain.Status, role domain.Role) []domain.Action {
	var out []domain.Action
	for _, a := range domain.Actions {
		if Allowed(status, role, a) {
			out = append(out, a)
		}
	}
	return out
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to domain.Status) bool {
	return containsStatus(edges[from], to)
}

// Authorize checks the identity half of an action: drivers must hold the reservation
// and customers must own it. Managers and admins act on any reservation.
func Authorize(r *domain.Reservation, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleDriver:
		if r.AssignedDriverID == "" || r.AssignedDriverID != actor.ID {
			return ErrNotAssignedDriver
		}
	case domain.RoleCustomer:
		if r.CustomerID != actor.ID {
			return ErrNotOwner
		}
	}
	return nil
}

func containsRole(list []domain.Role, r domain.Role) bool {
	for _, v := range list {
		if v == r {
			return true
		}
	}
	return false
}

func containsStatus(list []domain.Status, s domain.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
