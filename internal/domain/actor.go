package domain

// Role is the kind of actor submitting an action.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole converts a raw role claim into a Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCustomer, RoleDriver, RoleManager, RoleAdmin:
		return Role(s), true
	default:
		return "", false
	}
}

// Actor identifies who performs an action. It is always passed explicitly.
type Actor struct {
	ID   string
	Role Role
}

// Action is a requested lifecycle operation.
type Action string

const (
	ActionAssign       Action = "assign"
	ActionAccept       Action = "accept"
	ActionRefuse       Action = "refuse"
	ActionStart        Action = "start"
	ActionComplete     Action = "complete"
	ActionSubmitReview Action = "submit_review"
	ActionRateClient   Action = "rate_client"
	ActionCancel       Action = "cancel"

	// ActionRequeue is the automatic driver_refused -> pending_assignment step.
	ActionRequeue Action = "requeue"
)

// Actions lists the actor-submitted actions.
var Actions = []Action{
	ActionAssign,
	ActionAccept,
	ActionRefuse,
	ActionStart,
	ActionComplete,
	ActionSubmitReview,
	ActionRateClient,
	ActionCancel,
}
