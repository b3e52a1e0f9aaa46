package lifecycle

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebook/internal/domain"
)

var allRoles = []domain.Role{domain.RoleCustomer, domain.RoleDriver, domain.RoleManager, domain.RoleAdmin}

type pair struct {
	role   domain.Role
	status domain.Status
	action domain.Action
}

// expectedLegal is written out independently of the rules table.
func expectedLegal() map[pair]domain.Status {
	m := map[pair]domain.Status{
		{domain.RoleManager, domain.StatusPendingAssignment, domain.ActionAssign}: domain.StatusDriverAssigned,
		{domain.RoleAdmin, domain.StatusPendingAssignment, domain.ActionAssign}:   domain.StatusDriverAssigned,
		{domain.RoleManager, domain.StatusDriverRefused, domain.ActionAssign}:     domain.StatusDriverAssigned,
		{domain.RoleAdmin, domain.StatusDriverRefused, domain.ActionAssign}:       domain.StatusDriverAssigned,

		{domain.RoleDriver, domain.StatusDriverAssigned, domain.ActionAccept}:   domain.StatusDriverAccepted,
		{domain.RoleDriver, domain.StatusDriverAssigned, domain.ActionRefuse}:   domain.StatusDriverRefused,
		{domain.RoleDriver, domain.StatusDriverAccepted, domain.ActionStart}:    domain.StatusInProgress,
		{domain.RoleDriver, domain.StatusInProgress, domain.ActionComplete}:     domain.StatusAwaitingReview,
		{domain.RoleDriver, domain.StatusCompleted, domain.ActionRateClient}:    domain.StatusCompleted,
		{domain.RoleCustomer, domain.StatusAwaitingReview, domain.ActionSubmitReview}: domain.StatusCompleted,
		{domain.RoleCustomer, domain.StatusCompleted, domain.ActionSubmitReview}:      domain.StatusCompleted,
	}
	for _, s := range domain.Statuses {
		if s.IsTerminal() {
			continue
		}
		for _, r := range []domain.Role{domain.RoleCustomer, domain.RoleManager, domain.RoleAdmin} {
			m[pair{r, s, domain.ActionCancel}] = domain.StatusCancelled
		}
	}
	return m
}

func TestValidate_AcceptsExactlyTheListedPairs(t *testing.T) {
	legal := expectedLegal()

	for _, role := range allRoles {
		for _, status := range domain.Statuses {
			for _, action := range domain.Actions {
				p := pair{role, status, action}
				got, err := Validate(status, role, action)

				want, ok := legal[p]
				if ok {
					require.NoError(t, err, "%s by %s in %s", action, role, status)
					assert.Equal(t, want, got, "%s by %s in %s", action, role, status)
					continue
				}

				require.Error(t, err, "%s by %s in %s should be rejected", action, role, status)
				assert.True(t, errors.Is(err, ErrInvalidTransition))

				var te *TransitionError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, status, te.Status)
				assert.Equal(t, action, te.Action)
				assert.Equal(t, role, te.Role)
			}
		}
	}
}

func TestValidate_StartOnPendingIsInvalid(t *testing.T) {
	_, err := Validate(domain.StatusPendingAssignment, domain.RoleDriver, domain.ActionStart)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "pending_assignment")
	assert.Contains(t, err.Error(), "start")
}

func TestValidate_UnknownActionIsInvalid(t *testing.T) {
	_, err := Validate(domain.StatusPendingAssignment, domain.RoleAdmin, domain.Action("teleport"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidate_TerminalStatusesRejectEverythingButRatings(t *testing.T) {
	for _, role := range allRoles {
		for _, action := range domain.Actions {
			if action == domain.ActionRateClient || action == domain.ActionSubmitReview {
				continue
			}
			assert.False(t, Allowed(domain.StatusCompleted, role, action))
			assert.False(t, Allowed(domain.StatusCancelled, role, action))
		}
	}
}

func TestValidate_ResultsAreGraphEdges(t *testing.T) {
	for p, to := range expectedLegal() {
		if p.status == to {
			continue
		}
		assert.True(t, CanTransition(p.status, to), "%s -> %s", p.status, to)
	}
	assert.True(t, CanTransition(domain.StatusDriverRefused, domain.StatusPendingAssignment))
}

func TestCanTransition_RejectsBackwardEdges(t *testing.T) {
	cases := []struct{ from, to domain.Status }{
		{domain.StatusDriverAccepted, domain.StatusDriverAssigned},
		{domain.StatusInProgress, domain.StatusPendingAssignment},
		{domain.StatusAwaitingReview, domain.StatusInProgress},
		{domain.StatusCompleted, domain.StatusCancelled},
		{domain.StatusCancelled, domain.StatusPendingAssignment},
		{domain.StatusPendingAssignment, domain.StatusInProgress},
	}
	for _, tc := range cases {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

// TestRandomWalks drives random legal action sequences and checks every observed
// status change is an edge of the graph.
func TestRandomWalks(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for walk := 0; walk < 500; walk++ {
		status := domain.StatusPendingAssignment
		for step := 0; step < 20 && !status.IsTerminal(); step++ {
			role := allRoles[rng.Intn(len(allRoles))]
			action := domain.Actions[rng.Intn(len(domain.Actions))]

			next, err := Validate(status, role, action)
			if err != nil {
				continue
			}
			if next == domain.StatusDriverRefused {
				require.True(t, CanTransition(status, next))
				status, next = next, domain.StatusPendingAssignment
			}
			if next != status {
				require.True(t, CanTransition(status, next), "%s -> %s via %s", status, next, action)
			}
			status = next
		}
	}
}

func TestAvailableActions(t *testing.T) {
	assert.ElementsMatch(t,
		[]domain.Action{domain.ActionAccept, domain.ActionRefuse},
		AvailableActions(domain.StatusDriverAssigned, domain.RoleDriver))
	assert.ElementsMatch(t,
		[]domain.Action{domain.ActionAssign, domain.ActionCancel},
		AvailableActions(domain.StatusPendingAssignment, domain.RoleManager))
	assert.Empty(t, AvailableActions(domain.StatusCancelled, domain.RoleAdmin))
}

func TestAuthorize(t *testing.T) {
	r := &domain.Reservation{CustomerID: "c1", AssignedDriverID: "d1"}

	assert.NoError(t, Authorize(r, domain.Actor{ID: "d1", Role: domain.RoleDriver}))
	assert.ErrorIs(t, Authorize(r, domain.Actor{ID: "d2", Role: domain.RoleDriver}), ErrNotAssignedDriver)
	assert.NoError(t, Authorize(r, domain.Actor{ID: "c1", Role: domain.RoleCustomer}))
	assert.ErrorIs(t, Authorize(r, domain.Actor{ID: "c2", Role: domain.RoleCustomer}), ErrNotOwner)
	assert.NoError(t, Authorize(r, domain.Actor{ID: "m1", Role: domain.RoleManager}))

	unassigned := &domain.Reservation{CustomerID: "c1"}
	assert.ErrorIs(t, Authorize(unassigned, domain.Actor{ID: "", Role: domain.RoleDriver}), ErrNotAssignedDriver)
}
