package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/roles"
)

func userWith(r roles.Role) *auth.SessionData {
	return &auth.SessionData{UserID: "u-" + string(r), Role: r, FirstName: "Test", Email: "t@example.com"}
}

// roleSubsets enumerates every non-empty combination of roles.
func roleSubsets() []roles.Set {
	var out []roles.Set
	n := len(roles.All)
	for mask := 1; mask < 1<<n; mask++ {
		var members []roles.Role
		for i, r := range roles.All {
			if mask&(1<<i) != 0 {
				members = append(members, r)
			}
		}
		out = append(out, roles.NewSet(members...))
	}
	return out
}

func TestEvaluate_RendersIffRoleAllowed(t *testing.T) {
	for _, allowed := range roleSubsets() {
		for _, r := range roles.All {
			d := Evaluate(State{User: userWith(r)}, allowed)
			if allowed.Contains(r) {
				assert.Equal(t, Render, d.Outcome, "role %s allowed %v", r, allowed.Roles())
				assert.Empty(t, d.Location)
			} else {
				assert.Equal(t, Redirect, d.Outcome, "role %s allowed %v", r, allowed.Roles())
				assert.Equal(t, roles.HomePath(r), d.Location)
				assert.NotEqual(t, roles.LoginPath, d.Location)
				assert.Equal(t, ReasonForbidden, d.Reason)
			}
		}
	}
}

func TestEvaluate_UnauthenticatedAlwaysGoesToLogin(t *testing.T) {
	for _, allowed := range roleSubsets() {
		d := Evaluate(State{}, allowed)
		assert.Equal(t, Decision{Outcome: Redirect, Location: "/login", Reason: ReasonUnauthenticated}, d)
	}
}

func TestEvaluate_LoadingNeverRedirects(t *testing.T) {
	states := []State{
		{Loading: true},
		{Loading: true, User: userWith(roles.Admin)},
		{Loading: true, User: userWith(roles.Leader)},
	}
	for _, s := range states {
		for _, allowed := range roleSubsets() {
			d := Evaluate(s, allowed)
			assert.Equal(t, Loading, d.Outcome)
			assert.Empty(t, d.Location)
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	s := State{User: userWith(roles.MinistryAdmin)}
	allowed := roles.NewSet(roles.Admin)
	first := Evaluate(s, allowed)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(s, allowed))
	}
}

func TestEvaluate_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		allowed  roles.Set
		outcome  Outcome
		location string
	}{
		{
			name:     "anonymous on admin page",
			state:    State{User: nil},
			allowed:  roles.NewSet(roles.Admin),
			outcome:  Redirect,
			location: "/login",
		},
		{
			name:     "leader on admin page",
			state:    State{User: userWith(roles.Leader)},
			allowed:  roles.NewSet(roles.Admin),
			outcome:  Redirect,
			location: "/leader/dashboard",
		},
		{
			name:    "ministry admin on ministry admin page",
			state:   State{User: userWith(roles.MinistryAdmin)},
			allowed: roles.NewSet(roles.MinistryAdmin),
			outcome: Render,
		},
		{
			name:    "loading",
			state:   State{Loading: true},
			allowed: roles.NewSet(roles.Admin),
			outcome: Loading,
		},
		{
			name:     "admin on leader page",
			state:    State{User: userWith(roles.Admin)},
			allowed:  roles.NewSet(roles.Leader),
			outcome:  Redirect,
			location: "/admin/dashboard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.state, tt.allowed)
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.Equal(t, tt.location, d.Location)
		})
	}
}

func TestEvaluateLogin(t *testing.T) {
	assert.Equal(t, Loading, EvaluateLogin(State{Loading: true}).Outcome)
	assert.Equal(t, Render, EvaluateLogin(State{}).Outcome)

	for _, r := range roles.All {
		d := EvaluateLogin(State{User: userWith(r)})
		assert.Equal(t, Redirect, d.Outcome)
		assert.Equal(t, roles.HomePath(r), d.Location)
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "redirect", Redirect.String())
	assert.Equal(t, "render", Render.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
