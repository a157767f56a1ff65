// Package access decides what a visitor sees when they request a page.
//
// Every decision is a pure function of the session state and the route's
// allowed roles, so the same inputs always produce the same outcome.
package access

import (
	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/roles"
)

// Outcome is what the caller should do with a page request.
type Outcome int

const (
	// Loading means the session is still being resolved. Show a spinner and
	// evaluate again once the session changes.
	Loading Outcome = iota
	// Redirect sends the visitor to Decision.Location.
	Redirect
	// Render shows the requested page.
	Render
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	case Render:
		return "render"
	default:
		return "unknown"
	}
}

// Reason explains a Decision.
type Reason string

const (
	ReasonPending         Reason = "pending"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonForbidden       Reason = "forbidden"
	ReasonAuthorized      Reason = "authorized"
	ReasonAuthenticated   Reason = "authenticated"
	ReasonAnonymous       Reason = "anonymous"
	ReasonPublic          Reason = "public"
)

// State is a snapshot of the current session.
type State struct {
	Loading bool
	User    *auth.SessionData
}

// Decision is the result of evaluating a gate.
type Decision struct {
	Outcome  Outcome
	Location string
	Reason   Reason
}

// Evaluate runs the protected-page gate. Allowed must not be empty.
func Evaluate(state State, allowed roles.Set) Decision {
	if state.Loading {
		return Decision{Outcome: Loading, Reason: ReasonPending}
	}
	if state.User == nil {
		return Decision{Outcome: Redirect, Location: roles.LoginPath, Reason: ReasonUnauthenticated}
	}
	if !allowed.Contains(state.User.Role) {
		return Decision{Outcome: Redirect, Location: roles.HomePath(state.User.Role), Reason: ReasonForbidden}
	}
	return Decision{Outcome: Render, Reason: ReasonAuthorized}
}

// EvaluateLogin runs the gate in front of the login form: signed-in users
// are sent to their dashboard instead.
func EvaluateLogin(state State) Decision {
	if state.Loading {
		return Decision{Outcome: Loading, Reason: ReasonPending}
	}
	if state.User != nil {
		return Decision{Outcome: Redirect, Location: roles.HomePath(state.User.Role), Reason: ReasonAuthenticated}
	}
	return Decision{Outcome: Render, Reason: ReasonAnonymous}
}
