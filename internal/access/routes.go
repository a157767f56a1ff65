package access

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flock-dev/flock/internal/roles"
)

var (
	ErrNoRoles     = errors.New("protected route has no allowed roles")
	ErrDuplicate   = errors.New("duplicate route path")
	ErrInvalidPath = errors.New("route path must start with /")
	ErrNoRoute     = errors.New("no route matches path")
)

// Kind says which gate guards a route.
type Kind int

const (
	Protected Kind = iota
	Public
	LoginForm
)

// Route maps a page path to the template that renders it and the roles allowed to see it.
type Route struct {
	Path  string
	Page  string
	Title string
	Kind  Kind
	Roles roles.Set
}

// Table is the immutable set of page routes.
type Table struct {
	routes []Route
}

// NewTable validates routes and builds a Table. Paths may contain ":name"
// segments that match any single path segment.
func NewTable(routes ...Route) (*Table, error) {
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, r.Path)
		}
		if seen[r.Path] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, r.Path)
		}
		seen[r.Path] = true
		if r.Kind == Protected && r.Roles.Empty() {
			return nil, fmt.Errorf("%w: %s", ErrNoRoles, r.Path)
		}
	}
	out := make([]Route, len(routes))
	copy(out, routes)
	return &Table{routes: out}, nil
}

// Routes returns a copy of the table's routes in declaration order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Match finds the route for path. Literal routes win over parameterized ones.
func (t *Table) Match(path string) (Route, map[string]string, bool) {
	path = normalize(path)
	var (
		best       Route
		bestParams map[string]string
		bestScore  = -1
	)
	for _, r := range t.routes {
		params, score, ok := match(r.Path, path)
		if ok && score > bestScore {
			best, bestParams, bestScore = r, params, score
		}
	}
	return best, bestParams, bestScore >= 0
}

// Authorize matches path and runs the route's gate against state.
func (t *Table) Authorize(path string, state State) (Decision, Route, error) {
	r, _, ok := t.Match(path)
	if !ok {
		return Decision{}, Route{}, fmt.Errorf("%w: %s", ErrNoRoute, path)
	}
	return Check(r, state), r, nil
}

// Check runs the gate that guards r.
func Check(r Route, state State) Decision {
	switch r.Kind {
	case Public:
		return Decision{Outcome: Render, Reason: ReasonPublic}
	case LoginForm:
		return EvaluateLogin(state)
	default:
		return Evaluate(state, r.Roles)
	}
}

func normalize(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// match returns the number of literal segments matched so that more
// specific routes score higher.
func match(pattern, path string) (map[string]string, int, bool) {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return nil, 0, false
	}
	var params map[string]string
	score := 0
	for i, seg := range ps {
		if strings.HasPrefix(seg, ":") {
			if xs[i] == "" {
				return nil, 0, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = xs[i]
			continue
		}
		if seg != xs[i] {
			return nil, 0, false
		}
		score++
	}
	return params, score, true
}

var (
	adminOnly     = roles.NewSet(roles.Admin)
	ministryAdmin = roles.NewSet(roles.Admin, roles.MinistryAdmin)
	ministryStaff = roles.NewSet(roles.Admin, roles.MinistryAdmin, roles.Leader)
	leaderOnly    = roles.NewSet(roles.Leader)
)

// DefaultRoutes returns the page routes served by the web app.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/", Page: "home", Title: "Welcome", Kind: Public},
		{Path: "/join/:slug", Page: "join", Title: "Join us", Kind: Public},
		{Path: roles.LoginPath, Page: "login", Title: "Sign in", Kind: LoginForm},

		{Path: roles.AdminDashboardPath, Page: "admin_dashboard", Title: "Platform dashboard", Roles: adminOnly},
		{Path: "/admin/ministries", Page: "admin_ministries", Title: "Ministries", Roles: adminOnly},

		{Path: roles.MinistryAdminDashboardPath, Page: "ministry_dashboard", Title: "Ministry dashboard", Roles: roles.NewSet(roles.MinistryAdmin)},
		{Path: "/ministry-admin/leaders", Page: "ministry_leaders", Title: "Leaders", Roles: ministryAdmin},
		{Path: "/ministry-admin/people/:kind", Page: "people", Title: "People", Roles: ministryStaff},

		{Path: roles.LeaderDashboardPath, Page: "leader_dashboard", Title: "Leader dashboard", Roles: leaderOnly},
		{Path: "/leader/follow-ups", Page: "follow_ups", Title: "Follow-ups", Roles: roles.NewSet(roles.MinistryAdmin, roles.Leader)},
	}
}

// DefaultTable builds the Table for DefaultRoutes. It panics if the
// built-in routes are invalid.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRoutes()...)
	if err != nil {
		panic(err)
	}
	return t
}
