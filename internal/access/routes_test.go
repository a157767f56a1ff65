package access

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flock-dev/flock/internal/roles"
)

func TestNewTable_RejectsProtectedRouteWithoutRoles(t *testing.T) {
	_, err := NewTable(Route{Path: "/secret", Page: "secret"})
	assert.ErrorIs(t, err, ErrNoRoles)
}

func TestNewTable_RejectsDuplicates(t *testing.T) {
	_, err := NewTable(
		Route{Path: "/", Kind: Public},
		Route{Path: "/", Kind: Public},
	)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestNewTable_RejectsRelativePath(t *testing.T) {
	_, err := NewTable(Route{Path: "admin", Kind: Public})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDefaultTable_EveryProtectedRouteHasRoles(t *testing.T) {
	for _, r := range DefaultTable().Routes() {
		if r.Kind == Protected {
			assert.False(t, r.Roles.Empty(), r.Path)
		}
	}
}

func TestDefaultTable_DashboardsReachableByTheirRole(t *testing.T) {
	table := DefaultTable()
	for _, r := range roles.All {
		d, route, err := table.Authorize(roles.HomePath(r), State{User: userWith(r)})
		require.NoError(t, err)
		assert.Equal(t, Render, d.Outcome, "role %s on %s", r, route.Path)
	}
}

func TestTable_Match(t *testing.T) {
	table, err := NewTable(
		Route{Path: "/people/:kind", Page: "people", Kind: Public},
		Route{Path: "/people/archive", Page: "archive", Kind: Public},
		Route{Path: "/", Page: "home", Kind: Public},
	)
	require.NoError(t, err)

	tests := []struct {
		path   string
		page   string
		params map[string]string
		ok     bool
	}{
		{path: "/", page: "home", ok: true},
		{path: "", page: "home", ok: true},
		{path: "/people/converts", page: "people", params: map[string]string{"kind": "converts"}, ok: true},
		{path: "/people/converts/", page: "people", params: map[string]string{"kind": "converts"}, ok: true},
		{path: "/people/converts?q=ann", page: "people", params: map[string]string{"kind": "converts"}, ok: true},
		{path: "/people/archive", page: "archive", ok: true},
		{path: "/people", ok: false},
		{path: "/people/a/b", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, params, ok := table.Match(tt.path)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.page, r.Page)
			if diff := cmp.Diff(tt.params, params); diff != "" {
				t.Errorf("params mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTable_Authorize(t *testing.T) {
	table := DefaultTable()

	d, _, err := table.Authorize("/admin/ministries", State{})
	require.NoError(t, err)
	assert.Equal(t, Decision{Outcome: Redirect, Location: "/login", Reason: ReasonUnauthenticated}, d)

	d, _, err = table.Authorize("/admin/ministries", State{User: userWith(roles.Leader)})
	require.NoError(t, err)
	assert.Equal(t, "/leader/dashboard", d.Location)

	d, _, err = table.Authorize("/login", State{User: userWith(roles.MinistryAdmin)})
	require.NoError(t, err)
	assert.Equal(t, "/ministry-admin/dashboard", d.Location)

	d, _, err = table.Authorize("/join/grace-chapel", State{})
	require.NoError(t, err)
	assert.Equal(t, Render, d.Outcome)

	_, _, err = table.Authorize("/nowhere", State{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestTable_RoutesIsACopy(t *testing.T) {
	table := DefaultTable()
	rs := table.Routes()
	rs[0].Path = "/mutated"

	want := DefaultRoutes()[0].Path
	assert.Equal(t, want, table.Routes()[0].Path)
}
