package roles

import (
	"fmt"
	"strings"
)

// Role is the access level of a staff account.
type Role string

const (
	// Admin operates the platform across every ministry
	Admin Role = "ADMIN"
	// MinistryAdmin administers a single ministry
	MinistryAdmin Role = "MINISTRY_ADMIN"
	// Leader is staff scoped to one ministry, below MinistryAdmin
	Leader Role = "LEADER"
)

// Canonical page paths
const (
	LoginPath                  = "/login"
	AdminDashboardPath         = "/admin/dashboard"
	MinistryAdminDashboardPath = "/ministry-admin/dashboard"
	LeaderDashboardPath        = "/leader/dashboard"
)

// All lists every role in descending order of privilege.
var All = []Role{Admin, MinistryAdmin, Leader}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case Admin, MinistryAdmin, Leader:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// MinistryScoped reports whether accounts with this role belong to exactly one ministry.
func (r Role) MinistryScoped() bool {
	return r == MinistryAdmin || r == Leader
}

// Parse converts a user supplied string into a Role. Matching is case
// insensitive and accepts dashes in place of underscores.
func Parse(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// HomePath returns the dashboard a user with the given role lands on.
// Unknown roles get the leader dashboard.
func HomePath(r Role) string {
	switch r {
	case Admin:
		return AdminDashboardPath
	case MinistryAdmin:
		return MinistryAdminDashboardPath
	default:
		return LeaderDashboardPath
	}
}

// Set is an immutable collection of roles.
type Set struct {
	members map[Role]struct{}
}

// NewSet builds a set from the given roles.
func NewSet(rs ...Role) Set {
	m := make(map[Role]struct{}, len(rs))
	for _, r := range rs {
		m[r] = struct{}{}
	}
	return Set{members: m}
}

// Contains reports whether r is in the set.
func (s Set) Contains(r Role) bool {
	_, ok := s.members[r]
	return ok
}

// Empty reports whether the set has no members.
func (s Set) Empty() bool {
	return len(s.members) == 0
}

// Roles returns the members ordered by privilege.
func (s Set) Roles() []Role {
	out := make([]Role, 0, len(s.members))
	for _, r := range All {
		if s.Contains(r) {
			out = append(out, r)
		}
	}
	return out
}
