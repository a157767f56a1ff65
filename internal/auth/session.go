package auth

import "github.com/flock-dev/flock/internal/roles"

// SessionData is the signed-in identity attached to a request, and the
// payload of the "who am I" endpoints.
type SessionData struct {
	UserID     string     `json:"id"`
	Role       roles.Role `json:"role"`
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Email      string     `json:"email"`
	MinistryID string     `json:"ministryId,omitempty"`
	AuthMethod string     `json:"-"` // "bearer", "cookie"
}

// FullName joins first and last name.
func (s *SessionData) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	default:
		return s.FirstName + " " + s.LastName
	}
}
