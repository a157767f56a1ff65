package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/roles"
)

var (
	ErrEmailTaken = errors.New("email already registered")
	ErrSlugTaken  = errors.New("slug already in use")
)

// bind decodes the JSON body into req and runs struct validation. It writes
// the 400 response itself and returns false on failure.
func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		s.logger.Warn().Err(err).Msg("Invalid request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		s.logger.Warn().Err(err).Msg("Request validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "details": err.Error()})
		return false
	}
	return true
}

// respondError maps service errors to HTTP status codes
func (s *Server) respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, people.ErrNotFound),
		errors.Is(err, people.ErrUnknownKind),
		errors.Is(err, followups.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, people.ErrAlreadyPromoted),
		errors.Is(err, followups.ErrClosed),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrSlugTaken):
		status = http.StatusConflict
	case errors.Is(err, people.ErrMinistryRequired),
		errors.Is(err, followups.ErrInvalidSchedule),
		errors.Is(err, followups.ErrInvalidChannel),
		errors.Is(err, followups.ErrInvalidLeader),
		errors.Is(err, auth.ErrPasswordTooShort):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg(message)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// mustSession returns the session set by RequireRoles
func mustSession(c *gin.Context) *auth.SessionData {
	sessionData, _ := GetSessionData(c)
	return sessionData
}

// ministryScope returns the ministry the caller acts on. Platform admins pick
// one with ?ministry_id= and may leave it empty to span every ministry.
func ministryScope(c *gin.Context, sessionData *auth.SessionData) string {
	if sessionData.Role == roles.Admin {
		return c.Query("ministry_id")
	}
	return sessionData.MinistryID
}

func peopleScope(c *gin.Context, sessionData *auth.SessionData) people.Scope {
	return people.Scope{MinistryID: ministryScope(c, sessionData)}
}

// followUpScope limits leaders to the follow-ups assigned to them
func followUpScope(c *gin.Context, sessionData *auth.SessionData) followups.Scope {
	scope := followups.Scope{MinistryID: ministryScope(c, sessionData)}
	if sessionData.Role == roles.Leader {
		scope.LeaderID = sessionData.UserID
	}
	return scope
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return v
}
