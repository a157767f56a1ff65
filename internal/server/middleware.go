package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/roles"
)

const (
	bearerPrefix = "Bearer "

	// SessionCookie carries the browser session token
	SessionCookie = "flock_session"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
)

var (
	adminOnly      = roles.NewSet(roles.Admin)
	ministryAdmins = roles.NewSet(roles.Admin, roles.MinistryAdmin)
	ministryStaff  = roles.NewSet(roles.Admin, roles.MinistryAdmin, roles.Leader)
)

// sessionScopes are the API prefixes that expose login, logout and me
var sessionScopes = []struct {
	name  string
	roles roles.Set
}{
	{"auth", roles.NewSet(roles.All...)},
	{"admin", adminOnly},
	{"ministry", roles.NewSet(roles.MinistryAdmin)},
	{"leader", roles.NewSet(roles.Leader)},
}

func setSession(c *gin.Context, sessionData *auth.SessionData) {
	c.Set("session", sessionData)
}

// GetSessionData returns the session resolved for this request
func GetSessionData(c *gin.Context) (*auth.SessionData, bool) {
	session, exists := c.Get("session")
	if !exists {
		return nil, false
	}

	sessionData, ok := session.(*auth.SessionData)
	return sessionData, ok && sessionData != nil
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// tokenFromRequest prefers the Authorization header (CLI) over the cookie (browser)
func tokenFromRequest(c *gin.Context) (string, string) {
	if header := c.GetHeader("Authorization"); header != "" {
		token, err := extractBearerToken(header)
		if err != nil {
			return "", ""
		}
		return token, "bearer"
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, "cookie"
	}
	return "", ""
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// sessionFromUser builds the session payload for a stored account
func sessionFromUser(user *models.User, method string) *auth.SessionData {
	return &auth.SessionData{
		UserID:     user.ID,
		Role:       user.Role,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Email:      user.Email,
		MinistryID: user.MinistryRef(),
		AuthMethod: method,
	}
}

// SessionMiddleware resolves the caller's session from a bearer token or the
// session cookie. Any failure leaves the request anonymous.
func SessionMiddleware(tokens *auth.Tokens, db *gorm.DB, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method := tokenFromRequest(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			log.Debug().Err(err).Str("auth_method", method).Msg("Ignoring invalid session token")
			c.Next()
			return
		}

		// Role and ministry come from the database so changes apply immediately
		var user models.User
		if err := db.WithContext(c.Request.Context()).Where("id = ?", claims.UserID).First(&user).Error; err != nil {
			log.Debug().Err(err).Str("user_id", claims.UserID).Msg("Session user not found")
			c.Next()
			return
		}

		setSession(c, sessionFromUser(&user, method))
		c.Next()
	}
}

// RequireRoles rejects anonymous callers with 401 and callers whose role is
// not in allowed with 403
func RequireRoles(allowed roles.Set, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData, exists := GetSessionData(c)
		if !exists {
			respondWithError(c, log, http.StatusUnauthorized, errors.New("no session"), "Unauthorized")
			return
		}

		if !allowed.Contains(sessionData.Role) {
			respondWithError(c, log, http.StatusForbidden, errors.New("role not allowed"), "Insufficient role for this resource")
			return
		}

		// Ministry staff must belong to a ministry
		if sessionData.Role.MinistryScoped() && sessionData.MinistryID == "" {
			respondWithError(c, log, http.StatusForbidden, errors.New("no ministry"), "Account is not attached to a ministry")
			return
		}

		c.Next()
	}
}
