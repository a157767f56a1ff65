package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/roles"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRoleNotAllowed     = errors.New("account cannot sign in here")
)

// StaffRequest creates a staff account
type StaffRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"first_name" binding:"required" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the session token and the signed-in user
type LoginResponse struct {
	Token string            `json:"token"`
	User  *auth.SessionData `json:"user"`
}

// createStaff stores a new account with a hashed password
func (s *Server) createStaff(ctx context.Context, req StaffRequest, role roles.Role, ministryID *string) (*models.User, error) {
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	email := people.NormalizeEmail(req.Email)
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		FirstName:    people.NormalizeName(req.FirstName),
		LastName:     people.NormalizeName(req.LastName),
		Phone:        people.NormalizePhone(req.Phone),
		Role:         role,
		MinistryID:   ministryID,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// authenticate checks credentials and that the account's role is allowed
func (s *Server) authenticate(ctx context.Context, email, password string, allowed roles.Set) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", people.NormalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	// Verify password
	if err := auth.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !allowed.Contains(user.Role) {
		return nil, ErrRoleNotAllowed
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record login time")
	}
	return &user, nil
}

// issueSession signs a token for user and stores it in the session cookie
func (s *Server) issueSession(c *gin.Context, user *models.User) (string, *auth.SessionData, error) {
	sessionData := sessionFromUser(user, "")
	token, err := s.tokens.GenerateToken(sessionData)
	if err != nil {
		return "", nil, err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(s.tokens.TTL().Seconds()), "/", "", s.config.HTTP.SecureCookies, true)
	return token, sessionData, nil
}

func (s *Server) clearSession(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", s.config.HTTP.SecureCookies, true)
}

// setupFirstAdmin creates the platform admin. Only works while no users exist.
func (s *Server) setupFirstAdmin(c *gin.Context) {
	var req StaffRequest
	if !s.bind(c, &req) {
		return
	}

	// Check if any users exist
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to count users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Setup already completed"})
		return
	}

	user, err := s.createStaff(c.Request.Context(), req, roles.Admin, nil)
	if err != nil {
		s.respondError(c, err, "Failed to create admin user")
		return
	}

	token, sessionData, err := s.issueSession(c, user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("First admin user created")

	c.JSON(http.StatusOK, LoginResponse{Token: token, User: sessionData})
}

// login authenticates with email and password. Only accounts whose role is
// in allowed may sign in through this scope.
func (s *Server) login(allowed roles.Set) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if !s.bind(c, &req) {
			return
		}

		user, err := s.authenticate(c.Request.Context(), req.Email, req.Password, allowed)
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		case errors.Is(err, ErrRoleNotAllowed):
			c.JSON(http.StatusForbidden, gin.H{"error": "This account cannot sign in here"})
			return
		case err != nil:
			s.logger.Error().Err(err).Msg("Failed to authenticate")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		token, sessionData, err := s.issueSession(c, user)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to generate token")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		s.logger.Info().
			Str("user_id", user.ID).
			Str("email", user.Email).
			Str("role", user.Role.String()).
			Msg("User logged in")

		c.JSON(http.StatusOK, LoginResponse{Token: token, User: sessionData})
	}
}

// logout clears the session cookie. Tokens held by API clients expire on their own.
func (s *Server) logout(c *gin.Context) {
	if sessionData, ok := GetSessionData(c); ok {
		s.logger.Info().Str("user_id", sessionData.UserID).Msg("User logged out")
	}
	s.clearSession(c)
	c.Status(http.StatusNoContent)
}

// getCurrentUser returns the session of the caller
func (s *Server) getCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, mustSession(c))
}
