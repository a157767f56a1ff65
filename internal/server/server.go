// Package server serves the Flock JSON API and the role-gated pages.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/access"
	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/config"
	"github.com/flock-dev/flock/internal/database"
	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/roles"
)

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	db        *gorm.DB
	config    *config.Config
	logger    zerolog.Logger
	validator *validator.Validate
	tokens    *auth.Tokens
	routes    *access.Table
	people    *people.Service
	followups *followups.Service
	version   string
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// New creates a new server instance on top of an open, migrated database
func New(cfg *config.Config, db *gorm.DB, zlog zerolog.Logger, version string) (*Server, error) {
	secret, err := loadJWTSecret(db, cfg.HTTP.JWTSecret, zlog)
	if err != nil {
		return nil, err
	}

	routes, err := access.NewTable(access.DefaultRoutes()...)
	if err != nil {
		return nil, fmt.Errorf("invalid route table: %w", err)
	}

	// Initialize validator
	validate := validator.New()

	// Register custom validators
	validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return roles.Role(fl.Field().String()).Valid()
	})
	validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})

	peopleService := people.NewService(db, zlog)

	server := &Server{
		db:        db,
		config:    cfg,
		logger:    zlog,
		validator: validate,
		tokens:    auth.NewTokens(secret, cfg.HTTP.SessionTTL),
		routes:    routes,
		people:    peopleService,
		followups: followups.NewService(db, peopleService, zlog),
		version:   version,
	}

	if err := server.setupRouter(); err != nil {
		return nil, err
	}

	return server, nil
}

// loadJWTSecret prefers the configured secret. Otherwise the secret stored in
// the settings row is used, generating and persisting one on first boot.
func loadJWTSecret(db *gorm.DB, configured string, zlog zerolog.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}

	var settings models.Settings
	err := db.First(&settings).Error
	if err == nil {
		zlog.Debug().Msg("Loaded JWT secret from database")
		return settings.JWTSecret, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load settings: %w", err)
	}

	// Generate JWT secret (64 hex characters = 32 bytes of randomness)
	jwtSecretBytes := make([]byte, 32)
	if _, err := rand.Read(jwtSecretBytes); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	settings = models.Settings{JWTSecret: hex.EncodeToString(jwtSecretBytes)}
	if err := db.Create(&settings).Error; err != nil {
		return "", fmt.Errorf("failed to persist settings: %w", err)
	}
	zlog.Info().Msg("Generated JWT secret on first boot")
	return settings.JWTSecret, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() error {
	// Set Gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// CORS middleware
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.HTTP.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Every request carries the resolved session, if any
	s.router.Use(SessionMiddleware(s.tokens, s.db, s.logger))

	if err := s.setupPages(); err != nil {
		return err
	}

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	api := s.router.Group("/api")

	// First run
	api.POST("/setup", s.setupFirstAdmin)

	// Session endpoints for every scope
	for _, scope := range sessionScopes {
		group := api.Group("/" + scope.name)
		group.POST("/login", s.login(scope.roles))
		group.POST("/logout", s.logout)
		group.GET("/me", RequireRoles(scope.roles, s.logger), s.getCurrentUser)
	}

	// Public lead capture
	public := api.Group("/public/ministries/:slug")
	{
		public.GET("", s.getPublicMinistry)
		public.POST("/salvation", s.captureHandler(captureSalvation))
		public.POST("/new-member", s.captureHandler(captureNewMember))
		public.POST("/guests", s.captureHandler(captureGuest))
	}

	// Platform administration
	admin := api.Group("/admin")
	admin.Use(RequireRoles(adminOnly, s.logger))
	{
		admin.GET("/stats", s.getPlatformStats)
		admin.GET("/ministries", s.listMinistries)
		admin.POST("/ministries", s.createMinistry)
		admin.GET("/ministries/:id", s.getMinistry)
		admin.PATCH("/ministries/:id", s.updateMinistry)
		admin.DELETE("/ministries/:id", s.deleteMinistry)
		admin.POST("/ministries/:id/admins", s.createMinistryAdmin)
	}

	// Ministry data, visible to staff of the ministry
	ministry := api.Group("/ministry")
	ministry.Use(RequireRoles(ministryStaff, s.logger))
	{
		ministry.GET("/stats", s.getMinistryStats)

		for _, kind := range people.Kinds {
			group := ministry.Group("/" + string(kind))
			group.GET("", s.listPeople(kind))
			group.POST("", s.createPerson(kind))
			group.GET("/:id", s.getPerson(kind))
			group.PATCH("/:id", s.updatePerson(kind))
			group.DELETE("/:id", s.deletePerson(kind))
		}
		ministry.POST("/new-members/:id/promote", s.promoteNewMember)

		ministry.GET("/follow-ups", s.listFollowUps)
		ministry.POST("/follow-ups", s.createFollowUp)
		ministry.PATCH("/follow-ups/:id", s.updateFollowUp)
		ministry.POST("/follow-ups/:id/complete", s.completeFollowUp)
		ministry.POST("/follow-ups/:id/cancel", s.cancelFollowUp)

		leaders := ministry.Group("/leaders")
		leaders.Use(RequireRoles(ministryAdmins, s.logger))
		{
			leaders.GET("", s.listLeaders)
			leaders.POST("", s.createLeader)
			leaders.DELETE("/:id", s.deleteLeader)
		}
	}

	s.router.NoRoute(s.notFound)
	return nil
}

const requestIDHeader = "X-Request-ID"

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		duration := time.Since(start)

		event := s.logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "flock-api",
		"version":   s.version,
	})
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Routes returns the page route table served by this server
func (s *Server) Routes() *access.Table {
	return s.routes
}

// Start runs the HTTP server until SIGINT or SIGTERM
func (s *Server) Start() error {
	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.HTTP.Addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	}

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}
	s.logger.Info().Msg("Server shutdown complete")

	// Close database connection to flush WAL writes
	if err := database.Close(s.db); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database")
	}
	return nil
}
