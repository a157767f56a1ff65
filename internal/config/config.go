package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// Logging Configuration
	Logging LoggingConfig

	// HTTP server and session configuration
	HTTP HTTPConfig

	// Follow-up reminder configuration
	Reminders RemindersConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envDefault:"flock.sqlite"`
}

// IsPostgres reports whether the URL points at PostgreSQL rather than a SQLite file
func (d DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(d.URL, "postgres://") || strings.HasPrefix(d.URL, "postgresql://")
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"` // Redis address (host:port)
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"` // json, console
}

// HTTPConfig holds the web server settings
type HTTPConfig struct {
	Addr          string        `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret     string        `env:"JWT_SECRET"` // Generated and persisted on first boot when empty
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"72h"`
	CORSOrigins   []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	SecureCookies bool          `env:"SECURE_COOKIES" envDefault:"false"`
}

// RemindersConfig holds follow-up scheduler settings
type RemindersConfig struct {
	ScanInterval    time.Duration `env:"REMINDER_SCAN_INTERVAL" envDefault:"1m"`
	DefaultSMSQuota int           `env:"DEFAULT_SMS_QUOTA" envDefault:"500"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	return Parse()
}

// Parse reads configuration from the process environment only
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.Reminders.ScanInterval <= 0 {
		return nil, fmt.Errorf("REMINDER_SCAN_INTERVAL must be positive, got %s", cfg.Reminders.ScanInterval)
	}
	if cfg.Reminders.DefaultSMSQuota < 0 {
		return nil, fmt.Errorf("DEFAULT_SMS_QUOTA must not be negative, got %d", cfg.Reminders.DefaultSMSQuota)
	}

	return &cfg, nil
}
