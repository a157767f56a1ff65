package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the application logger instance
var Logger zerolog.Logger

// Init initializes the process-wide logger with the given configuration
func Init(level, format string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Logger = New(os.Stdout, format)

	// Set the global logger
	log.Logger = Logger
}

// New builds a logger writing to w. Format "json" emits one JSON object per
// line; anything else uses the colored console writer.
func New(w io.Writer, format string) zerolog.Logger {
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    w != os.Stdout,
		}
	}
	return zerolog.New(w).With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel parses string log level to zerolog level
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the configured logger instance
func GetLogger() zerolog.Logger {
	return Logger
}

// Component returns a child of the application logger tagged with a component name
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
