package main

import (
	"fmt"
	"os"

	"github.com/flock-dev/flock/internal/config"
	"github.com/flock-dev/flock/internal/database"
	"github.com/flock-dev/flock/internal/logger"
	"github.com/flock-dev/flock/internal/server"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	db, err := database.Open(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	// Create server
	srv, err := server.New(cfg, db, log, version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	log.Info().Str("version", version).Msg("Starting Flock server...")

	// Start HTTP server (this blocks until SIGINT or SIGTERM)
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
