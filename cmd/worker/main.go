package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flock-dev/flock/internal/config"
	"github.com/flock-dev/flock/internal/database"
	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/logger"
	"github.com/flock-dev/flock/internal/notify"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/tasks"
	"github.com/flock-dev/flock/internal/workers"
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

	log.Info().Str("version", version).Msg("Starting Flock reminder worker")

	db, err := database.Open(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	svc := followups.NewService(db, people.NewService(db, log), log)
	sender := notify.NewLogSender(log)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Address}

	// Initialize Asynq client (used by the scheduler to enqueue deliveries)
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Initialize Asynq server
	asynqServer := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10, // Number of concurrent workers
		Queues: map[string]int{
			"critical": 6, // 60% of workers for critical tasks
			"default":  3, // 30% of workers for default queue
			"low":      1, // 10% of workers for low priority
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			log.Warn().Err(err).Str("type", task.Type()).Int("retried", retried).Msg("Task failed")
		}),
		Logger: &asynqLogger{log: log.With().Str("component", "asynq").Logger()},
	})

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeSendReminder, func(ctx context.Context, t *asynq.Task) error {
		return workers.HandleSendReminder(ctx, t, svc, sender, log)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("Starting Asynq worker server...")
	if err := asynqServer.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("Asynq worker server failed")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Scan for due follow-ups until shutdown
	g.Go(func() error {
		workers.StartReminderScheduler(gctx, asynqClient, svc, cfg.Reminders.ScanInterval, log)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal, shutting down gracefully...")
		// Waits for in-flight deliveries to finish
		asynqServer.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
	}
	log.Info().Msg("Worker shutdown complete")
}

// asynqLogger is a wrapper to make zerolog compatible with Asynq's logger interface
type asynqLogger struct {
	log zerolog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.log.Fatal().Msg(fmt.Sprint(args...))
}
