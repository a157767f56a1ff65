package workers

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/tasks"
)

const (
	// scanBatch caps how many due follow-ups are queued per tick
	scanBatch = 200
	// taskTimeout bounds one delivery task
	taskTimeout = 2 * time.Minute
	// staleQueueAge is how long a follow-up may stay queued before the
	// scanner assumes its task is gone and releases it
	staleQueueAge = 5 * taskTimeout
)

// Enqueuer is the part of *asynq.Client the scheduler needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StartReminderScheduler checks for due follow-ups every interval until ctx is cancelled
func StartReminderScheduler(ctx context.Context, client Enqueuer, svc *followups.Service, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup, then on every tick
	EnqueueDueReminders(ctx, client, svc, time.Now(), logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Reminder scheduler stopped")
			return
		case now := <-ticker.C:
			EnqueueDueReminders(ctx, client, svc, now, logger)
		}
	}
}

// EnqueueDueReminders claims every follow-up due at now and queues a delivery
// task for it. It returns how many tasks were queued.
func EnqueueDueReminders(ctx context.Context, client Enqueuer, svc *followups.Service, now time.Time, logger zerolog.Logger) int {
	if released, err := svc.ReleaseStale(ctx, now.Add(-staleQueueAge)); err != nil {
		logger.Error().Err(err).Msg("Failed to release stale follow-ups")
	} else if released > 0 {
		logger.Warn().Int64("released", released).Msg("Released follow-ups whose delivery task was lost")
	}

	due, err := svc.Due(ctx, now, scanBatch)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to query due follow-ups")
		return 0
	}
	if len(due) == 0 {
		logger.Debug().Msg("No follow-ups due")
		return 0
	}

	queued := 0
	for _, fu := range due {
		claimed, err := svc.Claim(ctx, fu.ID, now)
		if err != nil {
			logger.Error().Err(err).Str("follow_up_id", fu.ID).Msg("Failed to claim follow-up")
			continue
		}
		if !claimed {
			continue
		}

		task, err := tasks.NewSendReminderTask(fu.ID, now)
		if err != nil {
			logger.Error().Err(err).Str("follow_up_id", fu.ID).Msg("Failed to create reminder task")
			_ = svc.Release(ctx, fu.ID)
			continue
		}

		if _, err := client.EnqueueContext(ctx, task, asynq.Timeout(taskTimeout)); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				// Already sitting in the queue from an earlier scan
				continue
			}
			logger.Error().Err(err).Str("follow_up_id", fu.ID).Msg("Failed to enqueue reminder task")
			if err := svc.Release(ctx, fu.ID); err != nil {
				logger.Error().Err(err).Str("follow_up_id", fu.ID).Msg("Failed to release follow-up")
			}
			continue
		}
		queued++
	}

	logger.Info().
		Int("due", len(due)).
		Int("queued", queued).
		Msg("Reminder tasks enqueued")
	return queued
}
