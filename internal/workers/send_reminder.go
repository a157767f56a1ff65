package workers

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/notify"
	"github.com/flock-dev/flock/internal/tasks"
)

// HandleSendReminder delivers the reminder for one queued follow-up
func HandleSendReminder(ctx context.Context, t *asynq.Task, svc *followups.Service, sender notify.Sender, logger zerolog.Logger) error {
	payload, err := tasks.ParseTaskPayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	log := logger.With().Str("follow_up_id", payload.FollowUpID).Logger()

	res, err := svc.Deliver(ctx, payload.FollowUpID, sender)
	if err != nil {
		if errors.Is(err, followups.ErrNotFound) {
			log.Warn().Msg("Follow-up deleted before delivery")
			return nil
		}
		log.Error().Err(err).Msg("Reminder delivery failed")
		return err
	}

	log.Debug().
		Str("channel", string(res.Channel)).
		Str("status", string(res.Status)).
		Msg("Reminder task finished")
	return nil
}
