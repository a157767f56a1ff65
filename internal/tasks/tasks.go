package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Follow-up reminder delivery
	TypeSendReminder = "followup:send_reminder"
)

// Queue names, weighted by the worker
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// TaskPayload is the common payload for all tasks
type TaskPayload struct {
	FollowUpID string `json:"follow_up_id,omitempty"`
}

// NewSendReminderTask creates a task that delivers one follow-up reminder.
// The task id is derived from the follow-up and the time it was claimed, so
// one claim is never queued twice while a released follow-up can be queued again.
func NewSendReminderTask(followUpID string, claimedAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(TaskPayload{
		FollowUpID: followUpID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSendReminder, payload,
		asynq.TaskID(fmt.Sprintf("reminder:%s:%d", followUpID, claimedAt.UnixNano())),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
	), nil
}

// ParseTaskPayload parses task payload from Asynq task
func ParseTaskPayload(task *asynq.Task) (TaskPayload, error) {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.FollowUpID == "" {
		return payload, fmt.Errorf("payload is missing follow_up_id")
	}
	return payload, nil
}
