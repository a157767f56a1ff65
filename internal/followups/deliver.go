package followups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/notify"
	"github.com/flock-dev/flock/internal/people"
)

// releaseTimeout bounds the release that follows a failed delivery
const releaseTimeout = 5 * time.Second

// DeliveryResult reports what happened to one reminder
type DeliveryResult struct {
	FollowUpID string
	Channel    models.Channel
	Status     models.FollowUpStatus
}

// Deliver sends the reminder for a queued follow-up. Permanent problems
// (nobody to contact, person deleted) mark the follow-up failed and return
// nil. Provider errors put it back to pending until MaxAttempts is reached
// and are returned to the caller. Any other error returns the follow-up to
// pending so the next scan queues it again.
func (s *Service) Deliver(ctx context.Context, id string, sender notify.Sender) (*DeliveryResult, error) {
	var fu models.FollowUp
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&fu).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.requeue(ctx, id, fmt.Errorf("failed to load follow-up %s: %w", id, err))
	}
	if fu.Status != models.FollowUpQueued {
		// Completed or cancelled while waiting in the queue
		s.logger.Debug().Str("follow_up_id", id).Str("status", string(fu.Status)).Msg("Skipping follow-up that is no longer queued")
		return &DeliveryResult{FollowUpID: id, Status: fu.Status}, nil
	}

	log := s.logger.With().Str("follow_up_id", id).Str("ministry_id", fu.MinistryID).Logger()

	ministry, err := s.refreshQuota(ctx, fu.MinistryID)
	if err != nil {
		return nil, s.requeue(ctx, id, err)
	}

	kind, err := people.ParseKind(fu.PersonKind)
	if err != nil {
		return s.fail(ctx, &fu, err)
	}
	person, err := s.people.Get(ctx, kind, people.Scope{MinistryID: fu.MinistryID}, fu.PersonID)
	if err != nil {
		if errors.Is(err, people.ErrNotFound) {
			return s.fail(ctx, &fu, err)
		}
		return nil, s.requeue(ctx, id, err)
	}
	profile := person.GetProfile()
	recipient := notify.Recipient{Name: profile.FirstName, Email: profile.Email, Phone: profile.Phone}

	channel, err := notify.SelectChannel(fu.Channel, recipient, notify.QuotaFor(ministry))
	if err != nil {
		return s.fail(ctx, &fu, err)
	}

	// Reserve quota before sending so concurrent workers cannot overspend
	if cost := notify.Cost(channel); cost > 0 {
		reserved, err := s.reserveQuota(ctx, ministry.ID, cost)
		if err != nil {
			return nil, s.requeue(ctx, id, err)
		}
		if !reserved {
			channel, err = notify.SelectChannel(fu.Channel, recipient, notify.Quota{})
			if err != nil {
				return s.fail(ctx, &fu, err)
			}
		}
	}

	msg := notify.ComposeReminder(channel, ministry, recipient, &fu)
	sendErr := sender.Send(ctx, msg)

	now := s.now().UTC()
	note := models.Notification{
		Tenant:     fu.Tenant,
		FollowUpID: fu.ID,
		Channel:    channel,
		Recipient:  msg.To,
		Body:       msg.Body,
	}
	if sendErr != nil {
		note.Error = sendErr.Error()
	}

	fu.Attempts++
	fu.QueuedAt = nil
	switch {
	case sendErr != nil:
		if cost := notify.Cost(channel); cost > 0 {
			s.refundQuota(ctx, ministry.ID, cost)
		}
		fu.LastError = sendErr.Error()
		fu.Status = models.FollowUpPending
		if fu.Attempts >= MaxAttempts {
			fu.Status = models.FollowUpFailed
		}
	case fu.Schedule != "":
		fu.LastSentAt = &now
		fu.LastError = ""
		fu.Attempts = 0
		fu.Status = models.FollowUpPending
		if next := NextDue(fu.Schedule, now); next != nil {
			fu.DueAt = *next
		} else {
			fu.Status = models.FollowUpSent
		}
	default:
		fu.LastSentAt = &now
		fu.LastError = ""
		fu.Status = models.FollowUpSent
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return err
		}
		return tx.Save(&fu).Error
	})
	if err != nil {
		return nil, s.requeue(ctx, id, fmt.Errorf("failed to record delivery: %w", err))
	}

	if sendErr != nil {
		log.Warn().Err(sendErr).Int("attempts", fu.Attempts).Str("status", string(fu.Status)).Msg("Reminder delivery failed")
		return &DeliveryResult{FollowUpID: id, Channel: channel, Status: fu.Status}, fmt.Errorf("failed to send reminder: %w", sendErr)
	}

	log.Info().Str("channel", string(channel)).Str("status", string(fu.Status)).Msg("Reminder sent")
	return &DeliveryResult{FollowUpID: id, Channel: channel, Status: fu.Status}, nil
}

// requeue releases a follow-up whose delivery hit a transient error and
// returns cause. It runs even when ctx is already cancelled.
func (s *Service) requeue(ctx context.Context, id string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.Release(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("follow_up_id", id).Msg("Failed to release follow-up after delivery error")
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) fail(ctx context.Context, fu *models.FollowUp, cause error) (*DeliveryResult, error) {
	fu.Attempts++
	fu.QueuedAt = nil
	fu.Status = models.FollowUpFailed
	fu.LastError = cause.Error()
	if err := s.db.WithContext(ctx).Save(fu).Error; err != nil {
		return nil, s.requeue(ctx, fu.ID, fmt.Errorf("failed to mark follow-up failed: %w", err))
	}
	s.logger.Warn().Err(cause).Str("follow_up_id", fu.ID).Msg("Follow-up cannot be delivered")
	return &DeliveryResult{FollowUpID: fu.ID, Status: fu.Status}, nil
}

// refreshQuota loads the ministry and starts a new quota period when the current one has ended
func (s *Service) refreshQuota(ctx context.Context, ministryID string) (*models.Ministry, error) {
	var m models.Ministry
	if err := s.db.WithContext(ctx).Where("id = ?", ministryID).First(&m).Error; err != nil {
		return nil, fmt.Errorf("failed to load ministry %s: %w", ministryID, err)
	}

	now := s.now()
	if m.QuotaResetAt != nil && m.QuotaResetAt.After(now) {
		return &m, nil
	}

	next := notify.NextQuotaReset(now)
	err := s.db.WithContext(ctx).Model(&m).Updates(map[string]any{
		"sms_used":       0,
		"quota_reset_at": next,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to reset quota: %w", err)
	}
	m.SMSUsed = 0
	m.QuotaResetAt = &next
	return &m, nil
}

func (s *Service) reserveQuota(ctx context.Context, ministryID string, cost int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Ministry{}).
		Where("id = ? AND sms_used + ? <= sms_quota", ministryID, cost).
		Update("sms_used", gorm.Expr("sms_used + ?", cost))
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve quota: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) refundQuota(ctx context.Context, ministryID string, cost int) {
	err := s.db.WithContext(ctx).Model(&models.Ministry{}).
		Where("id = ? AND sms_used >= ?", ministryID, cost).
		Update("sms_used", gorm.Expr("sms_used - ?", cost)).Error
	if err != nil {
		s.logger.Error().Err(err).Str("ministry_id", ministryID).Msg("Failed to refund quota")
	}
}
