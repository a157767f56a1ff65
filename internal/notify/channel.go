package notify

import (
	"errors"

	"github.com/flock-dev/flock/internal/models"
)

var (
	ErrUnreachable    = errors.New("person has no usable email or phone")
	ErrQuotaExhausted = errors.New("text message quota exhausted")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Recipient is where a message can go
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Quota is what a ministry can still spend on text messages this period
type Quota struct {
	Remaining  int
	MMSEnabled bool
}

// QuotaFor reads the current quota from a ministry
func QuotaFor(m *models.Ministry) Quota {
	return Quota{Remaining: m.SMSRemaining(), MMSEnabled: m.MMSEnabled}
}

// Cost is how many quota units one message on the channel consumes
func Cost(c models.Channel) int {
	switch c {
	case models.ChannelSMS:
		return 1
	case models.ChannelMMS:
		return 3
	default:
		return 0
	}
}

// SelectChannel picks the channel a reminder is actually sent on. Text
// channels are only chosen while the quota covers their cost; otherwise the
// message falls back to email.
func SelectChannel(requested models.Channel, r Recipient, q Quota) (models.Channel, error) {
	hasEmail := r.Email != ""
	hasPhone := r.Phone != ""
	canText := func(c models.Channel) bool {
		return hasPhone && q.Remaining >= Cost(c)
	}

	// exhausted distinguishes "no address at all" from "only a phone and no quota"
	exhausted := func() error {
		if hasPhone {
			return ErrQuotaExhausted
		}
		return ErrUnreachable
	}

	switch requested {
	case models.ChannelAuto, "":
		if canText(models.ChannelSMS) {
			return models.ChannelSMS, nil
		}
		if hasEmail {
			return models.ChannelEmail, nil
		}
		return "", exhausted()

	case models.ChannelEmail:
		if hasEmail {
			return models.ChannelEmail, nil
		}
		if canText(models.ChannelSMS) {
			return models.ChannelSMS, nil
		}
		return "", exhausted()

	case models.ChannelMMS:
		if q.MMSEnabled && canText(models.ChannelMMS) {
			return models.ChannelMMS, nil
		}
		fallthrough

	case models.ChannelSMS:
		if canText(models.ChannelSMS) {
			return models.ChannelSMS, nil
		}
		if hasEmail {
			return models.ChannelEmail, nil
		}
		return "", exhausted()
	}

	return "", ErrUnknownChannel
}
