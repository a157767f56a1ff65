package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flock-dev/flock/internal/models"
)

// Message is a rendered reminder ready for delivery
type Message struct {
	Channel models.Channel
	To      string
	Subject string
	Body    string
}

// Sender delivers messages through an email or SMS provider
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is
// the default until a provider is configured.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info().
		Str("channel", string(msg.Channel)).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("body_length", len(msg.Body)).
		Msg("Reminder delivered")
	return nil
}

// Address returns the recipient address for the chosen channel
func Address(c models.Channel, r Recipient) string {
	if c == models.ChannelEmail {
		return r.Email
	}
	return r.Phone
}

// ComposeReminder renders the reminder sent to the person a follow-up is about
func ComposeReminder(c models.Channel, ministry *models.Ministry, r Recipient, fu *models.FollowUp) Message {
	name := r.Name
	if name == "" {
		name = "friend"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s, this is %s. ", name, ministry.Name)
	switch fu.PersonKind {
	case "converts":
		body.WriteString("We are so glad you made a decision for Christ and would love to walk with you in your next steps.")
	case "new-members":
		body.WriteString("Welcome to the family! We would love to help you get connected.")
	case "guests":
		body.WriteString("Thank you for visiting with us. We hope to see you again soon.")
	default:
		body.WriteString("We are thinking of you and wanted to check in.")
	}
	if note := strings.TrimSpace(fu.Note); note != "" {
		body.WriteString(" ")
		body.WriteString(note)
	}

	msg := Message{
		Channel: c,
		To:      Address(c, r),
		Body:    body.String(),
	}
	if c == models.ChannelEmail {
		msg.Subject = fmt.Sprintf("A note from %s", ministry.Name)
	}
	return msg
}

// NextQuotaReset returns the first instant of the month after t, in UTC
func NextQuotaReset(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
