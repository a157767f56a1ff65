package followups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/roles"
)

var (
	ErrNotFound        = errors.New("follow-up not found")
	ErrInvalidSchedule = errors.New("invalid cron schedule")
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrInvalidLeader   = errors.New("assigned leader does not belong to this ministry")
	ErrClosed          = errors.New("follow-up is already closed")
)

// MaxAttempts is how many delivery attempts a follow-up gets before it is marked failed
const MaxAttempts = 5

// Scope restricts follow-up queries. An empty MinistryID spans every
// ministry; a non-empty LeaderID limits results to that leader's assignments.
type Scope struct {
	MinistryID string
	LeaderID   string
}

func (s Scope) apply(q *gorm.DB) *gorm.DB {
	if s.MinistryID != "" {
		q = q.Where("ministry_id = ?", s.MinistryID)
	}
	if s.LeaderID != "" {
		q = q.Where("assigned_leader_id = ?", s.LeaderID)
	}
	return q
}

// ScheduleInput describes a new follow-up
type ScheduleInput struct {
	PersonKind       string         `json:"person_kind" binding:"required" validate:"required,oneof=converts new-members members guests"`
	PersonID         string         `json:"person_id" binding:"required" validate:"required,len=26"`
	AssignedLeaderID *string        `json:"assigned_leader_id" validate:"omitempty,len=26"`
	DueAt            time.Time      `json:"due_at" binding:"required"`
	Channel          models.Channel `json:"channel" validate:"omitempty,oneof=auto email sms mms"`
	Note             string         `json:"note" validate:"max=1000"`
	Schedule         string         `json:"schedule" validate:"max=100"`
}

// UpdateInput changes an open follow-up. Nil fields are left unchanged.
type UpdateInput struct {
	AssignedLeaderID *string         `json:"assigned_leader_id" validate:"omitempty,len=26"`
	DueAt            *time.Time      `json:"due_at"`
	Channel          *models.Channel `json:"channel" validate:"omitempty,oneof=auto email sms mms"`
	Note             *string         `json:"note" validate:"omitempty,max=1000"`
	Schedule         *string         `json:"schedule" validate:"omitempty,max=100"`
}

// ListParams filters a follow-up listing
type ListParams struct {
	Status models.FollowUpStatus
	DueBy  *time.Time
	Limit  int
}

// Service schedules follow-ups and tracks their lifecycle
type Service struct {
	db     *gorm.DB
	people *people.Service
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new follow-ups service
func NewService(db *gorm.DB, peopleService *people.Service, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		people: peopleService,
		logger: logger.With().Str("component", "followups_service").Logger(),
		now:    time.Now,
	}
}

// WithTx returns a copy of the service, and of its people service, that runs
// its queries in tx
func (s *Service) WithTx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	c.people = s.people.WithTx(tx)
	return &c
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a standard 5-field cron expression. Empty is valid.
func ValidateSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

// NextDue calculates the next occurrence of a cron schedule after from
func NextDue(expr string, from time.Time) *time.Time {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil
	}
	next := schedule.Next(from)
	return &next
}

func (s *Service) checkLeader(ctx context.Context, ministryID string, leaderID *string) error {
	if leaderID == nil || *leaderID == "" {
		return nil
	}
	var user models.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND ministry_id = ? AND role IN ?", *leaderID, ministryID,
			[]string{string(roles.Leader), string(roles.MinistryAdmin)}).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvalidLeader
	}
	return err
}

// Schedule creates a follow-up for a person in the given ministry
func (s *Service) Schedule(ctx context.Context, ministryID string, in ScheduleInput) (*models.FollowUp, error) {
	kind, err := people.ParseKind(in.PersonKind)
	if err != nil {
		return nil, err
	}
	if _, err := s.people.Get(ctx, kind, people.Scope{MinistryID: ministryID}, in.PersonID); err != nil {
		return nil, err
	}
	channel := in.Channel
	if channel == "" {
		channel = models.ChannelAuto
	}
	if !channel.Valid() {
		return nil, ErrInvalidChannel
	}
	if err := ValidateSchedule(in.Schedule); err != nil {
		return nil, err
	}
	if err := s.checkLeader(ctx, ministryID, in.AssignedLeaderID); err != nil {
		return nil, err
	}

	fu := &models.FollowUp{
		Tenant:           models.Tenant{MinistryID: ministryID},
		PersonKind:       string(kind),
		PersonID:         in.PersonID,
		AssignedLeaderID: emptyToNil(in.AssignedLeaderID),
		DueAt:            in.DueAt.UTC(),
		Channel:          channel,
		Note:             strings.TrimSpace(in.Note),
		Schedule:         strings.TrimSpace(in.Schedule),
		Status:           models.FollowUpPending,
	}
	if err := s.db.WithContext(ctx).Create(fu).Error; err != nil {
		return nil, fmt.Errorf("failed to create follow-up: %w", err)
	}

	s.logger.Info().
		Str("follow_up_id", fu.ID).
		Str("ministry_id", ministryID).
		Str("person_kind", fu.PersonKind).
		Time("due_at", fu.DueAt).
		Msg("Follow-up scheduled")
	return fu, nil
}

// ScheduleAfter creates an automatic follow-up due after delay
func (s *Service) ScheduleAfter(ctx context.Context, ministryID string, kind people.Kind, personID string, delay time.Duration, note string) (*models.FollowUp, error) {
	return s.Schedule(ctx, ministryID, ScheduleInput{
		PersonKind: string(kind),
		PersonID:   personID,
		DueAt:      s.now().Add(delay),
		Channel:    models.ChannelAuto,
		Note:       note,
	})
}

func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// Get loads one follow-up within scope
func (s *Service) Get(ctx context.Context, scope Scope, id string) (*models.FollowUp, error) {
	var fu models.FollowUp
	if err := scope.apply(s.db.WithContext(ctx)).Where("id = ?", id).First(&fu).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load follow-up %s: %w", id, err)
	}
	return &fu, nil
}

// List returns follow-ups within scope ordered by due date
func (s *Service) List(ctx context.Context, scope Scope, params ListParams) ([]models.FollowUp, error) {
	q := scope.apply(s.db.WithContext(ctx).Model(&models.FollowUp{}))
	if params.Status != "" {
		q = q.Where("status = ?", params.Status)
	}
	if params.DueBy != nil {
		q = q.Where("due_at <= ?", *params.DueBy)
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []models.FollowUp
	if err := q.Order("due_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list follow-ups: %w", err)
	}
	return out, nil
}

func isOpen(fu *models.FollowUp) bool {
	return fu.Status == models.FollowUpPending || fu.Status == models.FollowUpFailed
}

// Update changes an open follow-up
func (s *Service) Update(ctx context.Context, scope Scope, id string, in UpdateInput) (*models.FollowUp, error) {
	fu, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !isOpen(fu) {
		return nil, ErrClosed
	}

	if in.AssignedLeaderID != nil {
		if err := s.checkLeader(ctx, fu.MinistryID, in.AssignedLeaderID); err != nil {
			return nil, err
		}
		fu.AssignedLeaderID = emptyToNil(in.AssignedLeaderID)
	}
	if in.DueAt != nil {
		fu.DueAt = in.DueAt.UTC()
	}
	if in.Channel != nil {
		if !in.Channel.Valid() {
			return nil, ErrInvalidChannel
		}
		fu.Channel = *in.Channel
	}
	if in.Note != nil {
		fu.Note = strings.TrimSpace(*in.Note)
	}
	if in.Schedule != nil {
		if err := ValidateSchedule(*in.Schedule); err != nil {
			return nil, err
		}
		fu.Schedule = strings.TrimSpace(*in.Schedule)
	}
	// Editing a failed follow-up gives it a fresh set of attempts
	fu.Status = models.FollowUpPending
	fu.Attempts = 0
	fu.LastError = ""

	if err := s.db.WithContext(ctx).Save(fu).Error; err != nil {
		return nil, fmt.Errorf("failed to update follow-up %s: %w", id, err)
	}
	return fu, nil
}

// Complete marks a follow-up as done by a leader
func (s *Service) Complete(ctx context.Context, scope Scope, id string) (*models.FollowUp, error) {
	return s.close(ctx, scope, id, models.FollowUpCompleted)
}

// Cancel stops a follow-up from being sent
func (s *Service) Cancel(ctx context.Context, scope Scope, id string) (*models.FollowUp, error) {
	return s.close(ctx, scope, id, models.FollowUpCancelled)
}

func (s *Service) close(ctx context.Context, scope Scope, id string, status models.FollowUpStatus) (*models.FollowUp, error) {
	fu, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if fu.Status == models.FollowUpCompleted || fu.Status == models.FollowUpCancelled {
		return nil, ErrClosed
	}

	now := s.now().UTC()
	updates := map[string]any{"status": status}
	if status == models.FollowUpCompleted {
		updates["completed_at"] = now
	}
	if err := s.db.WithContext(ctx).Model(fu).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to close follow-up %s: %w", id, err)
	}
	fu.Status = status
	if status == models.FollowUpCompleted {
		fu.CompletedAt = &now
	}
	return fu, nil
}

// Due returns pending follow-ups whose due date has passed
func (s *Service) Due(ctx context.Context, now time.Time, limit int) ([]models.FollowUp, error) {
	var out []models.FollowUp
	err := s.db.WithContext(ctx).
		Where("status = ? AND due_at <= ?", models.FollowUpPending, now.UTC()).
		Order("due_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query due follow-ups: %w", err)
	}
	return out, nil
}

// Claim moves a pending follow-up to queued and stamps it with at. It returns
// false when another scheduler already claimed it.
func (s *Service) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("id = ? AND status = ?", id, models.FollowUpPending).
		Updates(map[string]any{"status": models.FollowUpQueued, "queued_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim follow-up %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release returns a queued follow-up to pending, used when enqueueing or
// delivery fails before the follow-up reached a final state
func (s *Service) Release(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("id = ? AND status = ?", id, models.FollowUpQueued).
		Updates(map[string]any{"status": models.FollowUpPending, "queued_at": nil}).Error
	if err != nil {
		return fmt.Errorf("failed to release follow-up %s: %w", id, err)
	}
	return nil
}

// ReleaseStale returns follow-ups queued at or before cutoff to pending. Their
// delivery task was lost or archived without settling them.
func (s *Service) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.FollowUp{}).
		Where("status = ? AND (queued_at IS NULL OR queued_at <= ?)", models.FollowUpQueued, cutoff.UTC()).
		Updates(map[string]any{"status": models.FollowUpPending, "queued_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to release stale follow-ups: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PendingCount counts open follow-ups within scope
func (s *Service) PendingCount(ctx context.Context, scope Scope) (int64, error) {
	var n int64
	err := scope.apply(s.db.WithContext(ctx).Model(&models.FollowUp{})).
		Where("status IN ?", []models.FollowUpStatus{models.FollowUpPending, models.FollowUpQueued}).
		Count(&n).Error
	return n, err
}
