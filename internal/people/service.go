package people

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/models"
)

// Kind names a record type in a ministry's people directory
type Kind string

const (
	Converts   Kind = "converts"
	NewMembers Kind = "new-members"
	Members    Kind = "members"
	Guests     Kind = "guests"
)

// Kinds lists every person kind
var Kinds = []Kind{Converts, NewMembers, Members, Guests}

var (
	ErrUnknownKind      = errors.New("unknown person kind")
	ErrNotFound         = errors.New("person not found")
	ErrAlreadyPromoted  = errors.New("new member already promoted")
	ErrMinistryRequired = errors.New("ministry is required")
)

// ParseKind validates a kind taken from a URL
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Scope restricts queries to one ministry. An empty MinistryID spans every ministry.
type Scope struct {
	MinistryID string
}

func (s Scope) apply(q *gorm.DB) *gorm.DB {
	if s.MinistryID == "" {
		return q
	}
	return q.Where("ministry_id = ?", s.MinistryID)
}

// ListParams filters and pages a listing
type ListParams struct {
	Query  string
	Limit  int
	Offset int
}

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Input holds the fields accepted when creating a person. Kind specific
// fields are ignored for other kinds.
type Input struct {
	FirstName string `json:"first_name" binding:"required" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Email     string `json:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Address   string `json:"address" validate:"max=255"`
	Notes     string `json:"notes" validate:"max=4000"`

	DecisionDate *time.Time `json:"decision_date"`
	Source       string     `json:"source" validate:"omitempty,oneof=web service outreach import"`
	VisitDate    *time.Time `json:"visit_date"`
	InvitedBy    string     `json:"invited_by" validate:"max=100"`
	JoinedAt     *time.Time `json:"joined_at"`
}

// Patch holds the fields accepted when updating a person. Nil fields are left unchanged.
type Patch struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	Address   *string `json:"address" validate:"omitempty,max=255"`
	Notes     *string `json:"notes" validate:"omitempty,max=4000"`
	Active    *bool   `json:"active"`
	InvitedBy *string `json:"invited_by" validate:"omitempty,max=100"`
}

// Counts summarizes a people directory
type Counts struct {
	Converts   int64 `json:"converts"`
	NewMembers int64 `json:"new_members"`
	Members    int64 `json:"members"`
	Guests     int64 `json:"guests"`
}

// Service manages converts, new members, members and guests
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new people service
func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "people_service").Logger(),
		now:    time.Now,
	}
}

// WithTx returns a copy of the service that runs its queries in tx
func (s *Service) WithTx(tx *gorm.DB) *Service {
	c := *s
	c.db = tx
	return &c
}

func newRecord(kind Kind) (models.Person, error) {
	switch kind {
	case Converts:
		return &models.Convert{}, nil
	case NewMembers:
		return &models.NewMember{}, nil
	case Members:
		return &models.Member{}, nil
	case Guests:
		return &models.Guest{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func newSlice(kind Kind) (any, error) {
	switch kind {
	case Converts:
		return &[]models.Convert{}, nil
	case NewMembers:
		return &[]models.NewMember{}, nil
	case Members:
		return &[]models.Member{}, nil
	case Guests:
		return &[]models.Guest{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// likeEscaper makes search terms match literally inside a LIKE pattern
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// List returns one page of records of the given kind, as a pointer to a
// typed slice, and the total number of matches.
func (s *Service) List(ctx context.Context, kind Kind, scope Scope, params ListParams) (any, int64, error) {
	model, err := newRecord(kind)
	if err != nil {
		return nil, 0, err
	}
	out, err := newSlice(kind)
	if err != nil {
		return nil, 0, err
	}

	q := scope.apply(s.db.WithContext(ctx).Model(model))
	if term := strings.TrimSpace(params.Query); term != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
		q = q.Where(`LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\' OR phone LIKE ? ESCAPE '\'`,
			like, like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(out).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return out, total, nil
}

// Get loads one record within scope
func (s *Service) Get(ctx context.Context, kind Kind, scope Scope, id string) (models.Person, error) {
	rec, err := newRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := scope.apply(s.db.WithContext(ctx)).Where("id = ?", id).First(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// Create stores a new record for the given ministry
func (s *Service) Create(ctx context.Context, kind Kind, ministryID string, in Input) (models.Person, error) {
	if ministryID == "" {
		return nil, ErrMinistryRequired
	}
	rec, err := s.build(kind, ministryID, in)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", kind, err)
	}

	s.logger.Info().
		Str("kind", string(kind)).
		Str("ministry_id", ministryID).
		Str("person_id", rec.GetID()).
		Msg("Person created")
	return rec, nil
}

func (s *Service) build(kind Kind, ministryID string, in Input) (models.Person, error) {
	profile := models.Profile{
		FirstName: NormalizeName(in.FirstName),
		LastName:  NormalizeName(in.LastName),
		Email:     NormalizeEmail(in.Email),
		Phone:     NormalizePhone(in.Phone),
		Address:   strings.TrimSpace(in.Address),
		Notes:     strings.TrimSpace(in.Notes),
	}
	tenant := models.Tenant{MinistryID: ministryID}
	now := s.now()

	switch kind {
	case Converts:
		source := in.Source
		if source == "" {
			source = "service"
		}
		return &models.Convert{
			Tenant:       tenant,
			Profile:      profile,
			DecisionDate: dateOr(in.DecisionDate, now),
			Source:       source,
		}, nil
	case NewMembers:
		return &models.NewMember{Tenant: tenant, Profile: profile, RegisteredAt: now}, nil
	case Members:
		return &models.Member{Tenant: tenant, Profile: profile, JoinedAt: dateOr(in.JoinedAt, now), Active: true}, nil
	case Guests:
		return &models.Guest{
			Tenant:    tenant,
			Profile:   profile,
			VisitDate: dateOr(in.VisitDate, now),
			InvitedBy: NormalizeName(in.InvitedBy),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func dateOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() {
		return fallback
	}
	return *t
}

// Update applies a patch to a record within scope
func (s *Service) Update(ctx context.Context, kind Kind, scope Scope, id string, p Patch) (models.Person, error) {
	rec, err := s.Get(ctx, kind, scope, id)
	if err != nil {
		return nil, err
	}

	profile := rec.GetProfile()
	if p.FirstName != nil {
		profile.FirstName = NormalizeName(*p.FirstName)
	}
	if p.LastName != nil {
		profile.LastName = NormalizeName(*p.LastName)
	}
	if p.Email != nil {
		profile.Email = NormalizeEmail(*p.Email)
	}
	if p.Phone != nil {
		profile.Phone = NormalizePhone(*p.Phone)
	}
	if p.Address != nil {
		profile.Address = strings.TrimSpace(*p.Address)
	}
	if p.Notes != nil {
		profile.Notes = strings.TrimSpace(*p.Notes)
	}
	switch r := rec.(type) {
	case *models.Member:
		if p.Active != nil {
			r.Active = *p.Active
		}
	case *models.Guest:
		if p.InvitedBy != nil {
			r.InvitedBy = NormalizeName(*p.InvitedBy)
		}
	}

	// Save writes every column, including false booleans
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	return rec, nil
}

// Delete removes a record within scope
func (s *Service) Delete(ctx context.Context, kind Kind, scope Scope, id string) error {
	rec, err := s.Get(ctx, kind, scope, id)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(rec).Error; err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
		}
		// Open follow-ups for a deleted person can never be delivered
		if err := tx.Model(&models.FollowUp{}).
			Where("person_kind = ? AND person_id = ? AND status IN ?", string(kind), id,
				[]models.FollowUpStatus{models.FollowUpPending, models.FollowUpQueued}).
			Update("status", models.FollowUpCancelled).Error; err != nil {
			return fmt.Errorf("failed to cancel follow-ups: %w", err)
		}
		return nil
	})
}

// Promote turns a new member registration into a member record
func (s *Service) Promote(ctx context.Context, scope Scope, newMemberID string) (*models.Member, error) {
	var member *models.Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var nm models.NewMember
		if err := scope.apply(tx).Where("id = ?", newMemberID).First(&nm).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if nm.MemberID != nil {
			return ErrAlreadyPromoted
		}

		member = &models.Member{
			Tenant:   nm.Tenant,
			Profile:  nm.Profile,
			JoinedAt: s.now(),
			Active:   true,
		}
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("failed to create member: %w", err)
		}
		return tx.Model(&nm).Update("member_id", member.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("new_member_id", newMemberID).
		Str("member_id", member.ID).
		Msg("New member promoted")
	return member, nil
}

// Count tallies every kind within scope
func (s *Service) Count(ctx context.Context, scope Scope) (Counts, error) {
	var c Counts
	targets := []struct {
		model any
		dst   *int64
	}{
		{&models.Convert{}, &c.Converts},
		{&models.NewMember{}, &c.NewMembers},
		{&models.Member{}, &c.Members},
		{&models.Guest{}, &c.Guests},
	}
	for _, t := range targets {
		if err := scope.apply(s.db.WithContext(ctx).Model(t.model)).Count(t.dst).Error; err != nil {
			return c, fmt.Errorf("failed to count people: %w", err)
		}
	}
	return c, nil
}
