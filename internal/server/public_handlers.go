package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/people"
)

// Automatic follow-up delays for public sign-ups
const (
	salvationFollowUpDelay = 48 * time.Hour
	newMemberFollowUpDelay = 24 * time.Hour
)

// SignupRequest is the public card filled in by visitors
type SignupRequest struct {
	FirstName string `json:"first_name" form:"first_name" binding:"required" validate:"required,max=100"`
	LastName  string `json:"last_name" form:"last_name" validate:"max=100"`
	Email     string `json:"email" form:"email" validate:"omitempty,email"`
	Phone     string `json:"phone" form:"phone" validate:"omitempty,min=7,max=32"`
	Notes     string `json:"notes" form:"notes" validate:"max=2000"`
	InvitedBy string `json:"invited_by" form:"invited_by" validate:"max=100"`
}

// PublicMinistry is the part of a ministry shown to visitors
type PublicMinistry struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Timezone string `json:"timezone"`
}

// captureKind describes one kind of public sign-up
type captureKind struct {
	kind  people.Kind
	delay time.Duration // zero means no automatic follow-up
	note  string
}

var (
	captureSalvation = captureKind{kind: people.Converts, delay: salvationFollowUpDelay, note: "Salvation decision follow-up"}
	captureNewMember = captureKind{kind: people.NewMembers, delay: newMemberFollowUpDelay, note: "Welcome new member"}
	captureGuest     = captureKind{kind: people.Guests}
)

func (s *Server) ministryBySlug(ctx context.Context, slug string) (*models.Ministry, error) {
	var ministry models.Ministry
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&ministry).Error; err != nil {
		return nil, err
	}
	return &ministry, nil
}

// capture stores a public sign-up and schedules its first follow-up
func (s *Server) capture(ctx context.Context, ministry *models.Ministry, ck captureKind, req SignupRequest) (models.Person, error) {
	in := people.Input{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Notes:     req.Notes,
		InvitedBy: req.InvitedBy,
	}
	if ck.kind == people.Converts {
		in.Source = "web"
	}

	// The person and its first follow-up are stored together or not at all
	var rec models.Person
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.people.WithTx(tx).Create(ctx, ck.kind, ministry.ID, in)
		if err != nil {
			return err
		}
		if ck.delay > 0 {
			if _, err := s.followups.WithTx(tx).ScheduleAfter(ctx, ministry.ID, ck.kind, rec.GetID(), ck.delay, ck.note); err != nil {
				return fmt.Errorf("failed to schedule follow-up: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Server) getPublicMinistry(c *gin.Context) {
	ministry, err := s.ministryBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ministry not found"})
			return
		}
		s.respondError(c, err, "Failed to load ministry")
		return
	}
	c.JSON(http.StatusOK, PublicMinistry{Name: ministry.Name, Slug: ministry.Slug, Timezone: ministry.Timezone})
}

func (s *Server) captureHandler(ck captureKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ministry, err := s.ministryBySlug(c.Request.Context(), c.Param("slug"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Ministry not found"})
				return
			}
			s.respondError(c, err, "Failed to load ministry")
			return
		}

		var req SignupRequest
		if !s.bind(c, &req) {
			return
		}

		rec, err := s.capture(c.Request.Context(), ministry, ck, req)
		if err != nil {
			s.respondError(c, err, "Failed to record sign-up")
			return
		}

		s.logger.Info().
			Str("ministry_id", ministry.ID).
			Str("kind", string(ck.kind)).
			Str("person_id", rec.GetID()).
			Msg("Public sign-up received")

		c.JSON(http.StatusCreated, gin.H{"id": rec.GetID(), "message": "Thank you! Someone from " + ministry.Name + " will be in touch."})
	}
}
