package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/notify"
	"github.com/flock-dev/flock/internal/roles"
)

// CreateMinistryRequest registers a new tenant
type CreateMinistryRequest struct {
	Name       string      `json:"name" binding:"required" validate:"required,max=120"`
	Slug       string      `json:"slug" binding:"required" validate:"required,max=60,slug"`
	Timezone   string      `json:"timezone" validate:"omitempty,timezone"`
	Plan       models.Plan `json:"plan" validate:"omitempty,oneof=free growth citywide"`
	SMSQuota   *int        `json:"sms_quota" validate:"omitempty,min=0"`
	MMSEnabled bool        `json:"mms_enabled"`
}

// UpdateMinistryRequest changes ministry settings. Nil fields are left unchanged.
type UpdateMinistryRequest struct {
	Name       *string      `json:"name" validate:"omitempty,min=1,max=120"`
	Timezone   *string      `json:"timezone" validate:"omitempty,timezone"`
	Plan       *models.Plan `json:"plan" validate:"omitempty,oneof=free growth citywide"`
	SMSQuota   *int         `json:"sms_quota" validate:"omitempty,min=0"`
	MMSEnabled *bool        `json:"mms_enabled"`
}

func (s *Server) listMinistries(c *gin.Context) {
	var ministries []models.Ministry
	if err := s.db.WithContext(c.Request.Context()).Order("name ASC").Find(&ministries).Error; err != nil {
		s.respondError(c, err, "Failed to list ministries")
		return
	}
	c.JSON(http.StatusOK, ministries)
}

func (s *Server) createMinistry(c *gin.Context) {
	var req CreateMinistryRequest
	if !s.bind(c, &req) {
		return
	}

	var count int64
	if err := s.db.Model(&models.Ministry{}).Where("slug = ?", req.Slug).Count(&count).Error; err != nil {
		s.respondError(c, err, "Failed to check slug")
		return
	}
	if count > 0 {
		s.respondError(c, ErrSlugTaken, "Slug taken")
		return
	}

	quota := s.config.Reminders.DefaultSMSQuota
	if req.SMSQuota != nil {
		quota = *req.SMSQuota
	}
	reset := notify.NextQuotaReset(time.Now())
	ministry := &models.Ministry{
		Name:         strings.TrimSpace(req.Name),
		Slug:         req.Slug,
		Timezone:     req.Timezone,
		Plan:         req.Plan,
		SMSQuota:     quota,
		MMSEnabled:   req.MMSEnabled,
		QuotaResetAt: &reset,
	}
	if ministry.Timezone == "" {
		ministry.Timezone = "UTC"
	}
	if ministry.Plan == "" {
		ministry.Plan = models.PlanFree
	}

	if err := s.db.WithContext(c.Request.Context()).Create(ministry).Error; err != nil {
		s.respondError(c, err, "Failed to create ministry")
		return
	}

	sessionData := mustSession(c)
	s.logger.Info().
		Str("ministry_id", ministry.ID).
		Str("slug", ministry.Slug).
		Str("created_by", sessionData.UserID).
		Msg("Ministry created")

	c.JSON(http.StatusCreated, ministry)
}

func (s *Server) findMinistry(c *gin.Context) (*models.Ministry, bool) {
	var ministry models.Ministry
	if err := models.FindByID(s.db.WithContext(c.Request.Context()), c.Param("id"), &ministry); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ministry not found"})
			return nil, false
		}
		s.respondError(c, err, "Failed to load ministry")
		return nil, false
	}
	return &ministry, true
}

func (s *Server) getMinistry(c *gin.Context) {
	ministry, ok := s.findMinistry(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ministry)
}

func (s *Server) updateMinistry(c *gin.Context) {
	ministry, ok := s.findMinistry(c)
	if !ok {
		return
	}

	var req UpdateMinistryRequest
	if !s.bind(c, &req) {
		return
	}

	if req.Name != nil {
		ministry.Name = strings.TrimSpace(*req.Name)
	}
	if req.Timezone != nil {
		ministry.Timezone = *req.Timezone
	}
	if req.Plan != nil {
		ministry.Plan = *req.Plan
	}
	if req.SMSQuota != nil {
		ministry.SMSQuota = *req.SMSQuota
	}
	if req.MMSEnabled != nil {
		ministry.MMSEnabled = *req.MMSEnabled
	}

	if err := s.db.WithContext(c.Request.Context()).Save(ministry).Error; err != nil {
		s.respondError(c, err, "Failed to update ministry")
		return
	}
	c.JSON(http.StatusOK, ministry)
}

// deleteMinistry removes a tenant and everything it owns
func (s *Server) deleteMinistry(c *gin.Context) {
	ministry, ok := s.findMinistry(c)
	if !ok {
		return
	}

	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		owned := []any{
			&models.Notification{}, &models.FollowUp{},
			&models.Convert{}, &models.NewMember{}, &models.Member{}, &models.Guest{},
			&models.User{},
		}
		for _, model := range owned {
			if err := tx.Where("ministry_id = ?", ministry.ID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete %T: %w", model, err)
			}
		}
		return tx.Delete(ministry).Error
	})
	if err != nil {
		s.respondError(c, err, "Failed to delete ministry")
		return
	}

	sessionData := mustSession(c)
	s.logger.Info().
		Str("ministry_id", ministry.ID).
		Str("deleted_by", sessionData.UserID).
		Msg("Ministry deleted")

	c.Status(http.StatusNoContent)
}

func (s *Server) createMinistryAdmin(c *gin.Context) {
	ministry, ok := s.findMinistry(c)
	if !ok {
		return
	}

	var req StaffRequest
	if !s.bind(c, &req) {
		return
	}

	user, err := s.createStaff(c.Request.Context(), req, roles.MinistryAdmin, &ministry.ID)
	if err != nil {
		s.respondError(c, err, "Failed to create ministry admin")
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("ministry_id", ministry.ID).
		Msg("Ministry admin created")

	c.JSON(http.StatusCreated, user)
}
