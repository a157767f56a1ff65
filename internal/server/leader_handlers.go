package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/roles"
)

func (s *Server) leaders(ctx context.Context, ministryID string) ([]models.User, error) {
	var out []models.User
	err := s.db.WithContext(ctx).
		Where("ministry_id = ? AND role = ?", ministryID, roles.Leader).
		Order("first_name ASC, last_name ASC").
		Find(&out).Error
	return out, err
}

func (s *Server) listLeaders(c *gin.Context) {
	sessionData := mustSession(c)
	ministryID := ministryScope(c, sessionData)
	if ministryID == "" {
		s.respondError(c, people.ErrMinistryRequired, "Ministry required")
		return
	}

	leaders, err := s.leaders(c.Request.Context(), ministryID)
	if err != nil {
		s.respondError(c, err, "Failed to list leaders")
		return
	}
	c.JSON(http.StatusOK, leaders)
}

func (s *Server) createLeader(c *gin.Context) {
	sessionData := mustSession(c)
	ministryID := ministryScope(c, sessionData)
	if ministryID == "" {
		s.respondError(c, people.ErrMinistryRequired, "Ministry required")
		return
	}

	var req StaffRequest
	if !s.bind(c, &req) {
		return
	}

	user, err := s.createStaff(c.Request.Context(), req, roles.Leader, &ministryID)
	if err != nil {
		s.respondError(c, err, "Failed to create leader")
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("ministry_id", ministryID).
		Str("created_by", sessionData.UserID).
		Msg("Leader created")

	c.JSON(http.StatusCreated, user)
}

// deleteLeader removes a leader account and unassigns its open follow-ups
func (s *Server) deleteLeader(c *gin.Context) {
	sessionData := mustSession(c)
	id := c.Param("id")

	q := s.db.WithContext(c.Request.Context()).Where("role = ?", roles.Leader)
	if ministryID := ministryScope(c, sessionData); ministryID != "" {
		q = q.Where("ministry_id = ?", ministryID)
	}

	var user models.User
	if err := models.FindByID(q, id, &user); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Leader not found"})
			return
		}
		s.respondError(c, err, "Failed to load leader")
		return
	}

	err := s.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.FollowUp{}).
			Where("assigned_leader_id = ?", user.ID).
			Update("assigned_leader_id", nil).Error; err != nil {
			return fmt.Errorf("failed to unassign follow-ups: %w", err)
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		s.respondError(c, err, "Failed to delete leader")
		return
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("deleted_by", sessionData.UserID).
		Msg("Leader deleted")

	c.Status(http.StatusNoContent)
}

// PlatformStats summarizes every ministry
type PlatformStats struct {
	Ministries       int64         `json:"ministries"`
	Users            int64         `json:"users"`
	People           people.Counts `json:"people"`
	PendingFollowUps int64         `json:"pending_follow_ups"`
	Notifications    int64         `json:"notifications"`
}

// MinistryStats summarizes one ministry, or every ministry for an admin
// without ?ministry_id=
type MinistryStats struct {
	People           people.Counts `json:"people"`
	PendingFollowUps int64         `json:"pending_follow_ups"`
	Leaders          int64         `json:"leaders"`
	SMSQuota         int           `json:"sms_quota"`
	SMSUsed          int           `json:"sms_used"`
	SMSRemaining     int           `json:"sms_remaining"`
}

func (s *Server) platformStats(ctx context.Context) (*PlatformStats, error) {
	stats := &PlatformStats{}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Ministry{}).Count(&stats.Ministries).Error; err != nil {
		return nil, fmt.Errorf("failed to count ministries: %w", err)
	}
	if err := db.Model(&models.User{}).Count(&stats.Users).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.Model(&models.Notification{}).Count(&stats.Notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	var err error
	if stats.People, err = s.people.Count(ctx, people.Scope{}); err != nil {
		return nil, err
	}
	if stats.PendingFollowUps, err = s.followups.PendingCount(ctx, followups.Scope{}); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Server) ministryStats(ctx context.Context, scope followups.Scope) (*MinistryStats, error) {
	stats := &MinistryStats{}
	var err error
	if stats.People, err = s.people.Count(ctx, people.Scope{MinistryID: scope.MinistryID}); err != nil {
		return nil, err
	}
	if stats.PendingFollowUps, err = s.followups.PendingCount(ctx, scope); err != nil {
		return nil, err
	}
	if scope.MinistryID == "" {
		return stats, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("ministry_id = ? AND role = ?", scope.MinistryID, roles.Leader).
		Count(&stats.Leaders).Error; err != nil {
		return nil, fmt.Errorf("failed to count leaders: %w", err)
	}

	var ministry models.Ministry
	if err := models.FindByID(s.db.WithContext(ctx), scope.MinistryID, &ministry); err != nil {
		return nil, err
	}
	stats.SMSQuota = ministry.SMSQuota
	stats.SMSUsed = ministry.SMSUsed
	stats.SMSRemaining = ministry.SMSRemaining()
	return stats, nil
}

func (s *Server) getPlatformStats(c *gin.Context) {
	stats, err := s.platformStats(c.Request.Context())
	if err != nil {
		s.respondError(c, err, "Failed to compute stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getMinistryStats(c *gin.Context) {
	sessionData := mustSession(c)
	stats, err := s.ministryStats(c.Request.Context(), followUpScope(c, sessionData))
	if err != nil {
		s.respondError(c, err, "Failed to compute stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}
