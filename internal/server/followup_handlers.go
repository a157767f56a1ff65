package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/roles"
)

func (s *Server) listFollowUps(c *gin.Context) {
	sessionData := mustSession(c)

	params := followups.ListParams{
		Status: models.FollowUpStatus(c.Query("status")),
		Limit:  queryInt(c, "limit", 100),
	}
	if raw := c.Query("due_by"); raw != "" {
		dueBy, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "due_by must be an RFC 3339 timestamp"})
			return
		}
		params.DueBy = &dueBy
	}

	items, err := s.followups.List(c.Request.Context(), followUpScope(c, sessionData), params)
	if err != nil {
		s.respondError(c, err, "Failed to list follow-ups")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) createFollowUp(c *gin.Context) {
	sessionData := mustSession(c)

	var req followups.ScheduleInput
	if !s.bind(c, &req) {
		return
	}

	// Leaders only ever own what they schedule
	if sessionData.Role == roles.Leader {
		req.AssignedLeaderID = &sessionData.UserID
	}

	fu, err := s.followups.Schedule(c.Request.Context(), ministryScope(c, sessionData), req)
	if err != nil {
		s.respondError(c, err, "Failed to schedule follow-up")
		return
	}
	c.JSON(http.StatusCreated, fu)
}

func (s *Server) updateFollowUp(c *gin.Context) {
	sessionData := mustSession(c)

	var req followups.UpdateInput
	if !s.bind(c, &req) {
		return
	}

	if sessionData.Role == roles.Leader && req.AssignedLeaderID != nil && *req.AssignedLeaderID != sessionData.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Leaders cannot reassign follow-ups"})
		return
	}

	fu, err := s.followups.Update(c.Request.Context(), followUpScope(c, sessionData), c.Param("id"), req)
	if err != nil {
		s.respondError(c, err, "Failed to update follow-up")
		return
	}
	c.JSON(http.StatusOK, fu)
}

func (s *Server) completeFollowUp(c *gin.Context) {
	sessionData := mustSession(c)

	fu, err := s.followups.Complete(c.Request.Context(), followUpScope(c, sessionData), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to complete follow-up")
		return
	}
	c.JSON(http.StatusOK, fu)
}

func (s *Server) cancelFollowUp(c *gin.Context) {
	sessionData := mustSession(c)

	fu, err := s.followups.Cancel(c.Request.Context(), followUpScope(c, sessionData), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to cancel follow-up")
		return
	}
	c.JSON(http.StatusOK, fu)
}
