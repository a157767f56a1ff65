package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flock-dev/flock/internal/people"
)

// PeopleListResponse is one page of a people directory
type PeopleListResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func (s *Server) listPeople(kind people.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData := mustSession(c)
		params := people.ListParams{
			Query:  c.Query("q"),
			Limit:  queryInt(c, "limit", 50),
			Offset: queryInt(c, "offset", 0),
		}

		items, total, err := s.people.List(c.Request.Context(), kind, peopleScope(c, sessionData), params)
		if err != nil {
			s.respondError(c, err, "Failed to list people")
			return
		}

		c.JSON(http.StatusOK, PeopleListResponse{
			Items:  items,
			Total:  total,
			Limit:  params.Limit,
			Offset: params.Offset,
		})
	}
}

func (s *Server) getPerson(kind people.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData := mustSession(c)
		rec, err := s.people.Get(c.Request.Context(), kind, peopleScope(c, sessionData), c.Param("id"))
		if err != nil {
			s.respondError(c, err, "Failed to load person")
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) createPerson(kind people.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData := mustSession(c)

		var req people.Input
		if !s.bind(c, &req) {
			return
		}

		rec, err := s.people.Create(c.Request.Context(), kind, ministryScope(c, sessionData), req)
		if err != nil {
			s.respondError(c, err, "Failed to create person")
			return
		}

		s.logger.Info().
			Str("kind", string(kind)).
			Str("person_id", rec.GetID()).
			Str("created_by", sessionData.UserID).
			Msg("Person added")

		c.JSON(http.StatusCreated, rec)
	}
}

func (s *Server) updatePerson(kind people.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData := mustSession(c)

		var req people.Patch
		if !s.bind(c, &req) {
			return
		}

		rec, err := s.people.Update(c.Request.Context(), kind, peopleScope(c, sessionData), c.Param("id"), req)
		if err != nil {
			s.respondError(c, err, "Failed to update person")
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) deletePerson(kind people.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionData := mustSession(c)
		id := c.Param("id")

		if err := s.people.Delete(c.Request.Context(), kind, peopleScope(c, sessionData), id); err != nil {
			s.respondError(c, err, "Failed to delete person")
			return
		}

		s.logger.Info().
			Str("kind", string(kind)).
			Str("person_id", id).
			Str("deleted_by", sessionData.UserID).
			Msg("Person deleted")

		c.Status(http.StatusNoContent)
	}
}

func (s *Server) promoteNewMember(c *gin.Context) {
	sessionData := mustSession(c)

	member, err := s.people.Promote(c.Request.Context(), peopleScope(c, sessionData), c.Param("id"))
	if err != nil {
		s.respondError(c, err, "Failed to promote new member")
		return
	}
	c.JSON(http.StatusCreated, member)
}
