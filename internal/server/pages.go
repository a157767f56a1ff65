package server

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/flock-dev/flock/internal/access"
	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/followups"
	"github.com/flock-dev/flock/internal/models"
	"github.com/flock-dev/flock/internal/people"
	"github.com/flock-dev/flock/internal/roles"
)

// peopleIndexPath opens the people page on its first list
const peopleIndexPath = "/ministry-admin/people"

//go:embed templates/*.html
var templatesFS embed.FS

// pageData is passed to every page template
type pageData struct {
	Title  string
	Page   string
	User   *auth.SessionData
	Params map[string]string
	Nav    []navLink
	Error  string
	Flash  string
	Data   any
}

type navLink struct {
	Path   string
	Title  string
	Active bool
}

// pageLoader fetches the data a page renders
type pageLoader func(c *gin.Context, sessionData *auth.SessionData, params map[string]string) (any, error)

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"datetime": func(t time.Time) string {
		return t.Format("Jan 2, 2006 15:04 MST")
	},
	"homePath": func(r roles.Role) string {
		return roles.HomePath(r)
	},
}

func parseTemplates() (*template.Template, error) {
	return template.New("pages").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
}

// setupPages registers a gated handler for every route in the table
func (s *Server) setupPages() error {
	tmpl, err := parseTemplates()
	if err != nil {
		return fmt.Errorf("failed to parse page templates: %w", err)
	}
	for _, r := range s.routes.Routes() {
		if tmpl.Lookup(r.Page) == nil {
			return fmt.Errorf("route %s has no %q template", r.Path, r.Page)
		}
	}
	s.router.SetHTMLTemplate(tmpl)

	for _, r := range s.routes.Routes() {
		s.router.GET(r.Path, s.page(r))
	}
	s.router.GET(peopleIndexPath, s.peopleIndex)

	s.router.POST(roles.LoginPath, s.submitLogin)
	s.router.POST("/logout", s.submitLogout)
	s.router.GET("/logout", s.submitLogout)
	s.router.POST("/join/:slug", s.submitJoin)
	return nil
}

func (s *Server) loaders() map[string]pageLoader {
	return map[string]pageLoader{
		"join":               s.loadJoin,
		"admin_dashboard":    s.loadPlatformStats,
		"admin_ministries":   s.loadMinistries,
		"ministry_dashboard": s.loadMinistryStats,
		"ministry_leaders":   s.loadLeaders,
		"people":             s.loadPeople,
		"leader_dashboard":   s.loadMinistryStats,
		"follow_ups":         s.loadFollowUps,
	}
}

func (s *Server) routeByPage(page string) access.Route {
	for _, r := range s.routes.Routes() {
		if r.Page == page {
			return r
		}
	}
	return access.Route{Page: page}
}

// sessionState is the gate input for this request. The session is resolved
// before handlers run, so it is never loading.
func sessionState(c *gin.Context) access.State {
	sessionData, _ := GetSessionData(c)
	return access.State{User: sessionData}
}

// page runs the route's gate and renders or redirects
func (s *Server) page(route access.Route) gin.HandlerFunc {
	loader := s.loaders()[route.Page]
	return func(c *gin.Context) {
		state := sessionState(c)
		decision := access.Check(route, state)

		switch decision.Outcome {
		case access.Redirect:
			s.logger.Debug().
				Str("path", c.Request.URL.Path).
				Str("location", decision.Location).
				Str("reason", string(decision.Reason)).
				Msg("Page redirect")
			c.Redirect(http.StatusFound, decision.Location)
			return
		case access.Render:
		default:
			s.logger.Error().Str("outcome", decision.Outcome.String()).Msg("Unexpected gate outcome")
			c.String(http.StatusInternalServerError, "Internal server error")
			return
		}

		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}

		data := s.newPageData(c, route, state.User)
		data.Params = params
		if loader != nil {
			loaded, err := loader(c, state.User, params)
			if err != nil {
				s.renderPageError(c, err)
				return
			}
			data.Data = loaded
		}
		c.HTML(http.StatusOK, route.Page, data)
	}
}

// peopleIndex applies the people page gate, then sends allowed users to the
// converts list
func (s *Server) peopleIndex(c *gin.Context) {
	decision := access.Check(s.routeByPage("people"), sessionState(c))
	if decision.Outcome == access.Redirect {
		c.Redirect(http.StatusFound, decision.Location)
		return
	}
	c.Redirect(http.StatusFound, peopleIndexPath+"/"+string(people.Converts))
}

func (s *Server) newPageData(c *gin.Context, route access.Route, user *auth.SessionData) pageData {
	return pageData{
		Title: route.Title,
		Page:  route.Page,
		User:  user,
		Nav:   s.nav(c.Request.URL.Path, user),
	}
}

// nav lists the parameterless pages the user is allowed to open
func (s *Server) nav(current string, user *auth.SessionData) []navLink {
	if user == nil {
		return nil
	}
	state := access.State{User: user}
	var links []navLink
	for _, r := range s.routes.Routes() {
		if r.Kind != access.Protected || strings.Contains(r.Path, ":") {
			continue
		}
		if access.Check(r, state).Outcome != access.Render {
			continue
		}
		links = append(links, navLink{Path: r.Path, Title: r.Title, Active: r.Path == current})
	}
	return links
}

func (s *Server) renderPageError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, people.ErrUnknownKind) {
		status = http.StatusNotFound
	} else {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Failed to load page")
	}
	sessionData, _ := GetSessionData(c)
	c.HTML(status, "not_found", pageData{
		Title: http.StatusText(status),
		User:  sessionData,
		Nav:   s.nav(c.Request.URL.Path, sessionData),
	})
}

// notFound answers unknown paths with JSON under /api and a page elsewhere
func (s *Server) notFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	s.renderPageError(c, gorm.ErrRecordNotFound)
}

func (s *Server) submitLogin(c *gin.Context) {
	route := s.routeByPage("login")
	state := sessionState(c)
	if decision := access.EvaluateLogin(state); decision.Outcome == access.Redirect {
		c.Redirect(http.StatusFound, decision.Location)
		return
	}

	email := c.PostForm("email")
	user, err := s.authenticate(c.Request.Context(), email, c.PostForm("password"), roles.NewSet(roles.All...))
	if err != nil {
		status := http.StatusUnauthorized
		message := "Invalid email or password"
		if !errors.Is(err, ErrInvalidCredentials) && !errors.Is(err, ErrRoleNotAllowed) {
			s.logger.Error().Err(err).Msg("Failed to authenticate")
			status = http.StatusInternalServerError
			message = "Something went wrong, please try again"
		}
		data := s.newPageData(c, route, nil)
		data.Error = message
		data.Params = map[string]string{"email": email}
		c.HTML(status, route.Page, data)
		return
	}

	if _, _, err := s.issueSession(c, user); err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("role", user.Role.String()).Msg("User logged in via form")
	c.Redirect(http.StatusFound, roles.HomePath(user.Role))
}

func (s *Server) submitLogout(c *gin.Context) {
	s.clearSession(c)
	c.Redirect(http.StatusFound, roles.LoginPath)
}

// submitJoin records a visitor card posted from the public join page
func (s *Server) submitJoin(c *gin.Context) {
	route := s.routeByPage("join")
	ministry, err := s.ministryBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		s.renderPageError(c, err)
		return
	}

	data := s.newPageData(c, route, nil)
	data.Params = map[string]string{"slug": ministry.Slug}
	data.Data = ministry

	ck := captureGuest
	switch c.PostForm("kind") {
	case "salvation":
		ck = captureSalvation
	case "new-member":
		ck = captureNewMember
	}

	var req SignupRequest
	if err := c.ShouldBind(&req); err == nil {
		err = s.validator.Struct(&req)
	}
	if err != nil {
		data.Error = "Please check the form and try again"
		c.HTML(http.StatusBadRequest, route.Page, data)
		return
	}

	if _, err := s.capture(c.Request.Context(), ministry, ck, req); err != nil {
		s.logger.Error().Err(err).Str("ministry_id", ministry.ID).Msg("Failed to record sign-up")
		data.Error = "Something went wrong, please try again"
		c.HTML(http.StatusInternalServerError, route.Page, data)
		return
	}

	data.Flash = "Thank you! Someone from " + ministry.Name + " will be in touch."
	c.HTML(http.StatusCreated, route.Page, data)
}

func (s *Server) loadJoin(c *gin.Context, _ *auth.SessionData, params map[string]string) (any, error) {
	return s.ministryBySlug(c.Request.Context(), params["slug"])
}

func (s *Server) loadPlatformStats(c *gin.Context, _ *auth.SessionData, _ map[string]string) (any, error) {
	return s.platformStats(c.Request.Context())
}

func (s *Server) loadMinistries(c *gin.Context, _ *auth.SessionData, _ map[string]string) (any, error) {
	var ministries []models.Ministry
	err := s.db.WithContext(c.Request.Context()).Order("name ASC").Find(&ministries).Error
	return ministries, err
}

func (s *Server) loadMinistryStats(c *gin.Context, sessionData *auth.SessionData, _ map[string]string) (any, error) {
	return s.ministryStats(c.Request.Context(), followUpScope(c, sessionData))
}

func (s *Server) loadLeaders(c *gin.Context, sessionData *auth.SessionData, _ map[string]string) (any, error) {
	ministryID := ministryScope(c, sessionData)
	if ministryID == "" {
		return []models.User{}, nil
	}
	return s.leaders(c.Request.Context(), ministryID)
}

// peoplePage is the data behind the people directory page
type peoplePage struct {
	Kind  people.Kind
	Kinds []people.Kind
	Query string
	Items any
	Total int64
}

func (s *Server) loadPeople(c *gin.Context, sessionData *auth.SessionData, params map[string]string) (any, error) {
	kind, err := people.ParseKind(params["kind"])
	if err != nil {
		return nil, err
	}
	query := c.Query("q")
	items, total, err := s.people.List(c.Request.Context(), kind, peopleScope(c, sessionData), people.ListParams{
		Query:  query,
		Limit:  queryInt(c, "limit", 50),
		Offset: queryInt(c, "offset", 0),
	})
	if err != nil {
		return nil, err
	}
	return peoplePage{Kind: kind, Kinds: people.Kinds, Query: query, Items: items, Total: total}, nil
}

func (s *Server) loadFollowUps(c *gin.Context, sessionData *auth.SessionData, _ map[string]string) (any, error) {
	return s.followups.List(c.Request.Context(), followUpScope(c, sessionData), followups.ListParams{
		Status: models.FollowUpStatus(c.Query("status")),
	})
}
