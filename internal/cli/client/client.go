package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flock-dev/flock/internal/auth"
	"github.com/flock-dev/flock/internal/session"
)

// Client represents an HTTP client for the Flock API. It implements
// session.Fetcher against the /api/auth endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

var _ session.Fetcher = (*Client)(nil)

// New creates a new API client. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient sets a custom HTTP client
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// Token returns the bearer token currently in use
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token string            `json:"token"`
	User  *auth.SessionData `json:"user"`
}

// Health is the answer of GET /health
type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// Person is the directory entry shared by every person kind
type Person struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName joins first and last name
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// PeoplePage is one page of a people directory
type PeoplePage struct {
	Items  []Person `json:"items"`
	Total  int64    `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// FollowUp is a scheduled contact with a person
type FollowUp struct {
	ID               string    `json:"id"`
	PersonKind       string    `json:"person_kind"`
	PersonID         string    `json:"person_id"`
	AssignedLeaderID *string   `json:"assigned_leader_id"`
	DueAt            time.Time `json:"due_at"`
	Channel          string    `json:"channel"`
	Note             string    `json:"note"`
	Status           string    `json:"status"`
	Attempts         int       `json:"attempts"`
}

// Me returns the signed-in user, or session.ErrUnauthenticated
func (c *Client) Me(ctx context.Context) (*auth.SessionData, error) {
	if c.Token() == "" {
		return nil, session.ErrUnauthenticated
	}
	var user auth.SessionData
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates and keeps the returned token for later calls
func (c *Client) Login(ctx context.Context, email, password string) (*auth.SessionData, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("invalid email or password")
		}
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, fmt.Errorf("login response is missing the session")
	}
	c.setToken(resp.Token)
	return resp.User, nil
}

// Logout ends the session on the server and forgets the token
func (c *Client) Logout(ctx context.Context) error {
	if c.Token() == "" {
		return session.ErrUnauthenticated
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.setToken("")
	return err
}

// Health reports the server status and version
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// ListPeople lists one kind of person, filtered by a free-text query
func (c *Client) ListPeople(ctx context.Context, kind, query string, limit int) (*PeoplePage, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/ministry/" + url.PathEscape(kind)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page PeoplePage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListFollowUps lists follow-ups, optionally only those with status
func (c *Client) ListFollowUps(ctx context.Context, status string) ([]FollowUp, error) {
	path := "/api/ministry/follow-ups"
	if status != "" {
		path += "?" + url.Values{"status": {status}}.Encode()
	}

	var resp struct {
		Items []FollowUp `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// do sends a JSON request and decodes a JSON answer into out, if non-nil.
// A 401 becomes session.ErrUnauthenticated.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		if resp.StatusCode == http.StatusUnauthorized && path != "/api/auth/login" {
			return fmt.Errorf("%w: %s", session.ErrUnauthenticated, apiErr.Error())
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
