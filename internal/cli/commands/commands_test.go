package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flock-dev/flock/internal/access"
	"github.com/flock-dev/flock/internal/auth"
	cliauth "github.com/flock-dev/flock/internal/cli/auth"
	"github.com/flock-dev/flock/internal/cli/client"
	"github.com/flock-dev/flock/internal/cli/userconfig"
	"github.com/flock-dev/flock/internal/roles"
)

const testPassword = "correct-horse"

// memTokens is an in-memory token store
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (m *memTokens) SaveToken(profile, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[profile] = token
	return nil
}

func (m *memTokens) LoadToken(profile string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[profile]
	if !ok {
		return "", cliauth.ErrNoToken
	}
	return token, nil
}

func (m *memTokens) DeleteToken(profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, profile)
	return nil
}

func (m *memTokens) get(profile string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[profile]
	return token, ok
}

// fakeAPI answers the endpoints the CLI calls
type fakeAPI struct {
	users map[string]*auth.SessionData // by email

	mu           sync.Mutex
	logoutStatus int
	lastStatusQ  string
	lastQuery    string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		users: map[string]*auth.SessionData{
			"admin@example.org":  {UserID: "u-admin", Role: roles.Admin, FirstName: "Ada", LastName: "Admin", Email: "admin@example.org"},
			"leader@example.org": {UserID: "u-leader", Role: roles.Leader, FirstName: "Lee", LastName: "Leader", Email: "leader@example.org", MinistryID: "m-1"},
		},
		logoutStatus: http.StatusNoContent,
	}
}

func (f *fakeAPI) userFor(r *http.Request) *auth.SessionData {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return f.users[strings.TrimPrefix(token, "tok-")]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, client.Health{Status: "online", Service: "flock-api", Version: "1.2.3"})
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req client.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		user, ok := f.users[req.Email]
		if !ok || req.Password != testPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid email or password"})
			return
		}
		writeJSON(w, http.StatusOK, client.LoginResponse{Token: "tok-" + req.Email, User: user})
	})
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		user := f.userFor(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
			return
		}
		writeJSON(w, http.StatusOK, user)
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		status := f.logoutStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("GET /api/ministry/guests", func(w http.ResponseWriter, r *http.Request) {
		if f.userFor(r) == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
			return
		}
		f.mu.Lock()
		f.lastQuery = r.URL.Query().Get("q")
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, client.PeoplePage{
			Items: []client.Person{
				{ID: "p-1", FirstName: "Grace", LastName: "Hopper", Email: "grace@example.org", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
				{ID: "p-2", FirstName: "Alan", CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
			},
			Total: 3,
			Limit: 2,
		})
	})
	mux.HandleFunc("GET /api/ministry/follow-ups", func(w http.ResponseWriter, r *http.Request) {
		if f.userFor(r) == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required"})
			return
		}
		f.mu.Lock()
		f.lastStatusQ = r.URL.Query().Get("status")
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"items": []client.FollowUp{
			{ID: "f-1", PersonKind: "converts", PersonID: "p-9", DueAt: time.Now().Add(time.Hour), Channel: "sms", Status: "pending", Note: "Salvation decision follow-up"},
		}})
	})
	return mux
}

type testEnv struct {
	env    *Env
	out    *bytes.Buffer
	errOut *bytes.Buffer
	tokens *memTokens
	api    *fakeAPI
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("FLOCK_EMAIL", "")
	t.Setenv("FLOCK_PASSWORD", "")

	api := newFakeAPI()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	te := &testEnv{
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
		tokens: &memTokens{tokens: map[string]string{}},
		api:    api,
		server: srv,
	}
	te.env = &Env{
		Out:        te.out,
		ErrOut:     te.errOut,
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		Tokens:     te.tokens,
		Prompt: func([]userconfig.Profile) (int, error) {
			t.Fatal("unexpected prompt")
			return 0, nil
		},
		ReadPassword: func() (string, error) { return testPassword, nil },
		HTTPClient:   srv.Client(),
		Logger:       zerolog.Nop(),
	}
	return te
}

// login signs in as email on a profile named "default"
func (te *testEnv) login(t *testing.T, email string) {
	t.Helper()
	require.NoError(t, runLogin(context.Background(), te.env, loginOptions{server: te.server.URL, email: email}))
	te.out.Reset()
}

func (te *testEnv) config(t *testing.T) *userconfig.UserConfig {
	t.Helper()
	cfg, err := userconfig.LoadFrom(te.env.ConfigPath)
	require.NoError(t, err)
	return cfg
}

func TestLogin(t *testing.T) {
	te := newTestEnv(t)

	err := runLogin(context.Background(), te.env, loginOptions{server: te.server.URL, email: "leader@example.org"})
	require.NoError(t, err)

	token, ok := te.tokens.get(defaultProfileName)
	require.True(t, ok)
	assert.Equal(t, "tok-leader@example.org", token)

	cfg := te.config(t)
	assert.Equal(t, defaultProfileName, cfg.Current)
	p, err := cfg.Profile(defaultProfileName)
	require.NoError(t, err)
	assert.Equal(t, te.server.URL, p.Server)
	assert.Equal(t, "leader@example.org", p.Email)

	out := te.out.String()
	assert.Contains(t, out, "Login successful")
	assert.Contains(t, out, "Lee Leader (leader@example.org)")
	assert.Contains(t, out, "Role: LEADER")
	assert.Contains(t, out, "Home: "+roles.LeaderDashboardPath)
}

func TestLoginRemembersEmail(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "admin@example.org")

	require.NoError(t, runLogin(context.Background(), te.env, loginOptions{}))
	assert.Contains(t, te.out.String(), "Ada Admin")
}

func TestLoginFromEnvironment(t *testing.T) {
	te := newTestEnv(t)
	t.Setenv("FLOCK_EMAIL", "admin@example.org")
	t.Setenv("FLOCK_PASSWORD", testPassword)
	te.env.ReadPassword = func() (string, error) {
		t.Fatal("password should come from FLOCK_PASSWORD")
		return "", nil
	}

	require.NoError(t, runLogin(context.Background(), te.env, loginOptions{server: te.server.URL}))
	token, _ := te.tokens.get(defaultProfileName)
	assert.Equal(t, "tok-admin@example.org", token)
}

func TestLoginFailures(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		te := newTestEnv(t)
		err := runLogin(context.Background(), te.env, loginOptions{server: te.server.URL, email: "admin@example.org", password: "nope"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid email or password")
		_, ok := te.tokens.get(defaultProfileName)
		assert.False(t, ok)
	})

	t.Run("missing email", func(t *testing.T) {
		te := newTestEnv(t)
		err := runLogin(context.Background(), te.env, loginOptions{server: te.server.URL})
		assert.ErrorContains(t, err, "email is required")
	})

	t.Run("password prompt fails", func(t *testing.T) {
		te := newTestEnv(t)
		te.env.ReadPassword = func() (string, error) { return "", errors.New("not a terminal") }
		err := runLogin(context.Background(), te.env, loginOptions{server: te.server.URL, email: "admin@example.org"})
		assert.ErrorContains(t, err, "not a terminal")
	})

	t.Run("no profile", func(t *testing.T) {
		te := newTestEnv(t)
		err := runLogin(context.Background(), te.env, loginOptions{email: "admin@example.org"})
		assert.ErrorContains(t, err, "no profiles configured")
	})

	t.Run("bad server url", func(t *testing.T) {
		te := newTestEnv(t)
		err := runLogin(context.Background(), te.env, loginOptions{server: "localhost:8080", email: "admin@example.org"})
		assert.Error(t, err)
	})
}

func TestWhoami(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "leader@example.org")

	require.NoError(t, runWhoami(context.Background(), te.env))
	out := te.out.String()
	assert.Contains(t, out, "Lee Leader (leader@example.org)")
	assert.Contains(t, out, "Role:     LEADER")
	assert.Contains(t, out, "Ministry: m-1")
}

func TestWhoamiSignedOut(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "leader@example.org")
	require.NoError(t, te.tokens.SaveToken(defaultProfileName, "tok-revoked"))

	require.NoError(t, runWhoami(context.Background(), te.env))
	assert.Contains(t, te.out.String(), "Not logged in to default")
}

func TestLogout(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "admin@example.org")

	require.NoError(t, runLogout(context.Background(), te.env))
	assert.Contains(t, te.out.String(), "Logged out of default")
	_, ok := te.tokens.get(defaultProfileName)
	assert.False(t, ok)

	te.out.Reset()
	require.NoError(t, runLogout(context.Background(), te.env))
	assert.Contains(t, te.out.String(), "Not logged in to default")
}

func TestLogoutServerFailureStillClearsToken(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "admin@example.org")
	te.api.logoutStatus = http.StatusInternalServerError

	require.NoError(t, runLogout(context.Background(), te.env))
	assert.Contains(t, te.errOut.String(), "server logout failed")
	_, ok := te.tokens.get(defaultProfileName)
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	table := access.DefaultTable()

	tests := []struct {
		name   string
		email  string // empty means signed out
		path   string
		follow bool
		want   []string
	}{
		{
			name: "signed out is sent to login",
			path: roles.LeaderDashboardPath,
			want: []string{"redirect  /leader/dashboard -> /login (unauthenticated)"},
		},
		{
			name:   "signed out follows to the login form",
			path:   "/admin/ministries",
			follow: true,
			want:   []string{"redirect  /admin/ministries -> /login", `render    /login  "Sign in" (anonymous)`},
		},
		{
			name:  "login form redirects signed-in users home",
			email: "leader@example.org",
			path:  roles.LoginPath,
			want:  []string{"redirect  /login -> /leader/dashboard (authenticated)"},
		},
		{
			name:   "forbidden page redirects to own dashboard",
			email:  "leader@example.org",
			path:   roles.AdminDashboardPath,
			follow: true,
			want:   []string{"-> /leader/dashboard (forbidden)", `render    /leader/dashboard  "Leader dashboard" (authorized)`},
		},
		{
			name:  "allowed page renders",
			email: "admin@example.org",
			path:  "/ministry-admin/people/guests",
			want:  []string{`render    /ministry-admin/people/guests  "People" (authorized)`},
		},
		{
			name: "public page renders for anyone",
			path: "/join/grace-church",
			want: []string{`render    /join/grace-church  "Join us" (public)`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv(t)
			if tt.email != "" {
				te.login(t, tt.email)
			} else {
				require.NoError(t, runProfileAdd(te.env, defaultProfileName, te.server.URL))
				te.out.Reset()
			}

			require.NoError(t, runOpen(context.Background(), te.env, table, tt.path, tt.follow))
			for _, w := range tt.want {
				assert.Contains(t, te.out.String(), w)
			}
		})
	}
}

func TestOpenUnknownPath(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "admin@example.org")

	err := runOpen(context.Background(), te.env, access.DefaultTable(), "/nowhere", false)
	assert.ErrorContains(t, err, "no page at /nowhere")
}

func TestPeopleList(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "leader@example.org")

	require.NoError(t, runPeopleList(context.Background(), te.env, "guests", "gra", 2))
	out := te.out.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Grace Hopper")
	assert.Contains(t, out, "grace@example.org")
	assert.Contains(t, out, "2026-03-01")
	assert.Contains(t, out, "Showing 2 of 3")
	assert.Equal(t, "gra", te.api.lastQuery)
}

func TestPeopleListErrors(t *testing.T) {
	te := newTestEnv(t)
	require.NoError(t, runProfileAdd(te.env, defaultProfileName, te.server.URL))

	err := runPeopleList(context.Background(), te.env, "visitors", "", 10)
	assert.Error(t, err)

	err = runPeopleList(context.Background(), te.env, "guests", "", 10)
	assert.ErrorContains(t, err, "not logged in")
}

func TestFollowUpsList(t *testing.T) {
	te := newTestEnv(t)
	te.login(t, "leader@example.org")

	require.NoError(t, runFollowUpsList(context.Background(), te.env, "pending"))
	out := te.out.String()
	assert.Contains(t, out, "converts/p-9")
	assert.Contains(t, out, "sms")
	assert.Contains(t, out, "Salvation decision follow-up")
	assert.Equal(t, "pending", te.api.lastStatusQ)
}

func TestProfiles(t *testing.T) {
	te := newTestEnv(t)

	require.NoError(t, runProfileList(te.env))
	assert.Contains(t, te.out.String(), "No profiles configured")

	require.NoError(t, runProfileAdd(te.env, "grace", "https://grace.example.org"))
	require.NoError(t, runProfileAdd(te.env, "local", te.server.URL))
	assert.Equal(t, "grace", te.config(t).Current, "first profile becomes current")

	require.NoError(t, runProfileUse(te.env, "local"))
	assert.Equal(t, "local", te.config(t).Current)

	te.env.Prompt = func(profiles []userconfig.Profile) (int, error) {
		require.Len(t, profiles, 2)
		return 0, nil
	}
	require.NoError(t, runProfileUse(te.env, ""))
	assert.Equal(t, "grace", te.config(t).Current)

	te.out.Reset()
	require.NoError(t, runProfileList(te.env))
	assert.Contains(t, te.out.String(), "*  grace")

	assert.Error(t, runProfileUse(te.env, "missing"))
}

func TestProfileFlagSelectsServer(t *testing.T) {
	te := newTestEnv(t)
	require.NoError(t, runProfileAdd(te.env, "elsewhere", "http://127.0.0.1:1"))
	te.env.Profile = "local"
	require.NoError(t, runLogin(context.Background(), te.env, loginOptions{server: te.server.URL, email: "admin@example.org"}))

	token, ok := te.tokens.get("local")
	require.True(t, ok)
	assert.Equal(t, "tok-admin@example.org", token)
	assert.Equal(t, "local", te.config(t).Current)
}

func TestVersion(t *testing.T) {
	te := newTestEnv(t)

	require.NoError(t, runVersion(context.Background(), te.env, "0.9.0"))
	assert.Equal(t, "flock version 0.9.0\n", te.out.String())

	require.NoError(t, runProfileAdd(te.env, defaultProfileName, te.server.URL))
	te.out.Reset()
	require.NoError(t, runVersion(context.Background(), te.env, "0.9.0"))
	assert.Contains(t, te.out.String(), "version 1.2.3 (online)")
}
