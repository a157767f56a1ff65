// Package commands implements the flock CLI subcommands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/flock-dev/flock/internal/cli/auth"
	"github.com/flock-dev/flock/internal/cli/client"
	"github.com/flock-dev/flock/internal/cli/serverselect"
	"github.com/flock-dev/flock/internal/cli/userconfig"
	"github.com/flock-dev/flock/internal/logger"
	"github.com/flock-dev/flock/internal/session"
)

// Env carries everything a command touches outside the process, so tests can
// swap each piece.
type Env struct {
	Out    io.Writer
	ErrOut io.Writer

	// ConfigPath overrides userconfig.GetConfigPath when set
	ConfigPath string
	// Profile is the value of the --profile flag
	Profile string

	Tokens       auth.TokenStore
	Prompt       serverselect.Prompter
	ReadPassword func() (string, error)
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// DefaultEnv wires the terminal, the OS keychain and the real config file
func DefaultEnv() *Env {
	return &Env{
		Out:          os.Stdout,
		ErrOut:       os.Stderr,
		Tokens:       auth.Default,
		Prompt:       serverselect.PromptProfileSelection,
		ReadPassword: readPasswordFromTerminal,
		Logger:       logger.New(os.Stderr, "console").Level(zerolog.WarnLevel),
	}
}

func readPasswordFromTerminal() (string, error) {
	// Check if stdin is a terminal (not piped)
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or FLOCK_PASSWORD env var)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func (e *Env) configPath() (string, error) {
	if e.ConfigPath != "" {
		return e.ConfigPath, nil
	}
	return userconfig.GetConfigPath()
}

func (e *Env) loadConfig() (*userconfig.UserConfig, error) {
	path, err := e.configPath()
	if err != nil {
		return nil, err
	}
	return userconfig.LoadFrom(path)
}

func (e *Env) saveConfig(cfg *userconfig.UserConfig) error {
	path, err := e.configPath()
	if err != nil {
		return err
	}
	return userconfig.SaveTo(path, cfg)
}

func (e *Env) newClient(server, token string) *client.Client {
	c := client.New(server, token)
	if e.HTTPClient != nil {
		c.SetHTTPClient(e.HTTPClient)
	}
	return c
}

// connection is a resolved profile with a client and session provider for it
type connection struct {
	cfg      *userconfig.UserConfig
	profile  *userconfig.Profile
	client   *client.Client
	provider *session.Provider
}

// connect resolves the profile, loads its token and builds the session provider.
// A profile that never logged in gets a client without a token.
func (e *Env) connect() (*connection, error) {
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}

	current := cfg.Current
	profile, err := serverselect.ResolveProfile(cfg, e.Profile, e.Prompt)
	if err != nil {
		return nil, err
	}
	if cfg.Current != current {
		if err := e.saveConfig(cfg); err != nil {
			fmt.Fprintf(e.ErrOut, "Warning: failed to save selected profile: %v\n", err)
		}
	}

	token, err := e.Tokens.LoadToken(profile.Name)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		return nil, err
	}

	c := e.newClient(profile.Server, token)
	return &connection{
		cfg:      cfg,
		profile:  profile,
		client:   c,
		provider: session.NewProvider(c, session.WithLogger(e.Logger)),
	}, nil
}

// requireSession resolves the session and fails when nobody is signed in
func (conn *connection) requireSession(ctx context.Context) error {
	user, err := conn.provider.GetSession(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return notLoggedIn(conn.profile.Name)
	}
	return nil
}

func notLoggedIn(profile string) error {
	return fmt.Errorf("not logged in to profile '%s', run 'flock login' first", profile)
}

// apiError turns an expired session into a hint to log in again
func (conn *connection) apiError(err error) error {
	if errors.Is(err, session.ErrUnauthenticated) {
		return notLoggedIn(conn.profile.Name)
	}
	return err
}
