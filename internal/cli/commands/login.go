package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flock-dev/flock/internal/cli/serverselect"
	"github.com/flock-dev/flock/internal/cli/userconfig"
	"github.com/flock-dev/flock/internal/roles"
	"github.com/flock-dev/flock/internal/session"
)

const defaultProfileName = "default"

type loginOptions struct {
	server   string
	email    string
	password string
}

// NewLoginCmd creates the login command
func NewLoginCmd(env *Env) *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to a Flock server",
		Long: `Sign in to a Flock server and store the session token in the OS keychain.

Pass --server the first time to create a profile for the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), env, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "", "Server URL, creates or updates the profile")
	cmd.Flags().StringVar(&opts.email, "email", "", "Email address (or set FLOCK_EMAIL)")
	cmd.Flags().StringVar(&opts.password, "password", "", "Password (or set FLOCK_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(ctx context.Context, env *Env, opts loginOptions) error {
	cfg, err := env.loadConfig()
	if err != nil {
		return err
	}

	name := env.Profile
	if opts.server != "" {
		if name == "" {
			name = defaultProfileName
		}
		p := userconfig.Profile{Name: name, Server: opts.server}
		if existing, err := cfg.Profile(name); err == nil {
			p.Email = existing.Email
		}
		if err := cfg.Upsert(p); err != nil {
			return err
		}
		cfg.Current = name
	}

	profile, err := serverselect.ResolveProfile(cfg, name, env.Prompt)
	if err != nil {
		return err
	}

	// Check for environment variables (useful for CI/CD)
	email := firstNonEmpty(opts.email, os.Getenv("FLOCK_EMAIL"), profile.Email)
	if email == "" {
		return fmt.Errorf("email is required (use --email flag or FLOCK_EMAIL env var)")
	}
	password := firstNonEmpty(opts.password, os.Getenv("FLOCK_PASSWORD"))
	if password == "" {
		password, err = env.ReadPassword()
		if err != nil {
			return err
		}
	}

	apiClient := env.newClient(profile.Server, "")
	provider := session.NewProvider(apiClient, session.WithLogger(env.Logger))

	fmt.Fprintf(env.Out, "Logging in to %s (%s)...\n", profile.Name, profile.Server)

	user, err := provider.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := env.Tokens.SaveToken(profile.Name, apiClient.Token()); err != nil {
		return fmt.Errorf("failed to save authentication token: %w", err)
	}

	profile.Email = email
	if cfg.Current == "" {
		cfg.Current = profile.Name
	}
	if err := env.saveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintln(env.Out, "✓ Login successful!")
	fmt.Fprintf(env.Out, "  User: %s (%s)\n", user.FullName(), user.Email)
	fmt.Fprintf(env.Out, "  Role: %s\n", user.Role)
	fmt.Fprintf(env.Out, "  Home: %s\n", roles.HomePath(user.Role))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
