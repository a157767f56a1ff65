package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flock-dev/flock/internal/access"
	"github.com/flock-dev/flock/internal/roles"
)

// maxRedirects bounds how many gate redirects open --follow walks
const maxRedirects = 5

// NewLogoutCmd creates the logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context(), env)
		},
	}
}

func runLogout(ctx context.Context, env *Env) error {
	conn, err := env.connect()
	if err != nil {
		return err
	}

	if conn.client.Token() == "" {
		fmt.Fprintf(env.Out, "Not logged in to %s.\n", conn.profile.Name)
		return nil
	}

	// The local session is cleared even when the server cannot be reached
	if err := conn.provider.Logout(ctx); err != nil {
		fmt.Fprintf(env.ErrOut, "Warning: server logout failed: %v\n", err)
	}
	if err := env.Tokens.DeleteToken(conn.profile.Name); err != nil {
		return err
	}

	fmt.Fprintf(env.Out, "✓ Logged out of %s\n", conn.profile.Name)
	return nil
}

// NewWhoamiCmd creates the whoami command
func NewWhoamiCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context(), env)
		},
	}
}

func runWhoami(ctx context.Context, env *Env) error {
	conn, err := env.connect()
	if err != nil {
		return err
	}

	user, err := conn.provider.GetSession(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		fmt.Fprintf(env.Out, "Not logged in to %s (%s).\n", conn.profile.Name, conn.profile.Server)
		return nil
	}

	fmt.Fprintf(env.Out, "%s (%s)\n", user.FullName(), user.Email)
	fmt.Fprintf(env.Out, "  Profile:  %s (%s)\n", conn.profile.Name, conn.profile.Server)
	fmt.Fprintf(env.Out, "  Role:     %s\n", user.Role)
	if user.MinistryID != "" {
		fmt.Fprintf(env.Out, "  Ministry: %s\n", user.MinistryID)
	}
	fmt.Fprintf(env.Out, "  Home:     %s\n", roles.HomePath(user.Role))
	return nil
}

// NewOpenCmd creates the open command
func NewOpenCmd(env *Env) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Show what the web app does when you open a page",
		Long: `Evaluate the page gate for a path with your current session and print
whether the page renders or where you would be redirected.`,
		Example: "  flock open /admin/dashboard\n  flock open /ministry-admin/people/guests --follow",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(cmd.Context(), env, access.DefaultTable(), args[0], follow)
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Follow redirects until a page renders")

	return cmd
}

func runOpen(ctx context.Context, env *Env, table *access.Table, path string, follow bool) error {
	conn, err := env.connect()
	if err != nil {
		return err
	}

	if _, err := conn.provider.GetSession(ctx); err != nil {
		return err
	}
	state := conn.provider.State()

	seen := map[string]bool{}
	for hop := 0; ; hop++ {
		decision, route, err := table.Authorize(path, state)
		if err != nil {
			if errors.Is(err, access.ErrNoRoute) {
				return fmt.Errorf("no page at %s", path)
			}
			return err
		}

		switch decision.Outcome {
		case access.Render:
			fmt.Fprintf(env.Out, "render    %s  %q (%s)\n", path, route.Title, decision.Reason)
			return nil
		case access.Loading:
			fmt.Fprintf(env.Out, "loading   %s\n", path)
			return nil
		}

		fmt.Fprintf(env.Out, "redirect  %s -> %s (%s)\n", path, decision.Location, decision.Reason)
		if !follow {
			return nil
		}
		seen[path] = true
		path = decision.Location
		if seen[path] || hop+1 >= maxRedirects {
			return fmt.Errorf("too many redirects, stopped at %s", path)
		}
	}
}
