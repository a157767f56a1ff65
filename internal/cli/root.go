// Package cli is the flock command line client.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/flock-dev/flock/internal/cli/commands"
)

// NewRootCmd builds the flock command tree around env
func NewRootCmd(env *commands.Env, version string) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "flock",
		Short: "Flock - ministry follow-up from the terminal",
		Long: `Flock CLI - sign in to a Flock server, check which pages your role can
open, and browse people and follow-ups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				env.Logger = env.Logger.Level(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&env.Profile, "profile", "p", "", "Profile to use (defaults to the current profile)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log session activity to stderr")

	rootCmd.SetOut(env.Out)
	rootCmd.SetErr(env.ErrOut)

	rootCmd.AddCommand(
		commands.NewVersionCmd(env, version),
		commands.NewLoginCmd(env),
		commands.NewLogoutCmd(env),
		commands.NewWhoamiCmd(env),
		commands.NewOpenCmd(env),
		commands.NewPeopleCmd(env),
		commands.NewFollowUpsCmd(env),
		commands.NewProfileCmd(env),
	)

	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context, version string) error {
	rootCmd := NewRootCmd(commands.DefaultEnv(), version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
