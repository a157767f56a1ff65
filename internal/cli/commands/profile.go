package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flock-dev/flock/internal/cli/userconfig"
)

// NewProfileCmd creates the profile command group
func NewProfileCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage server profiles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:     "ls",
			Aliases: []string{"list"},
			Short:   "List profiles",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProfileList(env)
			},
		},
		&cobra.Command{
			Use:   "add <name> <server-url>",
			Short: "Add or update a profile",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProfileAdd(env, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "use [name]",
			Short: "Select the profile used by other commands",
			Long:  "Select the profile used by other commands. Without a name, choose one interactively.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				return runProfileUse(env, name)
			},
		},
	)
	return cmd
}

func runProfileList(env *Env) error {
	cfg, err := env.loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Profiles) == 0 {
		fmt.Fprintln(env.Out, "No profiles configured.")
		fmt.Fprintln(env.Out, "\nCreate one with: flock login --server <url>")
		return nil
	}

	w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tSERVER\tEMAIL")
	for _, p := range cfg.Profiles {
		marker := ""
		if p.Name == cfg.Current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, p.Name, p.Server, dash(p.Email))
	}
	return w.Flush()
}

func runProfileAdd(env *Env, name, server string) error {
	cfg, err := env.loadConfig()
	if err != nil {
		return err
	}
	p := userconfig.Profile{Name: name, Server: server}
	if existing, err := cfg.Profile(name); err == nil {
		p.Email = existing.Email
	}
	if err := cfg.Upsert(p); err != nil {
		return err
	}
	if cfg.Current == "" {
		cfg.Current = name
	}
	if err := env.saveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "✓ Saved profile %s\n", name)
	return nil
}

func runProfileUse(env *Env, name string) error {
	cfg, err := env.loadConfig()
	if err != nil {
		return err
	}

	if name == "" {
		if len(cfg.Profiles) == 0 {
			return fmt.Errorf("no profiles configured, run 'flock login --server <url>' first")
		}
		index, err := env.Prompt(cfg.Profiles)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(cfg.Profiles) {
			return fmt.Errorf("invalid profile selection %d", index)
		}
		name = cfg.Profiles[index].Name
	}

	if err := cfg.Use(name); err != nil {
		return err
	}
	if err := env.saveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(env.Out, "✓ Using profile %s\n", name)
	return nil
}

// NewVersionCmd creates the version command
func NewVersionCmd(env *Env, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI and server versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd.Context(), env, version)
		},
	}
}

func runVersion(ctx context.Context, env *Env, version string) error {
	fmt.Fprintf(env.Out, "flock version %s\n", version)

	cfg, err := env.loadConfig()
	if err != nil {
		return err
	}
	name := firstNonEmpty(env.Profile, cfg.Current)
	if name == "" {
		return nil
	}
	profile, err := cfg.Profile(name)
	if err != nil {
		return err
	}

	health, err := env.newClient(profile.Server, "").Health(ctx)
	if err != nil {
		fmt.Fprintf(env.Out, "server %s unreachable: %v\n", profile.Server, err)
		return nil
	}
	fmt.Fprintf(env.Out, "server %s version %s (%s)\n", profile.Server, health.Version, health.Status)
	return nil
}
