package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewFollowUpsCmd creates the followups command group
func NewFollowUpsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "followups",
		Aliases: []string{"follow-ups"},
		Short:   "Browse scheduled follow-ups",
	}
	cmd.AddCommand(newFollowUpsListCmd(env))
	return cmd
}

func newFollowUpsListCmd(env *Env) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List follow-ups visible to you",
		Long:    "List follow-ups. Leaders only see the follow-ups assigned to them.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollowUpsList(cmd.Context(), env, status)
		},
	}

	cmd.Flags().StringVar(&status, "status", "pending", "Only show this status (pending, queued, sent, completed, cancelled, failed), empty for all")

	return cmd
}

func runFollowUpsList(ctx context.Context, env *Env, status string) error {
	conn, err := env.connect()
	if err != nil {
		return err
	}
	if err := conn.requireSession(ctx); err != nil {
		return err
	}

	items, err := conn.client.ListFollowUps(ctx, status)
	if err != nil {
		return conn.apiError(err)
	}

	if len(items) == 0 {
		fmt.Fprintln(env.Out, "No follow-ups found.")
		return nil
	}

	w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDUE\tPERSON\tCHANNEL\tSTATUS\tNOTE")
	fmt.Fprintln(w, "──\t───\t──────\t───────\t──────\t────")
	for _, fu := range items {
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\n",
			fu.ID,
			fu.DueAt.Local().Format("2006-01-02 15:04"),
			fu.PersonKind,
			fu.PersonID,
			fu.Channel,
			fu.Status,
			dash(fu.Note),
		)
	}
	return w.Flush()
}
