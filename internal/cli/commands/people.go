package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flock-dev/flock/internal/people"
)

// NewPeopleCmd creates the people command group
func NewPeopleCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "people",
		Short: "Browse the ministry's people",
	}
	cmd.AddCommand(newPeopleListCmd(env))
	return cmd
}

func newPeopleListCmd(env *Env) *cobra.Command {
	var (
		query string
		limit int
	)

	kinds := make([]string, len(people.Kinds))
	for i, k := range people.Kinds {
		kinds[i] = string(k)
	}

	cmd := &cobra.Command{
		Use:       "ls <" + strings.Join(kinds, "|") + ">",
		Aliases:   []string{"list"},
		Short:     "List people of one kind",
		Args:      cobra.ExactArgs(1),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeopleList(cmd.Context(), env, args[0], query, limit)
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Filter by name, email or phone")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rows")

	return cmd
}

func runPeopleList(ctx context.Context, env *Env, rawKind, query string, limit int) error {
	kind, err := people.ParseKind(rawKind)
	if err != nil {
		return err
	}

	conn, err := env.connect()
	if err != nil {
		return err
	}
	if err := conn.requireSession(ctx); err != nil {
		return err
	}

	page, err := conn.client.ListPeople(ctx, string(kind), query, limit)
	if err != nil {
		return conn.apiError(err)
	}

	if len(page.Items) == 0 {
		fmt.Fprintf(env.Out, "No %s found.\n", strings.ReplaceAll(string(kind), "-", " "))
		return nil
	}

	w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tPHONE\tADDED")
	fmt.Fprintln(w, "──\t────\t─────\t─────\t─────")
	for _, p := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.FullName(),
			dash(p.Email),
			dash(p.Phone),
			p.CreatedAt.Format("2006-01-02"),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if int64(len(page.Items)) < page.Total {
		fmt.Fprintf(env.Out, "\nShowing %d of %d. Use --limit or --query to narrow down.\n", len(page.Items), page.Total)
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
