package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/jsonutil"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/trailers"
)

func newHistoryCmd() *cobra.Command {
	var (
		opts    engine.HistoryOptions
		asJSON  bool
		pathArg string
	)
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"log"},
		Short:   "List shadow commits",
		Long: "List the commits from the root to head, oldest first. With --all every\n" +
			"branch is listed in creation order.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				if pathArg != "" {
					rel, err := paths.ToRelativePath(a.root, pathArg)
					if err != nil {
						return err
					}
					opts.Path = rel
				}
				entries, err := a.engine.History(ctx, opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				printHistory(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&opts.AllBranches, "all", false, "List commits on every branch")
	cmd.Flags().StringVar(&pathArg, "path", "", "Only commits touching this file")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Show only the most recent N commits")
	return cmd
}

func printHistory(w io.Writer, entries []engine.CommitSummary) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No shadow history yet")
		return
	}
	for _, e := range entries {
		marker := " "
		if e.IsHead {
			marker = "*"
		}
		var tags []string
		if e.Checkpoint {
			tags = append(tags, "checkpoint")
		}
		if e.Resync {
			tags = append(tags, "resync")
		}
		if e.Children > 1 {
			tags = append(tags, fmt.Sprintf("%d branches", e.Children))
		}
		line := fmt.Sprintf("%s %s  %s  %-7s  %s", marker, e.ID[:12],
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Operation, joinPaths(e.Paths))
		if e.Message != "" {
			line += "  " + trailers.Subject(e.Message)
		}
		if len(tags) > 0 {
			line += "  [" + strings.Join(tags, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, v any) error {
	return jsonutil.Write(w, v)
}

func newShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show [ref]",
		Short: "Show a shadow commit and its diff",
		Long:  "Show a commit as a unified diff. ref is HEAD (default), HEAD~N, root or an id prefix.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := "HEAD"
			if len(args) == 1 {
				ref = args[0]
			}
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				res, err := a.engine.Show(ctx, ref)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				w := cmd.OutOrStdout()
				c := res.Commit
				fmt.Fprintf(w, "commit %s\n", c.ID)
				if c.Parent != "" {
					fmt.Fprintf(w, "parent %s\n", c.Parent)
				}
				fmt.Fprintf(w, "op     %s\n", c.Operation)
				fmt.Fprintf(w, "date   %s\n", c.Timestamp.Local().Format("2006-01-02 15:04:05"))
				if c.Workflow != "" {
					fmt.Fprintf(w, "via    %s\n", c.Workflow)
				}
				if c.RealVCSHead != "" {
					fmt.Fprintf(w, "real   %s\n", c.RealVCSHead)
				}
				if c.Message != "" {
					fmt.Fprintf(w, "\n    %s\n", strings.ReplaceAll(c.Message, "\n", "\n    "))
				}
				if res.Diff != "" {
					fmt.Fprintf(w, "\n%s", res.Diff)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHunksCmd() *cobra.Command {
	var (
		count  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "hunks <path>",
		Short: "List numbered hunks for a partial undo",
		Long: "List the changed regions of a file across the last --count commits,\n" +
			"numbered for `moss undo --granularity hunk --hunk N`.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				rel, err := paths.ToRelativePath(a.root, args[0])
				if err != nil {
					return err
				}
				hunks, err := a.engine.Hunks(ctx, rel, count)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), hunks)
				}
				w := cmd.OutOrStdout()
				if len(hunks) == 0 {
					fmt.Fprintf(w, "%s has no changes in the last %d commit(s)\n", rel, max(count, 1))
					return nil
				}
				for _, h := range hunks {
					fmt.Fprintf(w, "hunk %d  (old line %d, new line %d)\n", h.Index, h.OldStart(), h.NewStart())
					for _, l := range h.Removed {
						fmt.Fprintf(w, "  -%s", withNewline(l))
					}
					for _, l := range h.Added {
						fmt.Fprintf(w, "  +%s", withNewline(l))
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of commits to look back")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
