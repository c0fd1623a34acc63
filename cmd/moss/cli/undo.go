package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

func newUndoCmd() *cobra.Command {
	var (
		opts        engine.UndoOptions
		pathArgs    []string
		granularity string
		lines       string
	)
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo recorded edits",
		Long: "Move head back --count commits and restore the files they touched.\n\n" +
			"With --path or a finer --granularity (file, hunk, lineRange) only the\n" +
			"selection is reverted, as a new corrective commit; everything else stays.\n" +
			"Undo stops at the last checkpoint (a real commit) unless --cross-checkpoint\n" +
			"is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := engine.ParseGranularity(granularity)
			if err != nil {
				return err
			}
			opts.Granularity = g
			if lines != "" {
				if opts.Lines, err = parseLineRange(lines); err != nil {
					return err
				}
				if granularity == "" {
					opts.Granularity = engine.GranularityLineRange
				}
			}
			if len(opts.Hunks) > 0 && granularity == "" {
				opts.Granularity = engine.GranularityHunk
			}

			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				for _, p := range pathArgs {
					rel, err := paths.ToRelativePath(a.root, p)
					if err != nil {
						return err
					}
					opts.Paths = append(opts.Paths, rel)
				}
				res, err := a.engine.Undo(ctx, opts)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if res.Corrective {
					fmt.Fprintf(w, "Reverted %s by %s undo in new commit %s\n",
						joinPaths(res.Changed), res.Granularity, shadow.ShortHash(res.To))
				} else {
					printNav(w, "Undid to", res.NavResult)
				}
				printForced(cmd.ErrOrStderr(), res.Forced)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "Number of commits to undo")
	cmd.Flags().StringSliceVar(&pathArgs, "path", nil, "Only revert these files (corrective commit)")
	cmd.Flags().StringVar(&granularity, "granularity", "", "commit, file, hunk or lineRange")
	cmd.Flags().IntSliceVar(&opts.Hunks, "hunk", nil, "Hunk numbers to revert (see `moss hunks`)")
	cmd.Flags().StringVar(&lines, "lines", "", "Line range to revert, e.g. 10-20")
	addNavFlags(cmd, &opts.Force, &opts.CrossCheckpoint)
	return cmd
}

func newRedoCmd() *cobra.Command {
	var opts engine.RedoOptions
	cmd := &cobra.Command{
		Use:   "redo [child]",
		Short: "Redo an undone edit",
		Long: "Move head forward to its child. When several branches start at head,\n" +
			"name the child by id prefix.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Selector = args[0]
			}
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				res, err := a.engine.Redo(ctx, opts)
				if err != nil {
					return err
				}
				printNav(cmd.OutOrStdout(), "Redid to", res)
				printForced(cmd.ErrOrStderr(), res.Forced)
				return nil
			})
		},
	}
	addNavFlags(cmd, &opts.Force, &opts.CrossCheckpoint)
	return cmd
}

func newGotoCmd() *cobra.Command {
	var opts engine.GotoOptions
	cmd := &cobra.Command{
		Use:   "goto <ref>",
		Short: "Move head to any shadow commit",
		Long: "Move head to a commit on any branch, restoring every file touched between\n" +
			"head and the target. ref is HEAD~N, root or an id prefix.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				res, err := a.engine.Goto(ctx, args[0], opts)
				if err != nil {
					return err
				}
				printNav(cmd.OutOrStdout(), "Moved to", res)
				printForced(cmd.ErrOrStderr(), res.Forced)
				return nil
			})
		},
	}
	addNavFlags(cmd, &opts.Force, &opts.CrossCheckpoint)
	return cmd
}

func addNavFlags(cmd *cobra.Command, force, crossCheckpoint *bool) {
	cmd.Flags().BoolVar(force, "force", false, "Overwrite files modified outside moss")
	cmd.Flags().BoolVar(crossCheckpoint, "cross-checkpoint", false, "Allow moving past the last checkpoint")
}

func printNav(w io.Writer, verb string, res engine.NavResult) {
	if res.From == res.To {
		fmt.Fprintf(w, "Already at %s\n", shadow.ShortHash(res.To))
		return
	}
	fmt.Fprintf(w, "%s %s", verb, shadow.ShortHash(res.To))
	if len(res.Changed) > 0 {
		fmt.Fprintf(w, ", restored %s", joinPaths(res.Changed))
	}
	fmt.Fprintln(w)
}

func printForced(w io.Writer, forced []string) {
	if len(forced) > 0 {
		fmt.Fprintf(w, "Overwrote local changes in %s\n", joinPaths(forced))
	}
}

// parseLineRange parses "N" or "N-M".
func parseLineRange(s string) (engine.LineRange, error) {
	startStr, endStr, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return engine.LineRange{}, fmt.Errorf("invalid line range %q", s)
	}
	end := start
	if found {
		if end, err = strconv.Atoi(strings.TrimSpace(endStr)); err != nil {
			return engine.LineRange{}, fmt.Errorf("invalid line range %q", s)
		}
	}
	if start < 1 || end < start {
		return engine.LineRange{}, fmt.Errorf("invalid line range %q", s)
	}
	return engine.LineRange{Start: start, End: end}, nil
}
