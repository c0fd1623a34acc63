package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/retention"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

func newPruneCmd() *cobra.Command {
	var (
		opts         retention.PruneOptions
		pathArg      string
		allWorktrees bool
		yes          bool
		expire       bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "prune [commit]...",
		Short: "Remove branches from shadow history",
		Long: "Remove the named commits and everything after them, or with --path every\n" +
			"dead branch that starts by touching the file. --expire applies the\n" +
			"retention window now. The root and the commits head descends from are\n" +
			"never removed without confirmation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if allWorktrees {
				opts.Scope = retention.ScopeAllWorktrees
			}
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				p := a.pruner()
				var (
					results []retention.PruneResult
					err     error
				)
				switch {
				case expire:
					if len(args) > 0 || pathArg != "" {
						return errors.New("--expire cannot be combined with commits or --path")
					}
					results, err = p.ApplyRetention(ctx, a.settings.RetentionDays, opts.Scope)
				default:
					opts.Commits = args
					if pathArg != "" {
						if opts.Path, err = paths.ToRelativePath(a.root, pathArg); err != nil {
							return err
						}
					}
					opts.Confirm = yes
					results, err = p.Prune(ctx, opts)
					var live *shadow.LiveDescendantsError
					if errors.As(err, &live) && !yes && canPrompt() {
						ok, promptErr := confirmLivePrune(live)
						if promptErr != nil {
							return promptErr
						}
						if !ok {
							fmt.Fprintln(cmd.OutOrStdout(), "Prune cancelled")
							return nil
						}
						opts.Confirm = true
						results, err = p.Prune(ctx, opts)
					}
				}
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				printPrune(cmd.OutOrStdout(), results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pathArg, "path", "", "Remove dead branches that touch this file")
	cmd.Flags().BoolVar(&allWorktrees, "all-worktrees", false, "Apply --path or --expire to every worktree of this repository")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Move head out of a pruned branch without asking")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite modified files when moving head")
	cmd.Flags().BoolVar(&expire, "expire", false, "Remove dead branches older than retention_days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

// canPrompt reports whether an interactive confirmation is possible.
func canPrompt() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func confirmLivePrune(live *shadow.LiveDescendantsError) (bool, error) {
	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Head is inside the branch at %s. Move head to its parent and prune?", shadow.ShortHash(live.Commit))).
				Description("Files touched by the pruned commits are restored to the parent's state.").
				Value(&confirmed),
		),
	).WithAccessible(os.Getenv("ACCESSIBLE") != "")

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get confirmation: %w", err)
	}
	return confirmed, nil
}

func printPrune(w io.Writer, results []retention.PruneResult) {
	total := 0
	for _, r := range results {
		total += len(r.Removed)
		if len(results) > 1 {
			fmt.Fprintf(w, "%s: removed %d commit(s)\n", r.Worktree, len(r.Removed))
		}
		if r.HeadMove != "" {
			fmt.Fprintf(w, "Moved head to %s\n", r.HeadMove[:12])
		}
		if len(r.Skipped) > 0 {
			fmt.Fprintf(w, "Kept %d commit(s) on head's path\n", len(r.Skipped))
		}
	}
	fmt.Fprintf(w, "Removed %d commit(s)\n", total)
}
