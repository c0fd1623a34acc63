package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

func newRecordCmd() *cobra.Command {
	var (
		op       string
		message  string
		workflow string
		targets  []string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "record <path>...",
		Short: "Record edits already made to files",
		Long: "Record the current content of the given files as one shadow commit.\n" +
			"The previous content is what the shadow history last recorded, else the\n" +
			"file at the real HEAD, else absent.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				files := make([]string, 0, len(args))
				for _, arg := range args {
					rel, err := paths.ToRelativePath(a.root, arg)
					if err != nil {
						return err
					}
					files = append(files, rel)
				}

				if !a.engine.Repo().Enabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "Shadow tracking is disabled; nothing recorded")
					return nil
				}

				var operation shadow.Operation
				id, diffs, err := a.engine.RecordSnapshot(ctx, files, targets, engine.EditMetadata{
					Message:  message,
					Workflow: workflow,
					Force:    force,
				}, func(diffs []engine.FileDiff) (shadow.Operation, []engine.FileDiff, error) {
					diffs = changedOnly(diffs)
					operation = inferOperation(diffs)
					if op != "" {
						var err error
						if operation, err = shadow.ParseOperation(op); err != nil {
							return "", nil, err
						}
					}
					return operation, diffs, nil
				})
				if err != nil {
					return err
				}
				if len(diffs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No changes to record")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s: %s %s\n", shadow.ShortHash(id), operation, joinPaths(diffPaths(diffs)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&op, "op", "", "Operation: insert, delete, replace, move or rename (inferred when empty)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message stored with the commit")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow or tool that made the edit")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Logical targets of the edit (defaults to the paths)")
	cmd.Flags().BoolVar(&force, "force", false, "Record even if the files diverged from the shadow history")
	return cmd
}

func changedOnly(diffs []engine.FileDiff) []engine.FileDiff {
	out := diffs[:0]
	for _, d := range diffs {
		if d.BeforeExists == d.AfterExists && bytes.Equal(d.Before, d.After) {
			continue
		}
		if !d.BeforeExists && !d.AfterExists {
			continue
		}
		out = append(out, d)
	}
	return out
}

func inferOperation(diffs []engine.FileDiff) shadow.Operation {
	created, deleted := 0, 0
	for _, d := range diffs {
		if !d.BeforeExists {
			created++
		}
		if !d.AfterExists {
			deleted++
		}
	}
	switch {
	case created == len(diffs):
		return shadow.OpInsert
	case deleted == len(diffs):
		return shadow.OpDelete
	case created == 1 && deleted == 1 && len(diffs) == 2:
		return shadow.OpMove
	default:
		return shadow.OpReplace
	}
}

func diffPaths(diffs []engine.FileDiff) []string {
	out := make([]string, len(diffs))
	for i, d := range diffs {
		out[i] = d.Path
	}
	return out
}
