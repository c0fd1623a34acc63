package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/engine"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show shadow history status",
		Long:  "Show head, the last checkpoint, and tracked files modified outside moss.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				st, err := a.engine.Status(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				printStatus(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printStatus(w io.Writer, st engine.StatusResult) {
	if !st.Enabled {
		fmt.Fprintln(w, "○ shadow tracking disabled (run `moss enable`)")
		return
	}
	if st.Corrupt != "" {
		fmt.Fprintf(w, "✕ history damaged, read-only: %s\n", st.Corrupt)
	}
	if st.Head == "" {
		fmt.Fprintln(w, "● enabled, no edits recorded yet")
		return
	}
	fmt.Fprintf(w, "● head %s\n", st.Head[:12])
	if st.LastCheckpoint != "" {
		fmt.Fprintf(w, "  %d edit(s) since checkpoint %s\n", st.UncommittedSinceCheckpoint, st.LastCheckpoint[:12])
	} else {
		fmt.Fprintf(w, "  %d edit(s) recorded, no checkpoint yet\n", st.UncommittedSinceCheckpoint)
	}
	if st.RealHeadDiverged {
		fmt.Fprintln(w, "  real HEAD moved since the last edit; undo needs --cross-checkpoint")
	}
	if len(st.Modified) > 0 {
		fmt.Fprintln(w, "  modified outside moss:")
		for _, p := range st.Modified {
			fmt.Fprintf(w, "    %s\n", p)
		}
	}
}
