package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/settings"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/telemetry"
)

const environmentHelp = `
Environment Variables:
  MOSS_SHADOW_DISABLED   Set to true to turn shadow tracking off.
  MOSS_LOG_LEVEL         Log verbosity (debug, info, warn, error).
  MOSS_REGISTRY_PATH     Location of the worktree registry database.
  MOSS_TELEMETRY_OPTOUT  Set to any value to disable telemetry.
  ACCESSIBLE             Set to any value to use plain text prompts.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moss",
		Short: "Shadow history for agent edits",
		Long: "moss records every edit made through it in a per-worktree shadow history,\n" +
			"separate from your real commits, so edits can be undone, redone and\n" +
			"revisited across branches.\n" + environmentHelp,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newHunksCmd())
	cmd.AddCommand(newUndoCmd())
	cmd.AddCommand(newRedoCmd())
	cmd.AddCommand(newGotoCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newEnableCmd())
	cmd.AddCommand(newDisableCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// TrackCommand sends the opt-in usage event for an executed command.
func TrackCommand(cmd *cobra.Command, err error) {
	var telemetryEnabled *bool
	enabled := false
	if root, rootErr := paths.WorktreeRoot(); rootErr == nil {
		if s, loadErr := settings.Load(root); loadErr == nil {
			telemetryEnabled = s.Telemetry
			enabled = s.Enabled
		}
	}
	ev, ok := telemetry.EventFor(cmd, enabled, ErrorKind(err))
	if !ok {
		return
	}
	client := telemetry.NewClient(Version, telemetryEnabled)
	defer client.Close()
	client.Track(ev)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "moss %s (%s)\n", Version, Commit)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
