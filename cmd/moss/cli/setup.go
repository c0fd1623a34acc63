package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/paths"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/settings"
	"github.com/rhizome-lab/moss-sub000/cmd/moss/cli/shadow"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the shadow history for this worktree",
		Long: "Create the shadow store and its root commit, capturing the current real\n" +
			"HEAD. Recording the first edit does this automatically.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), cmd.ErrOrStderr(), func(ctx context.Context, a *app) error {
				root, err := a.engine.Init(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Shadow history ready in %s (root %s)\n",
					paths.ShadowDir, shadow.ShortHash(root))
				return nil
			})
		},
	}
}

func newEnableCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Turn shadow tracking on for this worktree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setEnabled(cmd.OutOrStdout(), true, local)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Write to settings.local.json instead of settings.json")
	return cmd
}

func newDisableCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Turn shadow tracking off for this worktree",
		Long: "Turn shadow tracking off. Edits are no longer recorded and navigation\n" +
			"commands refuse to run. Existing history is kept.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return setEnabled(cmd.OutOrStdout(), false, local)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Write to settings.local.json instead of settings.json")
	return cmd
}

func setEnabled(w io.Writer, enabled, local bool) error {
	root, err := paths.WorktreeRoot()
	if err != nil {
		return err
	}
	s, err := settings.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	s.Enabled = enabled

	file := paths.SettingsFile
	if local {
		err = settings.SaveLocal(root, s)
		file = paths.LocalFile
	} else {
		err = settings.Save(root, s)
	}
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(w, "Shadow tracking %s (%s)\n", state, file)
	return nil
}
