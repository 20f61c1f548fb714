package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"automatosx/internal/config"
	"automatosx/internal/pathutil"
)

func newInitCmd(state *rootState) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the .automatosx directory skeleton and default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := state.projectRoot
			layout := config.NewLayout(root)

			dirs := []string{
				layout.AgentsDir(),
				layout.AbilitiesDir(),
				layout.TeamsDir(),
				layout.TemplatesDir(),
				filepath.Dir(layout.MemoryDBPath()),
				filepath.Dir(layout.SessionsPath()),
				layout.CheckpointsDir(),
				layout.WorkspacesDir(),
				layout.PRDDir(),
				layout.TmpDir(),
				layout.LogsDir(),
			}
			for _, d := range dirs {
				if err := pathutil.EnsureDir(d); err != nil {
					return err
				}
			}

			cfgPath := filepath.Join(root, config.ConfigFileName)
			if _, err := os.Stat(cfgPath); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, skipping (use --force to overwrite)\n", config.ConfigFileName)
				return nil
			}

			data, err := json.MarshalIndent(config.Default(), "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfgPath, append(data, '\n'), 0o644); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", layout.DataDir())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newCleanupCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run tmp and memory retention cleanup immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			app.Maintenance.RunOnce()

			removed, err := app.Memory.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleanup done, %d memory entries removed\n", removed)
			return nil
		},
	}
}
