package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"automatosx/internal/memory"
)

func newMemoryCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Search and manage the persistent memory store",
	}
	cmd.AddCommand(
		newMemorySearchCmd(state),
		newMemoryListCmd(state),
		newMemoryAddCmd(state),
		newMemoryStatsCmd(state),
		newMemoryExportCmd(state),
		newMemoryImportCmd(state),
		newMemoryBackupCmd(state),
		newMemoryRestoreCmd(state),
		newMemoryClearCmd(state),
	)
	return cmd
}

func newMemorySearchCmd(state *rootState) *cobra.Command {
	var (
		limit     int
		entryType string
		agentID   string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over memory entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			q := memory.SearchQuery{
				Text:  strings.Join(args, " "),
				Limit: limit,
			}
			if entryType != "" || agentID != "" || sessionID != "" {
				q.Filters = &memory.Filters{AgentID: agentID, SessionID: sessionID}
				if entryType != "" {
					q.Filters.Types = []memory.EntryType{memory.EntryType(entryType)}
				}
			}

			results, err := app.Memory.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %.2f %s\n", r.Entry.ID, r.Similarity, firstLine(r.Entry.Content))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d result(s)\n", len(results))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	cmd.Flags().StringVar(&entryType, "type", "", "filter by entry type")
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	return cmd
}

func newMemoryListCmd(state *rootState) *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			entries, err := app.Memory.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s %-12s %s\n",
					e.ID, e.CreatedAt.Format("2006-01-02 15:04"), e.Metadata.Type, firstLine(e.Content))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")
	return cmd
}

func newMemoryAddCmd(state *rootState) *cobra.Command {
	var (
		entryType  string
		source     string
		agentID    string
		sessionID  string
		tags       []string
		importance float64
	)

	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Add a memory entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			entry, err := app.Memory.Add(cmd.Context(), strings.Join(args, " "), memory.Metadata{
				Type:       memory.EntryType(entryType),
				Source:     source,
				AgentID:    agentID,
				SessionID:  sessionID,
				Tags:       tags,
				Importance: importance,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added entry %d\n", entry.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&entryType, "type", string(memory.TypeOther), "entry type")
	cmd.Flags().StringVar(&source, "source", "cli", "entry source")
	cmd.Flags().StringVar(&agentID, "agent", "", "owning agent id")
	cmd.Flags().StringVar(&sessionID, "session", "", "owning session id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().Float64Var(&importance, "importance", 0, "importance in [0,1]")
	return cmd
}

func newMemoryStatsCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			stats, err := app.Memory.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Entries:  %d\n", stats.TotalEntries)
			fmt.Fprintf(cmd.OutOrStdout(), "DB size:  %d bytes\n", stats.DBSizeBytes)
			return nil
		},
	}
}

func newMemoryExportCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export all entries to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			if err := app.Memory.ExportToFile(cmd.Context(), args[0], nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", args[0])
			return nil
		},
	}
}

func newMemoryImportCmd(state *rootState) *cobra.Command {
	var (
		clear          bool
		skipDuplicates bool
		validate       bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import entries from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			result, err := app.Memory.ImportFromFile(cmd.Context(), args[0], memory.ImportOptions{
				ClearExisting:  clear,
				SkipDuplicates: skipDuplicates,
				Validate:       validate,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d\n", result.Imported, result.Skipped)
			for _, e := range result.Errors {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "wipe the store before importing")
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", true, "skip entries already present")
	cmd.Flags().BoolVar(&validate, "validate", true, "reject malformed entries")
	return cmd
}

func newMemoryBackupCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a consistent snapshot of the memory database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			if err := app.Memory.Backup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", args[0])
			return nil
		},
	}
}

func newMemoryRestoreCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the memory database with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			if err := app.Memory.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored from %s (%d entries)\n", args[0], app.Memory.Count())
			return nil
		},
	}
}

func newMemoryClearCmd(state *rootState) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every memory entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			app, err := state.App()
			if err != nil {
				return err
			}

			if err := app.Memory.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Memory cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
