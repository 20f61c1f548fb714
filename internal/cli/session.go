package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"automatosx/internal/session"
)

func newSessionCmd(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage collaboration sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(state),
		newSessionShowCmd(state),
		newSessionCompleteCmd(state),
		newSessionFailCmd(state),
	)
	return cmd
}

func newSessionListCmd(state *rootState) *cobra.Command {
	var (
		status string
		agent  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			var sessions []*session.Session
			if agent != "" {
				sessions = app.Sessions.GetActiveSessionsForAgent(agent)
			} else {
				sessions = app.Sessions.List(session.Status(status))
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s  %-15s  %s\n",
					s.ID, s.Status, s.Initiator, firstLine(s.Task))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d session(s)\n", len(sessions))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, completed, failed)")
	cmd.Flags().StringVar(&agent, "agent", "", "show only active sessions the agent participates in")
	return cmd
}

func newSessionShowCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			s, err := app.Sessions.Get(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", s.ID)
			fmt.Fprintf(out, "Status:    %s\n", s.Status)
			fmt.Fprintf(out, "Initiator: %s\n", s.Initiator)
			fmt.Fprintf(out, "Task:      %s\n", s.Task)
			fmt.Fprintf(out, "Agents:    %s\n", strings.Join(s.Agents, ", "))
			fmt.Fprintf(out, "Created:   %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Updated:   %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))
			for k, v := range s.Metadata {
				fmt.Fprintf(out, "Meta %s: %v\n", k, v)
			}
			return nil
		},
	}
}

func newSessionCompleteCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a session completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}
			if err := app.Sessions.Complete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s completed\n", args[0])
			return nil
		},
	}
}

func newSessionFailCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark a session failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}
			if err := app.Sessions.Fail(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s failed\n", args[0])
			return nil
		},
	}
}
