package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"automatosx/internal/orchestration"
	"automatosx/internal/stage"
)

func newRunCmd(state *rootState) *cobra.Command {
	var (
		useStages bool
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "run <agent> <task>",
		Short: "Execute a task with an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			agentName := args[0]
			task := strings.Join(args[1:], " ")

			if useStages {
				result, runErr := app.Stages.Run(cmd.Context(), agentName, task)
				if result != nil && !result.Completed && result.CheckpointID != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Checkpoint saved: %s\n", result.CheckpointID)
				}
				if runErr != nil {
					return runErr
				}
				printStageResults(cmd, result)
				return nil
			}

			result, err := app.Executor.Run(cmd.Context(), agentName, task, orchestration.ContextOptions{
				SessionID: sessionID,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Response.Content)
			for _, d := range result.Delegations {
				fmt.Fprintf(cmd.ErrOrStderr(), "delegation -> %s [%s] (%s)\n",
					d.Target, d.Status, d.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&useStages, "stages", false, "run the agent's workflow stages")
	cmd.Flags().StringVar(&sessionID, "session", "", "join an existing session")
	return cmd
}

func newResumeCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <checkpoint-id>",
		Short: "Resume a checkpointed stage pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			result, err := app.Stages.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStageResults(cmd, result)
			return nil
		},
	}
}

func printStageResults(cmd *cobra.Command, result *stage.PipelineResult) {
	for _, sr := range result.StageResults {
		status := "ok"
		if !sr.Success {
			status = "failed"
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "stage %s [%s] (%dms)\n", sr.Name, status, sr.DurationMs)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.FinalOutput())
}
