package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

type rootState struct {
	projectRoot string
	app         *App
}

func (s *rootState) App() (*App, error) {
	if s.app != nil {
		return s.app, nil
	}
	app, err := NewApp(s.projectRoot)
	if err != nil {
		return nil, err
	}
	s.app = app
	return app, nil
}

// NewRootCmd builds the automatosx command tree.
func NewRootCmd() *cobra.Command {
	state := &rootState{}

	root := &cobra.Command{
		Use:           "automatosx",
		Short:         "Multi-agent orchestration for assistant CLIs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.app != nil {
				state.app.Close()
			}
		},
	}

	cwd, _ := os.Getwd()
	root.PersistentFlags().StringVarP(&state.projectRoot, "project", "p", cwd, "project root directory")

	root.AddCommand(
		newInitCmd(state),
		newRunCmd(state),
		newResumeCmd(state),
		newAgentCmd(state),
		newMemoryCmd(state),
		newSessionCmd(state),
		newServeCmd(state),
		newCleanupCmd(state),
	)

	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
