package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"automatosx/internal/server"
	"automatosx/pkg/logger"
)

func newServeCmd(state *rootState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the status HTTP server and maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := state.App()
			if err != nil {
				return err
			}

			srv := server.New(server.Options{
				Addr:     addr,
				Router:   app.Router,
				Sessions: app.Sessions,
				Memory:   app.Memory,
				Loader:   app.Loader,
				Logger:   logger.Named("server"),
			})

			app.Maintenance.Start()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7777", "listen address")
	return cmd
}
