package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/evocaition/logging"
	"github.com/Paranoid-AF/evocaition/serve"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		socketPath string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon editor plugins connect to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if verbose {
				log, err := logging.New("debug")
				if err != nil {
					return err
				}
				a.log = log
			}
			if socketPath == "" {
				socketPath = serve.ResolveSocketPath()
			}

			a.log.Info("starting", zap.String("socket", socketPath))
			srv, err := serve.NewServer(socketPath, a.engine(), serve.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				a.log.Info("shutting down")
				srv.Close()
			}()

			a.log.Info("ready")
			return srv.Serve()
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "socket path (default $EVOCAITION_SOCKET, $XDG_RUNTIME_DIR/evocaition.sock or /tmp/evocaition-<uid>.sock)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log every request and response")
	return cmd
}
