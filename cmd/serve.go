// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/petitionfetch/internal/observability"
	"github.com/xkilldash9x/petitionfetch/internal/retrieval"
	"github.com/xkilldash9x/petitionfetch/internal/server"
)

func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP capture service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			cred := retrieval.Credential{Username: cfg.Target.Username, Password: cfg.Target.Password}
			if !cred.Valid() {
				logger.Warn("No site credentials configured; every capture will fail with auth_error")
			}

			comps, err := initializeComponents(ctx, cfg, logger)
			if comps != nil {
				defer comps.Shutdown()
			}
			if err != nil {
				return err
			}

			var recorder server.Recorder
			if comps.Store != nil {
				recorder = comps.Store
			}

			srv := server.New(cfg.Server, comps.Sequencer, cred, recorder, logger)
			logger.Info("Starting capture service", zap.String("address", cfg.Server.Addr), zap.Int("max_sessions", cfg.Server.MaxSessions))
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return serveCmd
}
