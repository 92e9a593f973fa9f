package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davidroman0O/stageflow/api"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.close()

			srv := api.NewServer(rt.engine, rt.controller, logger)
			srv.Forms = rt.forms
			srv.Metrics = rt.metrics
			server := &http.Server{
				Addr:         cfg.Server.Addr,
				Handler:      api.NewEcho(srv, "stageflow"),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			serverErrors := make(chan error, 1)
			go func() {
				logger.Info("Serving %d workflows on %s", len(rt.registry.GetAvailableWorkflows()), cfg.Server.Addr)
				serverErrors <- server.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			pauseAll(rt.engine, logger)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// pauseAll pauses every active instance so stage timers stop on shutdown.
func pauseAll(e *workflow.Engine, logger workflow.Logger) {
	for _, inst := range e.GetActiveWorkflows() {
		if inst.Status == workflow.StatusActive && e.PauseWorkflow(inst.ID) {
			logger.Debug("Paused %s at %s", inst.ID, inst.CurrentStageID)
		}
	}
}
