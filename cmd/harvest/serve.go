package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FranksOps/harvest/internal/api"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":5000", "listen address")
	addJobFlags(cmd)
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := a.newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	stopMetrics, err := a.startMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	err = api.NewServer(e.manager, a.logger).Run(ctx, a.cfg.Serve.Addr)

	// a job still running when the server stops is cancelled, not abandoned
	if e.manager.Cancel() {
		a.logger.Warn("cancelling running job")
		e.manager.Wait()
	}
	return err
}
