package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/medstore/internal/logging"
	"github.com/syntrixbase/medstore/internal/services"
)

type serveOptions struct {
	global *globalOptions

	host      string
	noCleanup bool
}

func (o *serveOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.host, "host", "", "override server.host")
	cmd.Flags().BoolVar(&o.noCleanup, "no-cleanup", false, "do not run the deleted-instance cleanup worker")
}

func (o *serveOptions) run(cmd *cobra.Command) error {
	cfg, err := o.global.load()
	if err != nil {
		return err
	}
	logger, err := logging.Initialize(cfg.Logging)
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	m := services.NewManager(cfg, services.Options{
		RunServer:  true,
		RunCleanup: !o.noCleanup,
		ListenHost: o.host,
	}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	logger.Info("medstore started", "addr", cfg.Server.Addr(), "version", Version)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return m.Shutdown(shutdownCtx)
}

func newCmdServe(global *globalOptions) *cobra.Command {
	o := &serveOptions{global: global}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(cmd)
	return cmd
}
