package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/medstore/internal/config"
	"github.com/syntrixbase/medstore/internal/logging"
	"github.com/syntrixbase/medstore/internal/services"
)

// globalOptions are shared by every command.
type globalOptions struct {
	configDir string
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.configDir, "config-dir", "config", "directory holding config.yml and config.local.yml")
}

func (o *globalOptions) load() (*config.Config, error) {
	return config.Load(o.configDir)
}

// withServices runs fn against an initialized manager without the HTTP
// server. Logs go to stderr so stdout stays parseable.
func (o *globalOptions) withServices(cmd *cobra.Command, fn func(ctx context.Context, m *services.Manager) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logging.Shutdown()
	slog.SetDefault(logger)

	ctx := cmd.Context()
	m := services.NewManager(cfg, services.Options{}, logger)
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if err := m.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Shutdown finished with errors", "error", err)
		}
	}()
	return fn(ctx, m)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	o := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "medstore",
		Short:         "DICOM instance store and extended query tag manager",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	o.addFlags(cmd)

	cmd.AddCommand(
		newCmdServe(o),
		newCmdStore(o),
		newCmdDelete(o),
		newCmdTags(o),
		newCmdWatch(o),
		newCmdVersion(),
	)
	return cmd
}

func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "medstore version %s\n", Version)
		},
	}
}
