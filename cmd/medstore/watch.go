package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/medstore/internal/core/changefeed"
	"github.com/syntrixbase/medstore/internal/services"
)

type watchOptions struct {
	global *globalOptions

	name string
}

func (o *watchOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.name, "name", "medstore-watch", "durable consumer name")
}

func (o *watchOptions) run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	return o.global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
		consumer, err := m.NewChangeConsumer(o.name)
		if err != nil {
			return err
		}
		msgs, err := consumer.Subscribe(ctx)
		if err != nil {
			return err
		}
		for msg := range msgs {
			ev, err := changefeed.Decode(msg)
			if err != nil {
				cmd.PrintErrf("skipping malformed event on %s: %v\n", msg.Subject(), err)
				_ = msg.Ack()
				continue
			}
			if err := printJSON(cmd.OutOrStdout(), ev); err != nil {
				_ = msg.Nak()
				return err
			}
			_ = msg.Ack()
		}
		return nil
	})
}

func newCmdWatch(global *globalOptions) *cobra.Command {
	o := &watchOptions{global: global}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print instance change events as they are published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(cmd)
	return cmd
}
