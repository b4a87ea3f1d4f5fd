package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/services"
)

type deleteOptions struct {
	global *globalOptions
	target index.DeleteTarget
}

func (o *deleteOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.target.StudyInstanceUID, "study", "", "study instance UID")
	cmd.Flags().StringVar(&o.target.SeriesInstanceUID, "series", "", "series instance UID")
	cmd.Flags().StringVar(&o.target.SOPInstanceUID, "instance", "", "SOP instance UID")
	_ = cmd.MarkFlagRequired("study")
}

func (o *deleteOptions) run(cmd *cobra.Command) error {
	return o.global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
		deleted, err := m.Services().Delete.Delete(ctx, index.DefaultPartition, o.target)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), deleted)
	})
}

func newCmdDelete(global *globalOptions) *cobra.Command {
	o := &deleteOptions{global: global}
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a study, series or instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(cmd)
	return cmd
}
