package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/store"
	"github.com/syntrixbase/medstore/internal/dicom"
	"github.com/syntrixbase/medstore/internal/services"
)

type storeOptions struct {
	global *globalOptions

	study   string
	baseURL string
}

func (o *storeOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.study, "study", "", "reject instances outside this study")
	cmd.Flags().StringVar(&o.baseURL, "base-url", "", "prefix of the retrieve URLs in the response")
}

// readEntries reads DICOM JSON files holding one dataset or an array.
func readEntries(paths []string) ([]store.InstanceEntry, error) {
	var entries []store.InstanceEntry
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var items []json.RawMessage
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &items); err != nil {
				return nil, fmt.Errorf("%s: %w", p, err)
			}
		} else {
			items = []json.RawMessage{trimmed}
		}
		for i, raw := range items {
			ds, err := dicom.ParseJSON(raw)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", p, i, err)
			}
			entries = append(entries, store.InstanceEntry{Dataset: ds, File: raw})
		}
	}
	return entries, nil
}

func (o *storeOptions) run(cmd *cobra.Command, paths []string) error {
	entries, err := readEntries(paths)
	if err != nil {
		return err
	}
	return o.global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
		resp, err := m.Services().Store.Store(ctx, index.DefaultPartition, entries, o.study)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), resp.Dataset(o.baseURL)); err != nil {
			return err
		}
		if resp.Status == store.StatusFailure {
			return fmt.Errorf("no instance was stored")
		}
		return nil
	})
}

func newCmdStore(global *globalOptions) *cobra.Command {
	o := &storeOptions{global: global}
	cmd := &cobra.Command{
		Use:   "store FILE...",
		Short: "Store DICOM JSON instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args)
		},
	}
	o.addFlags(cmd)
	return cmd
}
