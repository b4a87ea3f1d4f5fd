package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/operation"
	"github.com/syntrixbase/medstore/internal/core/xqt"
	"github.com/syntrixbase/medstore/internal/services"
)

func newCmdTags(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage extended query tags",
	}
	cmd.AddCommand(
		newCmdTagsAdd(global),
		newCmdTagsList(global),
		newCmdTagsGet(global),
		newCmdTagsDelete(global),
	)
	return cmd
}

type addTagsOptions struct {
	global *globalOptions

	file  string
	entry xqt.Entry
	wait  time.Duration
}

func (o *addTagsOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "YAML list of tags (path, vr, private_creator, level)")
	cmd.Flags().StringVar(&o.entry.Path, "path", "", "tag path, keyword or (gggg,eeee)")
	cmd.Flags().StringVar(&o.entry.VR, "vr", "", "value representation, required for private tags")
	cmd.Flags().StringVar(&o.entry.PrivateCreator, "private-creator", "", "private creator of a private tag")
	cmd.Flags().StringVar(&o.entry.Level, "level", "", "Study, Series or Instance")
	cmd.Flags().DurationVar(&o.wait, "wait", 15*time.Minute, "how long to wait for a backfill, 0 to return at once")
}

func (o *addTagsOptions) entries() ([]xqt.Entry, error) {
	if o.file == "" {
		if o.entry.Path == "" {
			return nil, errors.New("either --file or --path is required")
		}
		return []xqt.Entry{o.entry}, nil
	}
	data, err := os.ReadFile(o.file)
	if err != nil {
		return nil, err
	}
	var entries []xqt.Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", o.file, err)
	}
	return entries, nil
}

func (o *addTagsOptions) run(cmd *cobra.Command) error {
	entries, err := o.entries()
	if err != nil {
		return err
	}
	return o.global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
		svc := m.Services()
		res, err := svc.AddTags.AddExtendedQueryTags(ctx, entries)
		if err != nil {
			return err
		}
		if res.OperationID != nil && o.wait > 0 {
			st, err := waitOperation(ctx, svc.Operations, *res.OperationID, o.wait)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
}

// waitOperation polls the operation until it finishes or timeout passes.
func waitOperation(ctx context.Context, ops operation.Client, id uuid.UUID, timeout time.Duration) (*operation.State, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	var st *operation.State
	err := backoff.Retry(func() error {
		var err error
		st, err = ops.GetState(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !st.Status.Terminal() {
			return fmt.Errorf("operation %s is %s", id, st.Status)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return st, err
	}
	if st.Status != operation.StatusCompleted {
		return st, fmt.Errorf("operation %s %s", id, st.Status)
	}
	return st, nil
}

func newCmdTagsAdd(global *globalOptions) *cobra.Command {
	o := &addTagsOptions{global: global}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add extended query tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	o.addFlags(cmd)
	return cmd
}

func newCmdTagsList(global *globalOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extended query tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
				tags, err := m.Services().GetTags.ListExtendedQueryTags(ctx, limit, offset)
				if err != nil {
					return err
				}
				if tags == nil {
					tags = []index.ExtendedQueryTag{}
				}
				return printJSON(cmd.OutOrStdout(), tags)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "max tags to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "tags to skip")
	return cmd
}

func newCmdTagsGet(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Show one extended query tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
				tag, err := m.Services().GetTags.GetExtendedQueryTag(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tag)
			})
		},
	}
}

func newCmdTagsDelete(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete PATH",
		Short: "Delete an extended query tag and its indexed values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return global.withServices(cmd, func(ctx context.Context, m *services.Manager) error {
				if err := m.Services().DeleteTags.DeleteExtendedQueryTag(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}
