package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

type syncStateOpts struct {
	*rootOpts
	app         string
	environment string
}

func newSyncState(parent *rootOpts) *syncStateOpts {
	return &syncStateOpts{rootOpts: parent}
}

func (opts *syncStateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sync-state",
		Short:   "Show the deployment system's view of an app in an environment.",
		Example: makeExample("cascadectl sync-state -a helloworld -e prod"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.app, "app", "a", "", "App to query")
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "Environment to query")
	return cmd
}

func (opts *syncStateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.app == "" || opts.environment == "" {
		return newUsageError("please supply both --app and --environment")
	}

	ctx := context.Background()
	state, err := opts.API.SyncState(ctx, pipeline.App(opts.app), pipeline.Environment(opts.environment))
	if err != nil {
		return err
	}

	w := newTabwriter()
	fmt.Fprintf(w, "SYNC\tHEALTH\tREVISION\n")
	fmt.Fprintf(w, "%s\t%s\t%s\n", state.Sync, state.Health, state.Revision)
	w.Flush()
	return nil
}
