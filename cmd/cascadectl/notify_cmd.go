package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/pipeline"
)

type notifyOpts struct {
	*rootOpts
	environment string
	revision    string
	apps        []string
	noWait      bool
}

func newNotify(parent *rootOpts) *notifyOpts {
	return &notifyOpts{rootOpts: parent}
}

func (opts *notifyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notify",
		Short:   "Report a commit on an environment branch, as a webhook would.",
		Example: makeExample("cascadectl notify -e dev --revision 4d2f1c9"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "Environment whose branch changed")
	cmd.Flags().StringVar(&opts.revision, "revision", "", "Commit revision on the environment branch")
	cmd.Flags().StringSliceVarP(&opts.apps, "app", "a", nil, "Apps affected by the commit; empty means all")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return the job ID without waiting for the result")
	return cmd
}

func (opts *notifyOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.environment == "" || opts.revision == "" {
		return newUsageError("please supply both --environment and --revision")
	}

	apps := make([]pipeline.App, 0, len(opts.apps))
	for _, a := range opts.apps {
		apps = append(apps, pipeline.App(a))
	}

	ctx := context.Background()
	jobID, err := opts.API.NotifyChange(ctx, api.ChangeEvent{
		Environment: pipeline.Environment(opts.environment),
		Revision:    opts.revision,
		Apps:        apps,
	})
	if err != nil {
		return err
	}
	if opts.noWait {
		cmd.Println(jobID)
		return nil
	}
	return await(ctx, cmd.OutOrStdout(), cmd.OutOrStderr(), opts.API, jobID)
}
