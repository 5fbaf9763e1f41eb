package main

import (
	"context"

	"github.com/spf13/cobra"
)

type mergeOpts struct {
	*rootOpts
	id     int
	noWait bool
}

func newMerge(parent *rootOpts) *mergeOpts {
	return &mergeOpts{rootOpts: parent}
}

func (opts *mergeOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "merge",
		Short:   "Merge an approved promotion request.",
		Example: makeExample("cascadectl merge --id 42"),
		RunE:    opts.RunE,
	}
	cmd.Flags().IntVar(&opts.id, "id", 0, "ID of the promotion request to merge")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return the job ID without waiting for the result")
	return cmd
}

func (opts *mergeOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.id == 0 {
		return newUsageError("please supply a request ID with --id")
	}

	ctx := context.Background()
	jobID, err := opts.API.MergeRequest(ctx, opts.id)
	if err != nil {
		return err
	}
	if opts.noWait {
		cmd.Println(jobID)
		return nil
	}
	return await(ctx, cmd.OutOrStdout(), cmd.OutOrStderr(), opts.API, jobID)
}
