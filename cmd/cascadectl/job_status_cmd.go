package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/job"
)

type jobStatusOpts struct {
	*rootOpts
	id string
}

func newJobStatus(parent *rootOpts) *jobStatusOpts {
	return &jobStatusOpts{rootOpts: parent}
}

func (opts *jobStatusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "job-status",
		Short:   "Show the status of a queued operation.",
		Example: makeExample("cascadectl job-status --id 3a2f..."),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.id, "id", "", "ID of the job to query")
	return cmd
}

func (opts *jobStatusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.id == "" {
		return newUsageError("please supply a job ID with --id")
	}

	status, err := opts.API.JobStatus(context.Background(), job.ID(opts.id))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:\t%s\n", status.StatusString)
	if status.Err != "" {
		fmt.Fprintf(out, "Error:\t%s\n", status.Err)
	}
	if status.Result.Revision != "" {
		fmt.Fprintf(out, "Revision:\t%s\n", status.Result.Revision)
	}
	for _, id := range status.Result.RequestIDs {
		fmt.Fprintf(out, "Request:\t%s\n", id)
	}
	return nil
}
