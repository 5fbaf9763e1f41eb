package main

import (
	"context"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/pipeline"
)

type rollbackOpts struct {
	*rootOpts
	app         string
	environment string
	noCascade   bool
	force       bool
	message     string
	user        string
	noWait      bool
}

func newRollback(parent *rootOpts) *rollbackOpts {
	return &rollbackOpts{rootOpts: parent}
}

func (opts *rollbackOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Return an environment to its previous configuration for one app.",
		Example: makeExample(
			"cascadectl rollback -a helloworld -e prod",
			"cascadectl rollback -a helloworld -e stage --no-cascade -m \"bad metrics\"",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.app, "app", "a", "", "App to roll back")
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "Environment to roll back in")
	cmd.Flags().BoolVar(&opts.noCascade, "no-cascade", false, "Do not promote the rollback downstream")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Proceed even when a downstream promotion request is open")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Attach a message to the rollback")
	cmd.Flags().StringVar(&opts.user, "user", "", "Attach a user to the rollback; defaults to the local username")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return the job ID without waiting for the result")
	return cmd
}

func (opts *rollbackOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.app == "" || opts.environment == "" {
		return newUsageError("please supply both --app and --environment")
	}

	if opts.user == "" {
		if u, err := user.Current(); err == nil {
			opts.user = u.Username
		}
	}

	ctx := context.Background()
	jobID, err := opts.API.Rollback(ctx, api.RollbackSpec{
		App:         pipeline.App(opts.app),
		Environment: pipeline.Environment(opts.environment),
		NoCascade:   opts.noCascade,
		Force:       opts.force,
		Cause: api.Cause{
			Message: opts.message,
			User:    opts.user,
		},
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
