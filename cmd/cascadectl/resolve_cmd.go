package main

import (
	"context"
	"fmt"

	"github.com/ghodss/yaml"
	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

type resolveOpts struct {
	*rootOpts
	app         string
	environment string
	outputJSON  bool
}

func newResolve(parent *rootOpts) *resolveOpts {
	return &resolveOpts{rootOpts: parent}
}

func (opts *resolveOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "resolve",
		Short:   "Show the effective configuration for an app in an environment.",
		Example: makeExample("cascadectl resolve -a helloworld -e stage"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.app, "app", "a", "", "App to resolve")
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "Environment to resolve in")
	cmd.Flags().BoolVar(&opts.outputJSON, "json", false, "Output JSON instead of YAML")
	return cmd
}

func (opts *resolveOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.app == "" || opts.environment == "" {
		return newUsageError("please supply both --app and --environment")
	}

	ctx := context.Background()
	effective, err := opts.API.Resolve(ctx, pipeline.App(opts.app), pipeline.Environment(opts.environment))
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(effective)
	if err != nil {
		return err
	}
	if opts.outputJSON {
		if out, err = yaml.YAMLToJSON(out); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
