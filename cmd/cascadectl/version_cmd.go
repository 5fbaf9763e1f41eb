package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var version string

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Output the version of cascadectl",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return errorWantedNoArgs
			}
			if version == "" {
				version = "unversioned"
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

type serviceVersionOpts struct {
	*rootOpts
}

func newServiceVersion(parent *rootOpts) *serviceVersionOpts {
	return &serviceVersionOpts{rootOpts: parent}
}

func (opts *serviceVersionOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon-version",
		Short: "Output the version of the connected cascaded",
		RunE:  opts.RunE,
	}
}

func (opts *serviceVersionOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	v, err := opts.API.Version(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}
