package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/api"
	transport "github.com/weaveworks/cascade/pkg/http"
	"github.com/weaveworks/cascade/pkg/http/client"
)

type rootOpts struct {
	URL   string
	Token string
	API   api.Server
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
cascadectl promotes your code through environments.

Workflow:
  cascadectl list-requests -e stage            # What is waiting to go to stage?
  cascadectl merge --id 42                     # Merge an approved promotion request.
  cascadectl rollback -a helloworld -e prod    # Undo the latest promotion in prod.
`)

const (
	envVariableURL   = "CASCADE_URL"
	envVariableToken = "CASCADE_TOKEN"
)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "cascadectl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("base URL of the cascaded API server; you can also set the environment variable %s", envVariableURL))
	cmd.PersistentFlags().StringVarP(&opts.Token, "token", "t", "",
		fmt.Sprintf("authentication token for the cascaded API server; you can also set the environment variable %s", envVariableToken))

	cmd.AddCommand(
		newVersionCommand(),
		newServiceVersion(opts).Command(),
		newRequestList(opts).Command(),
		newMerge(opts).Command(),
		newRollback(opts).Command(),
		newNotify(opts).Command(),
		newResolve(opts).Command(),
		newSyncState(opts).Command(),
		newJobStatus(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	if !cmd.Flags().Changed("url") {
		if url := os.Getenv(envVariableURL); url != "" {
			opts.URL = url
		}
	}
	if !cmd.Flags().Changed("token") {
		opts.Token = os.Getenv(envVariableToken)
	}
	opts.API = client.New(http.DefaultClient, transport.NewAPIRouter(), opts.URL, client.Token(opts.Token))
	return nil
}
