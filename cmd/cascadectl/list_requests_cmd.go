package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/request"
)

type requestListOpts struct {
	*rootOpts
	app         string
	environment string
}

func newRequestList(parent *rootOpts) *requestListOpts {
	return &requestListOpts{rootOpts: parent}
}

func (opts *requestListOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list-requests",
		Short:   "List open promotion requests.",
		Example: makeExample("cascadectl list-requests -a helloworld -e stage"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.app, "app", "a", "", "Confine query to one app")
	cmd.Flags().StringVarP(&opts.environment, "environment", "e", "", "Confine query to one target environment")
	return cmd
}

func (opts *requestListOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	ctx := context.Background()
	requests, err := opts.API.ListRequests(ctx, pipeline.App(opts.app), pipeline.Environment(opts.environment))
	if err != nil {
		return err
	}

	sort.Sort(requestsByID(requests))
	return outputRequestsTab(requests, cmd.OutOrStdout())
}

func outputRequestsTab(requests []request.PromotionRequest, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tAPP\tTARGET\tCANDIDATE\tSTATE\tCREATED\n")
	for _, r := range requests {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.App, r.TargetEnv, r.CandidateTag, r.State, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

type requestsByID []request.PromotionRequest

func (s requestsByID) Len() int           { return len(s) }
func (s requestsByID) Less(a, b int) bool { return s[a].ID < s[b].ID }
func (s requestsByID) Swap(a, b int)      { s[a], s[b] = s[b], s[a] }
