package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/deploy"
	"github.com/weaveworks/cascade/pkg/job"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/request"
)

type fakeAPI struct {
	requests []request.PromotionRequest
}

func (f *fakeAPI) Ping(context.Context) error              { return nil }
func (f *fakeAPI) Version(context.Context) (string, error) { return "test", nil }
func (f *fakeAPI) NotifyChange(context.Context, api.ChangeEvent) (job.ID, error) {
	return job.ID("job1"), nil
}
func (f *fakeAPI) ListRequests(context.Context, pipeline.App, pipeline.Environment) ([]request.PromotionRequest, error) {
	return f.requests, nil
}
func (f *fakeAPI) MergeRequest(context.Context, int) (job.ID, error) { return job.ID("job2"), nil }
func (f *fakeAPI) Rollback(context.Context, api.RollbackSpec) (job.ID, error) {
	return job.ID("job3"), nil
}
func (f *fakeAPI) Resolve(context.Context, pipeline.App, pipeline.Environment) (config.EffectiveConfig, error) {
	return config.EffectiveConfig{}, nil
}
func (f *fakeAPI) SyncState(context.Context, pipeline.App, pipeline.Environment) (deploy.State, error) {
	return deploy.State{}, nil
}
func (f *fakeAPI) JobStatus(context.Context, job.ID) (job.Status, error) {
	return job.Status{StatusString: job.StatusSucceeded}, nil
}

func TestListRequestsCommand(t *testing.T) {
	fake := &fakeAPI{
		requests: []request.PromotionRequest{
			{
				ID:           7,
				App:          "helloworld",
				SourceEnv:    pipeline.EnvDev,
				TargetEnv:    pipeline.EnvStage,
				CandidateTag: "stage-4d2f1c9",
				State:        request.StateApproved,
				CreatedAt:    time.Date(2020, 3, 14, 9, 26, 53, 0, time.UTC),
			},
		},
	}

	buf := new(bytes.Buffer)
	cmd := newRequestList(&rootOpts{API: fake}).Command()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"-a", "helloworld"})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "helloworld")
	assert.Contains(t, out, "stage-4d2f1c9")
	assert.Contains(t, out, "approved")
}

func TestOutputRequestsTab(t *testing.T) {
	buf := new(bytes.Buffer)
	err := outputRequestsTab([]request.PromotionRequest{
		{ID: 1, App: "a", TargetEnv: pipeline.EnvProd, CandidateTag: "prod-abc", State: request.StateSyncing},
	}, buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "prod-abc")
}
