package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/ci"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/deploy"
	cascaderr "github.com/weaveworks/cascade/pkg/errors"
	"github.com/weaveworks/cascade/pkg/job"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/registry"
	"github.com/weaveworks/cascade/pkg/request"
	"github.com/weaveworks/cascade/pkg/vcs"
)

const (
	testApp      = pipeline.App("helloworld")
	testRepo     = "example/helloworld"
	testRevision = "src001"
)

type fixture struct {
	daemon *Daemon
	host   *vcs.Mock
	runner *ci.Mock
	syncer *deploy.Mock
	store  *registry.Mock

	devHead string
	devTag  string

	stop      chan struct{}
	wg        *sync.WaitGroup
	followers []chan struct{}
}

// newFixture seeds a three-environment chain with one app deployed in
// dev, and a daemon wired entirely to in-memory gateways. The loop is
// not running yet; tests arrange CI and deploy state, then start().
func newFixture(t *testing.T) *fixture {
	host := vcs.NewMock()
	f := &fixture{
		host:   host,
		runner: ci.NewMock(),
		syncer: deploy.NewMock(),
		store:  registry.NewMock(),
		stop:   make(chan struct{}),
		wg:     &sync.WaitGroup{},
	}

	f.devTag = registry.TagFor(testApp, pipeline.EnvDev, testRevision)
	platform := []byte("fields:\n  replicas:\n    value: 1\n")
	f.devHead = host.SeedBranch(pipeline.EnvDev.Branch(), map[string][]byte{
		config.PlatformPath(): platform,
		config.EnvPath(pipeline.EnvDev, testApp): []byte(fmt.Sprintf(
			"fields:\n  tag: %s\n  revision: %s\n", f.devTag, testRevision)),
	})
	host.SeedBranch(pipeline.EnvStage.Branch(), map[string][]byte{config.PlatformPath(): platform})
	host.SeedBranch(pipeline.EnvProd.Branch(), map[string][]byte{config.PlatformPath(): platform})
	f.store.AddTag(testRepo, f.devTag)

	manager := &request.Manager{
		VCS:                host,
		CI:                 f.runner,
		Chain:              pipeline.DefaultChain,
		ValidationInterval: time.Millisecond,
		Logger:             log.NewNopLogger(),
	}
	jobs := job.NewQueue(f.stop, f.wg)
	f.daemon = &Daemon{
		V:              "test",
		VCS:            host,
		Deploy:         f.syncer,
		Promoter:       &registry.Promoter{Registry: f.store, BaseRepo: "example", BaseDelay: time.Millisecond, Logger: log.NewNopLogger()},
		Requests:       manager,
		Chain:          pipeline.DefaultChain,
		Apps:           []pipeline.App{testApp},
		Jobs:           jobs,
		JobStatusCache: &job.StatusCache{Size: 100},
		Logger:         log.NewNopLogger(),
		LoopVars: &LoopVars{
			SyncInterval:      time.Millisecond,
			SyncTimeout:       500 * time.Millisecond,
			ValidationTimeout: 10 * time.Second,
			ReconcileInterval: time.Hour,
		},
	}
	t.Cleanup(f.cleanup)
	return f
}

func (f *fixture) start() {
	f.wg.Add(1)
	go f.daemon.Loop(f.stop, f.wg, log.NewNopLogger())
}

// followHead models a syncer that tracks the environment branch: the
// deploy state for the app becomes synced and healthy at whatever
// revision the branch head is.
func (f *fixture) followHead(env pipeline.Environment) {
	stop := make(chan struct{})
	f.followers = append(f.followers, stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				head, err := f.host.HeadRevision(context.Background(), env.Branch())
				if err != nil {
					continue
				}
				f.syncer.SetState(testApp, env, deploy.State{
					Sync: deploy.SyncSynced, Health: deploy.HealthHealthy, Revision: head,
				})
			}
		}
	}()
}

func (f *fixture) cleanup() {
	for _, stop := range f.followers {
		close(stop)
	}
	close(f.stop)
	f.wg.Wait()
}

func (f *fixture) waitForJob(t *testing.T, id job.ID) job.Status {
	var status job.Status
	require.Eventually(t, func() bool {
		s, err := f.daemon.JobStatus(context.Background(), id)
		if err != nil {
			return false
		}
		status = s
		return s.StatusString == job.StatusSucceeded || s.StatusString == job.StatusFailed
	}, 10*time.Second, 5*time.Millisecond)
	return status
}

func openRequests(t *testing.T, f *fixture, env pipeline.Environment) []request.PromotionRequest {
	open, err := f.daemon.ListRequests(context.Background(), testApp, env)
	require.NoError(t, err)
	return open
}

func TestCascadeAfterMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stageTag := registry.TagFor(testApp, pipeline.EnvStage, testRevision)
	f.runner.SetStatus(request.BranchFor(testApp, pipeline.EnvStage, stageTag), ci.StatusSuccess)
	f.followHead(pipeline.EnvDev)
	f.followHead(pipeline.EnvStage)
	f.start()

	// The startup sweep notices the dev head, waits for it to settle,
	// and cascades into stage; validation then approves the request.
	var stageReq request.PromotionRequest
	require.Eventually(t, func() bool {
		open := openRequests(t, f, pipeline.EnvStage)
		if len(open) != 1 {
			return false
		}
		stageReq = open[0]
		return stageReq.State == request.StateApproved
	}, 10*time.Second, 5*time.Millisecond)
	assert.Equal(t, stageTag, stageReq.CandidateTag)
	assert.Equal(t, testRevision, stageReq.SourceRevision)
	assert.Equal(t, pipeline.EnvDev, stageReq.SourceEnv)

	id, err := f.daemon.MergeRequest(ctx, stageReq.ID)
	require.NoError(t, err)
	status := f.waitForJob(t, id)
	require.Equal(t, job.StatusSucceeded, status.StatusString, "merge job: %s", status.Err)
	assert.Contains(t, status.Result.RequestIDs, fmt.Sprint(stageReq.ID))

	// The candidate landed on the stage branch.
	data, err := f.host.ReadFile(ctx, config.EnvPath(pipeline.EnvStage, testApp), pipeline.EnvStage.Branch())
	require.NoError(t, err)
	assert.Contains(t, string(data), stageTag)

	merged, err := f.daemon.Requests.Get(ctx, stageReq.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StateSettled, merged.State)

	// Settling in stage cascades onward to prod.
	prodTag := registry.TagFor(testApp, pipeline.EnvProd, testRevision)
	prod := openRequests(t, f, pipeline.EnvProd)
	require.Len(t, prod, 1)
	assert.Equal(t, prodTag, prod[0].CandidateTag)
	exists, err := f.store.TagExists(ctx, testRepo, prodTag)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDuplicateNotificationIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.followHead(pipeline.EnvDev)
	f.start()

	key := pipeline.Key{App: testApp, Environment: pipeline.EnvDev}
	require.Eventually(t, func() bool {
		last, ok := f.daemon.lastSettled(key)
		return ok && last.Revision == f.devHead
	}, 10*time.Second, 5*time.Millisecond)
	refreshes := f.syncer.Refreshes(testApp, pipeline.EnvDev)

	id, err := f.daemon.NotifyChange(ctx, api.ChangeEvent{
		Environment: pipeline.EnvDev,
		Revision:    f.devHead,
		Apps:        []pipeline.App{testApp},
	})
	require.NoError(t, err)
	status := f.waitForJob(t, id)
	assert.Equal(t, job.StatusSucceeded, status.StatusString)
	// No second settle-wait happened.
	assert.Equal(t, refreshes, f.syncer.Refreshes(testApp, pipeline.EnvDev))
}

func TestNotifyChangeRejectsUnknownEnvironment(t *testing.T) {
	f := newFixture(t)
	_, err := f.daemon.NotifyChange(context.Background(), api.ChangeEvent{
		Environment: "qa",
		Revision:    "rev001",
	})
	require.Error(t, err)
	friendly, ok := err.(*cascaderr.Error)
	require.True(t, ok)
	assert.Equal(t, cascaderr.Type(cascaderr.User), friendly.Type)
}

func TestRollbackRefusedWithOpenDownstreamRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.followHead(pipeline.EnvDev)
	f.start()

	require.Eventually(t, func() bool {
		return len(openRequests(t, f, pipeline.EnvStage)) == 1
	}, 10*time.Second, 5*time.Millisecond)
	blocking := openRequests(t, f, pipeline.EnvStage)[0]

	_, err := f.daemon.Rollback(ctx, api.RollbackSpec{App: testApp, Environment: pipeline.EnvDev})
	require.Error(t, err)
	friendly, ok := err.(*cascaderr.Error)
	require.True(t, ok)
	assert.Equal(t, cascaderr.Type(cascaderr.User), friendly.Type)
	assert.Contains(t, friendly.Help, fmt.Sprint(blocking.ID))

	// Force overrides the refusal.
	id, err := f.daemon.Rollback(ctx, api.RollbackSpec{App: testApp, Environment: pipeline.EnvDev, Force: true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRollbackSuppressesCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A second dev change on top of the seeded one, so there is
	// something to roll back to.
	newRevision := "src002"
	newTag := registry.TagFor(testApp, pipeline.EnvDev, newRevision)
	f.store.AddTag(testRepo, newTag)
	_, err := f.host.WriteFile(ctx, pipeline.EnvDev.Branch(), config.EnvPath(pipeline.EnvDev, testApp),
		[]byte(fmt.Sprintf("fields:\n  tag: %s\n  revision: %s\n", newTag, newRevision)),
		"Update helloworld in dev")
	require.NoError(t, err)

	f.followHead(pipeline.EnvDev)
	f.start()

	// The new change cascades into stage first.
	newStageTag := registry.TagFor(testApp, pipeline.EnvStage, newRevision)
	require.Eventually(t, func() bool {
		open := openRequests(t, f, pipeline.EnvStage)
		return len(open) == 1 && open[0].CandidateTag == newStageTag
	}, 10*time.Second, 5*time.Millisecond)

	id, err := f.daemon.Rollback(ctx, api.RollbackSpec{
		App:         testApp,
		Environment: pipeline.EnvDev,
		NoCascade:   true,
		Force:       true,
		Cause:       api.Cause{User: "ops@example.com", Message: "bad rollout"},
	})
	require.NoError(t, err)
	status := f.waitForJob(t, id)
	require.Equal(t, job.StatusSucceeded, status.StatusString, "rollback job: %s", status.Err)

	// The dev overlay is back at the previous candidate, and the
	// revert commit carries the markers.
	data, err := f.host.ReadFile(ctx, config.EnvPath(pipeline.EnvDev, testApp), pipeline.EnvDev.Branch())
	require.NoError(t, err)
	assert.Contains(t, string(data), f.devTag)
	head, err := f.host.HeadRevision(ctx, pipeline.EnvDev.Branch())
	require.NoError(t, err)
	message, err := f.host.CommitMessage(ctx, head)
	require.NoError(t, err)
	assert.True(t, strings.Contains(message, rollbackMarker))
	assert.True(t, strings.Contains(message, noCascadeMarker))

	// No cascade followed the rollback: stage still carries the
	// newer candidate, not one for the rolled-back revision.
	open := openRequests(t, f, pipeline.EnvStage)
	require.Len(t, open, 1)
	assert.Equal(t, newStageTag, open[0].CandidateTag)
}

func TestRollbackCascadesRolledBackCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.followHead(pipeline.EnvDev)
	f.start()

	// The seeded dev change cascades into stage.
	stageTag := registry.TagFor(testApp, pipeline.EnvStage, testRevision)
	require.Eventually(t, func() bool {
		open := openRequests(t, f, pipeline.EnvStage)
		return len(open) == 1 && open[0].CandidateTag == stageTag
	}, 10*time.Second, 5*time.Millisecond)

	// A second dev change lands and supersedes the first candidate,
	// leaving the first request's branch behind on the host.
	newRevision := "src002"
	newTag := registry.TagFor(testApp, pipeline.EnvDev, newRevision)
	f.store.AddTag(testRepo, newTag)
	newHead, err := f.host.WriteFile(ctx, pipeline.EnvDev.Branch(), config.EnvPath(pipeline.EnvDev, testApp),
		[]byte(fmt.Sprintf("fields:\n  tag: %s\n  revision: %s\n", newTag, newRevision)),
		"Update helloworld in dev")
	require.NoError(t, err)
	id, err := f.daemon.NotifyChange(ctx, api.ChangeEvent{Environment: pipeline.EnvDev, Revision: newHead})
	require.NoError(t, err)
	status := f.waitForJob(t, id)
	require.Equal(t, job.StatusSucceeded, status.StatusString, "change job: %s", status.Err)

	newStageTag := registry.TagFor(testApp, pipeline.EnvStage, newRevision)
	open := openRequests(t, f, pipeline.EnvStage)
	require.Len(t, open, 1)
	require.Equal(t, newStageTag, open[0].CandidateTag)

	// Rolling back without suppression promotes the rolled-back-to
	// candidate downstream again, re-using its earlier request branch.
	id, err = f.daemon.Rollback(ctx, api.RollbackSpec{
		App:         testApp,
		Environment: pipeline.EnvDev,
		Force:       true,
		Cause:       api.Cause{User: "ops@example.com", Message: "bad rollout"},
	})
	require.NoError(t, err)
	status = f.waitForJob(t, id)
	require.Equal(t, job.StatusSucceeded, status.StatusString, "rollback job: %s", status.Err)

	head, err := f.host.HeadRevision(ctx, pipeline.EnvDev.Branch())
	require.NoError(t, err)
	message, err := f.host.CommitMessage(ctx, head)
	require.NoError(t, err)
	assert.True(t, strings.Contains(message, rollbackMarker))
	assert.False(t, strings.Contains(message, noCascadeMarker))

	// Exactly one downstream request follows the rollback, carrying
	// the rolled-back-to candidate; the newer one is superseded.
	open = openRequests(t, f, pipeline.EnvStage)
	require.Len(t, open, 1)
	assert.Equal(t, stageTag, open[0].CandidateTag)
	assert.Equal(t, testRevision, open[0].SourceRevision)
}

func TestResolveReadsLayersAtBranchHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.host.WriteFile(ctx, pipeline.EnvDev.Branch(), config.AppPath(testApp),
		[]byte("fields:\n  replicas: 3\n"), "Set helloworld replicas")
	require.NoError(t, err)

	effective, err := f.daemon.Resolve(ctx, testApp, pipeline.EnvDev)
	require.NoError(t, err)
	assert.EqualValues(t, 3, asInt(t, effective.Fields["replicas"]))
	assert.Equal(t, f.devTag, effective.Fields["tag"])
}

func asInt(t *testing.T, v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		t.Fatalf("not a number: %v", v)
		return 0
	}
}
