package request

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaveworks/cascade/pkg/ci"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/event"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/vcs"
)

func newManager(t *testing.T) (*Manager, *vcs.Mock, *ci.Mock) {
	host := vcs.NewMock()
	for _, env := range pipeline.DefaultChain {
		host.SeedBranch(env.Branch(), map[string][]byte{
			config.PlatformPath(): []byte("fields:\n  replicas:\n    value: 1\n"),
		})
	}
	runner := ci.NewMock()
	return &Manager{
		VCS:                host,
		CI:                 runner,
		Chain:              pipeline.DefaultChain,
		ValidationInterval: time.Millisecond,
	}, host, runner
}

func TestCreateOrSupersede(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	a, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, a.State)

	// A newer candidate for the same key supersedes A.
	b, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-b", "stage-bbbb")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	superseded, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSuperseded, superseded.State)
	assert.Equal(t, b.ID, superseded.SupersededBy)

	open, err := m.ListOpen(ctx, "app1", pipeline.EnvStage)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b.ID, open[0].ID)
}

func TestCreateOrSupersedeDuplicateCandidate(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	a, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)
	b, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)

	// The duplicate event is a no-op: same request, still open.
	assert.Equal(t, a.ID, b.ID)
	open, err := m.ListOpen(ctx, "app1", pipeline.EnvStage)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestAtMostOneOpenRequestUnderConcurrency(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	candidates := []string{"stage-aaaa", "stage-bbbb", "stage-cccc", "stage-dddd"}
	var wg sync.WaitGroup
	for _, tag := range candidates {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			_, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-"+tag, tag)
			assert.NoError(t, err)
		}(tag)
	}
	wg.Wait()

	open, err := m.ListOpen(ctx, "app1", pipeline.EnvStage)
	require.NoError(t, err)
	assert.Len(t, open, 1, "exactly one request may remain open per key")
}

func TestIndependentKeysDoNotInterfere(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	_, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)
	_, err = m.CreateOrSupersede(ctx, "app2", pipeline.EnvDev, pipeline.EnvStage, "rev-b", "stage-bbbb")
	require.NoError(t, err)
	_, err = m.CreateOrSupersede(ctx, "app1", pipeline.EnvStage, pipeline.EnvProd, "rev-a", "prod-aaaa")
	require.NoError(t, err)

	open, err := m.ListOpen(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, open, 3)

	open, err = m.ListOpen(ctx, "app1", "")
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestRepromoteAfterMerge(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	a, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)
	_, err = m.Merge(ctx, a)
	require.NoError(t, err)

	b, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-b", "stage-bbbb")
	require.NoError(t, err)
	_, err = m.Merge(ctx, b)
	require.NoError(t, err)

	// Promoting candidate A again, as a rollback cascading downstream
	// does, reuses its deterministic branch name. The stale branch
	// from the merged request is reset to the current target head,
	// not treated as an error.
	again, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, again.ID)
	assert.Equal(t, StateCreated, again.State)

	open, err := m.ListOpen(ctx, "app1", pipeline.EnvStage)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, again.ID, open[0].ID)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) LogEvent(e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) byType(typ string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestSupersedeEmitsEvent(t *testing.T) {
	m, _, _ := newManager(t)
	recorder := &eventRecorder{}
	m.Events = recorder
	ctx := context.Background()

	a, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)
	b, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-b", "stage-bbbb")
	require.NoError(t, err)

	events := recorder.byType(event.EventSupersede)
	require.Len(t, events, 1)
	meta, ok := events[0].Metadata.(event.PromotionMetadata)
	require.True(t, ok)
	assert.Equal(t, strconv.Itoa(a.ID), meta.RequestID)
	assert.Equal(t, strconv.Itoa(b.ID), meta.SupersededBy)
	assert.Equal(t, "stage-aaaa", meta.CandidateTag)
}

func TestAwaitValidation(t *testing.T) {
	m, _, runner := newManager(t)
	ctx := context.Background()

	req, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)

	runner.SetStatus(req.Branch, ci.StatusSuccess)
	approved, err := m.AwaitValidation(ctx, req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, approved.State)

	// The state is persisted on the host, not just returned.
	persisted, err := m.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproved, persisted.State)
}

func TestAwaitValidationBuildFailure(t *testing.T) {
	m, _, runner := newManager(t)
	ctx := context.Background()

	req, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)

	runner.SetStatus(req.Branch, ci.StatusFailed)
	failed, err := m.AwaitValidation(ctx, req, time.Second)
	require.Error(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Contains(t, failed.Reason, "validation build failed")
}

func TestAwaitValidationTimeout(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	req, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)

	// CI stays "running"; the wait must give up and fail the
	// request.
	failed, err := m.AwaitValidation(ctx, req, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, StateFailed, failed.State)
}

func TestMerge(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()

	req, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)

	merged, err := m.Merge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StateMerged, merged.State)
	assert.NotEmpty(t, merged.MergedRevision)

	head, err := host.HeadRevision(ctx, pipeline.EnvStage.Branch())
	require.NoError(t, err)
	assert.Equal(t, merged.MergedRevision, head)

	// The overlay landed on the environment branch.
	data, err := host.ReadFile(ctx, config.EnvPath(pipeline.EnvStage, "app1"), pipeline.EnvStage.Branch())
	require.NoError(t, err)
	overlay, err := config.ParseOverlay(data)
	require.NoError(t, err)
	assert.Equal(t, "stage-aaaa", overlay.Fields["tag"])
}

func TestMergeConflict(t *testing.T) {
	m, host, _ := newManager(t)
	ctx := context.Background()

	req, err := m.CreateOrSupersede(ctx, "app1", pipeline.EnvDev, pipeline.EnvStage, "rev-a", "stage-aaaa")
	require.NoError(t, err)

	host.MergeError = &vcs.MergeConflictError{ID: req.ID, Reason: "diverged"}
	_, err = m.Merge(ctx, req)
	require.Error(t, err)
	_, ok := err.(*vcs.MergeConflictError)
	assert.True(t, ok, "expected *vcs.MergeConflictError, got %T", err)

	failed, err := m.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
}
