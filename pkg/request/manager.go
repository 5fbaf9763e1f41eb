package request

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ghodss/yaml"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/ci"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/event"
	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/poll"
	"github.com/weaveworks/cascade/pkg/vcs"
)

const (
	// How many times to re-examine the host's open-request set after
	// creating a request, to settle races between concurrent
	// creations for the same key.
	supersedeAttempts = 3

	defaultValidationInterval = 10 * time.Second
)

// Manager owns the promotion-request lifecycle against the VCS host.
// It keeps no state of its own: every method queries the host, so
// concurrent managers (e.g., several daemon replicas) coordinate
// through the host's own atomicity rather than process-local locks.
type Manager struct {
	VCS   vcs.Client
	CI    ci.Client
	Chain pipeline.Chain
	// ValidationInterval is how often to poll CI while a request is
	// validating.
	ValidationInterval time.Duration
	// Events, when set, receives a supersede event for every request
	// closed in favour of a newer one.
	Events event.EventWriter
	Logger log.Logger
}

// CreateOrSupersede opens a promotion request for (app, targetEnv)
// carrying candidateTag. Any older open request for the same key is
// closed as superseded, annotated with the new request's ID. If an
// open request already carries the same candidate, it is returned
// unchanged (duplicate events are no-ops). When concurrent calls
// race, the newest request wins and the rest are superseded; the
// surviving request is returned in every case.
func (m *Manager) CreateOrSupersede(ctx context.Context, app pipeline.App, sourceEnv, targetEnv pipeline.Environment, sourceRevision, candidateTag string) (PromotionRequest, error) {
	// Duplicate-event check: same candidate already open means
	// nothing to do.
	if existing, ok, err := m.OpenFor(ctx, app, targetEnv); err != nil {
		return PromotionRequest{}, err
	} else if ok && existing.CandidateTag == candidateTag {
		return existing, nil
	}

	created, err := m.create(ctx, app, sourceEnv, targetEnv, sourceRevision, candidateTag)
	if err != nil {
		return PromotionRequest{}, err
	}
	requestsCreated.With(cascademetrics.LabelEnvironment, targetEnv.String()).Add(1)

	// Settle the open set: whatever happened concurrently, exactly
	// one request (the newest) survives per key. Retried because
	// closing a loser can race with yet another creation.
	survivor := created
	for attempt := 0; attempt < supersedeAttempts; attempt++ {
		open, err := m.ListOpen(ctx, app, targetEnv)
		if err != nil {
			return PromotionRequest{}, err
		}
		if len(open) == 0 {
			// Someone superseded us while we were looking; ours is
			// closed and nothing replaced it yet. Report ours as
			// superseded.
			return m.Get(ctx, created.ID)
		}
		survivor = newest(open)
		var losers []PromotionRequest
		for _, r := range open {
			if r.ID != survivor.ID {
				losers = append(losers, r)
			}
		}
		if len(losers) == 0 {
			break
		}
		for _, loser := range losers {
			if err := m.supersede(ctx, loser, survivor.ID); err != nil {
				return PromotionRequest{}, err
			}
		}
	}
	return survivor, nil
}

func (m *Manager) create(ctx context.Context, app pipeline.App, sourceEnv, targetEnv pipeline.Environment, sourceRevision, candidateTag string) (PromotionRequest, error) {
	targetBranch := targetEnv.Branch()
	head, err := m.VCS.HeadRevision(ctx, targetBranch)
	if err != nil {
		return PromotionRequest{}, errors.Wrapf(err, "getting head of %s", targetBranch)
	}

	branch := BranchFor(app, targetEnv, candidateTag)
	if err := m.VCS.EnsureBranch(ctx, branch, head); err != nil {
		return PromotionRequest{}, errors.Wrapf(err, "creating request branch %s", branch)
	}
	if err := m.writeCandidate(ctx, branch, app, targetEnv, candidateTag, sourceRevision); err != nil {
		return PromotionRequest{}, err
	}

	req := PromotionRequest{
		App:            app,
		SourceEnv:      sourceEnv,
		TargetEnv:      targetEnv,
		SourceRevision: sourceRevision,
		CandidateTag:   candidateTag,
		State:          StateCreated,
		Branch:         branch,
	}
	body, err := marshalBody(req)
	if err != nil {
		return PromotionRequest{}, err
	}
	mr, err := m.VCS.CreateMergeRequest(ctx, vcs.MergeRequestSpec{
		SourceBranch: branch,
		TargetBranch: targetBranch,
		Title:        titleFor(app, targetEnv, sourceRevision),
		Body:         body,
	})
	if err != nil {
		return PromotionRequest{}, errors.Wrapf(err, "creating promotion request for %s", req.Key())
	}
	return ParseRequest(mr)
}

// writeCandidate points the environment overlay at the candidate
// tag, preserving whatever else the overlay sets. The source revision
// is recorded alongside the tag so a later promotion out of this
// environment knows which artifact to copy.
func (m *Manager) writeCandidate(ctx context.Context, branch string, app pipeline.App, targetEnv pipeline.Environment, candidateTag, sourceRevision string) error {
	path := config.EnvPath(targetEnv, app)
	overlay := config.Overlay{}
	current, err := m.VCS.ReadFile(ctx, path, branch)
	switch err {
	case nil:
		if overlay, err = config.ParseOverlay(current); err != nil {
			return errors.Wrapf(err, "parsing %s on %s", path, branch)
		}
	case vcs.ErrFileNotFound:
		// First promotion into this environment.
	default:
		return errors.Wrapf(err, "reading %s on %s", path, branch)
	}

	if overlay.Fields == nil {
		overlay.Fields = map[string]interface{}{}
	}
	overlay.Fields["tag"] = candidateTag
	overlay.Fields["revision"] = sourceRevision

	data, err := yaml.Marshal(overlay)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	message := fmt.Sprintf("Set %s tag in %s to %s", app, targetEnv, candidateTag)
	if _, err := m.VCS.WriteFile(ctx, branch, path, data, message); err != nil {
		return errors.Wrapf(err, "writing %s on %s", path, branch)
	}
	return nil
}

func (m *Manager) supersede(ctx context.Context, loser PromotionRequest, winnerID int) error {
	loser.State = StateSuperseded
	loser.SupersededBy = winnerID
	loser.Reason = fmt.Sprintf("superseded by request %d", winnerID)
	if err := m.save(ctx, loser); err != nil {
		return err
	}
	comment := fmt.Sprintf("Superseded by request %d.", winnerID)
	if err := m.VCS.CloseMergeRequest(ctx, loser.ID, comment); err != nil {
		return errors.Wrapf(err, "closing superseded request %d", loser.ID)
	}
	requestsSuperseded.With(cascademetrics.LabelEnvironment, loser.TargetEnv.String()).Add(1)
	if m.Events != nil {
		if err := m.Events.LogEvent(event.Event{
			App: loser.App, Environment: loser.TargetEnv, Type: event.EventSupersede,
			StartedAt: time.Now().UTC(), LogLevel: event.LogLevelInfo,
			Metadata: event.PromotionMetadata{
				RequestID:    strconv.Itoa(loser.ID),
				CandidateTag: loser.CandidateTag,
				SupersededBy: strconv.Itoa(winnerID),
			},
		}); err != nil && m.Logger != nil {
			m.Logger.Log("err", errors.Wrap(err, "logging supersede event"))
		}
	}
	return nil
}

// AwaitValidation drives the request through the validating state:
// it polls CI for the request branch until the build finishes, the
// timeout elapses, or ctx is cancelled. The returned request is in
// state approved or failed; a timeout also fails the request and is
// reported to the caller, who decides about retries.
func (m *Manager) AwaitValidation(ctx context.Context, req PromotionRequest, timeout time.Duration) (PromotionRequest, error) {
	req.State = StateValidating
	if err := m.save(ctx, req); err != nil {
		return req, err
	}

	interval := m.ValidationInterval
	if interval <= 0 {
		interval = defaultValidationInterval
	}
	status := func(ctx context.Context) (interface{}, error) {
		return m.CI.BuildStatus(ctx, req.Branch)
	}
	terminal := func(state interface{}) bool {
		return state.(ci.Status).Terminal()
	}

	state, err := poll.Wait(ctx, status, terminal, interval, timeout)
	if err == context.Canceled || err == context.DeadlineExceeded {
		// Cancellation is the caller's doing; propagate it rather
		// than condemning the request.
		return req, err
	}
	if err != nil {
		failed, ferr := m.Fail(ctx, req, errors.Wrapf(err, "validating %s on %s", req.Key(), req.Branch))
		if ferr != nil {
			return req, ferr
		}
		return failed, err
	}

	switch state.(ci.Status) {
	case ci.StatusSuccess:
		req.State = StateApproved
		if err := m.save(ctx, req); err != nil {
			return req, err
		}
		return req, nil
	default:
		buildErr := errors.Errorf("validation build failed for %s on %s", req.Key(), req.Branch)
		failed, ferr := m.Fail(ctx, req, buildErr)
		if ferr != nil {
			return req, ferr
		}
		return failed, buildErr
	}
}

// Merge merges an approved request into its target environment
// branch. A merge conflict fails the request; it is not resolved
// automatically.
func (m *Manager) Merge(ctx context.Context, req PromotionRequest) (PromotionRequest, error) {
	message := fmt.Sprintf("%s\n\nPromotion request %d, candidate %s", titleFor(req.App, req.TargetEnv, req.SourceRevision), req.ID, req.CandidateTag)
	revision, err := m.VCS.MergeMergeRequest(ctx, req.ID, message)
	if err != nil {
		if conflict, ok := err.(*vcs.MergeConflictError); ok {
			if _, ferr := m.Fail(ctx, req, conflict); ferr != nil {
				return req, ferr
			}
		}
		return req, err
	}
	req.State = StateMerged
	req.MergedRevision = revision
	if err := m.save(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// Fail records the terminal failed state with the originating
// error's message attached; silent failure is not an option.
func (m *Manager) Fail(ctx context.Context, req PromotionRequest, reason error) (PromotionRequest, error) {
	req.State = StateFailed
	req.Reason = reason.Error()
	if err := m.save(ctx, req); err != nil {
		return req, err
	}
	requestsFailed.With(cascademetrics.LabelEnvironment, req.TargetEnv.String()).Add(1)
	if m.Logger != nil {
		m.Logger.Log("request", req.ID, "key", req.Key().String(), "state", StateFailed, "reason", req.Reason)
	}
	return req, nil
}

// SetState records a lifecycle transition decided by the
// orchestrator (syncing, settled, rolled_back).
func (m *Manager) SetState(ctx context.Context, req PromotionRequest, state State, reason string) (PromotionRequest, error) {
	req.State = state
	req.Reason = reason
	if err := m.save(ctx, req); err != nil {
		return req, err
	}
	return req, nil
}

// ListOpen lists open requests; app may be empty to mean any app,
// and targetEnv empty to mean every environment in the chain.
// Results are oldest first.
func (m *Manager) ListOpen(ctx context.Context, app pipeline.App, targetEnv pipeline.Environment) ([]PromotionRequest, error) {
	envs := []pipeline.Environment{targetEnv}
	if targetEnv == "" {
		envs = m.Chain
	}
	var out []PromotionRequest
	for _, env := range envs {
		mrs, err := m.VCS.ListOpenMergeRequests(ctx, env.Branch(), branchPrefixFor(env, app))
		if err != nil {
			return nil, errors.Wrapf(err, "listing open requests for %s", env)
		}
		for _, mr := range mrs {
			req, err := ParseRequest(mr)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Log("warning", "skipping unparseable merge request", "id", mr.ID, "err", err)
				}
				continue
			}
			out = append(out, req)
		}
	}
	return out, nil
}

// OpenFor gives the surviving open request for a key, if any. With
// the supersession discipline there is at most one; if a race has
// briefly left several, the newest is reported.
func (m *Manager) OpenFor(ctx context.Context, app pipeline.App, targetEnv pipeline.Environment) (PromotionRequest, bool, error) {
	open, err := m.ListOpen(ctx, app, targetEnv)
	if err != nil || len(open) == 0 {
		return PromotionRequest{}, false, err
	}
	return newest(open), true, nil
}

// ForCandidate finds the request, in any state, that carries the
// given candidate tag. The request branch name is a pure function of
// the key and tag, so this is an exact branch lookup on the host.
func (m *Manager) ForCandidate(ctx context.Context, app pipeline.App, targetEnv pipeline.Environment, candidateTag string) (PromotionRequest, bool, error) {
	mr, ok, err := m.VCS.FindMergeRequest(ctx, targetEnv.Branch(), BranchFor(app, targetEnv, candidateTag))
	if err != nil || !ok {
		return PromotionRequest{}, false, err
	}
	req, err := ParseRequest(mr)
	if err != nil {
		return PromotionRequest{}, false, err
	}
	return req, true, nil
}

// Get re-reads one request from the host.
func (m *Manager) Get(ctx context.Context, id int) (PromotionRequest, error) {
	mr, err := m.VCS.GetMergeRequest(ctx, id)
	if err != nil {
		return PromotionRequest{}, err
	}
	return ParseRequest(mr)
}

func (m *Manager) save(ctx context.Context, req PromotionRequest) error {
	body, err := marshalBody(req)
	if err != nil {
		return err
	}
	return errors.Wrapf(m.VCS.UpdateMergeRequestBody(ctx, req.ID, body), "saving request %d", req.ID)
}

func newest(reqs []PromotionRequest) PromotionRequest {
	best := reqs[0]
	for _, r := range reqs[1:] {
		if r.CreatedAt.After(best.CreatedAt) || (r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	return best
}
