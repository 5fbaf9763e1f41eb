package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/deploy"
	"github.com/weaveworks/cascade/pkg/event"
	"github.com/weaveworks/cascade/pkg/job"
	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/poll"
	"github.com/weaveworks/cascade/pkg/request"
	"github.com/weaveworks/cascade/pkg/vcs"
)

// Markers carried in commit messages to steer the daemon's handling
// of a revision. They travel with the commit, so every replica (and a
// restarted daemon) reads the same intent.
const (
	rollbackMarker  = "[rollback]"
	noCascadeMarker = "[no-cascade]"
)

// handleChange processes a commit on an environment branch: for each
// affected app, wait for the deployment to settle and then cascade
// into the next environment. Apps are handled concurrently; they are
// independent keys.
func (d *Daemon) handleChange(ev api.ChangeEvent) jobFunc {
	return func(ctx context.Context, id job.ID, logger log.Logger) (job.Result, error) {
		apps := ev.Apps
		if len(apps) == 0 {
			apps = d.Apps
		}
		result := job.Result{Revision: ev.Revision}

		type outcome struct {
			app        pipeline.App
			requestIDs []string
			err        error
		}
		ch := make(chan outcome)
		for _, app := range apps {
			go func(app pipeline.App) {
				ids, err := d.processApp(ctx, log.With(logger, "app", app), app, ev.Environment, ev.Revision)
				ch <- outcome{app: app, requestIDs: ids, err: err}
			}(app)
		}

		var failed []string
		for range apps {
			out := <-ch
			result.RequestIDs = append(result.RequestIDs, out.requestIDs...)
			if out.err != nil {
				logger.Log("app", out.app, "err", out.err)
				failed = append(failed, fmt.Sprintf("%s: %s", out.app, out.err))
			}
		}
		if len(failed) > 0 {
			return result, errors.Errorf("processing %s at %s: %s", ev.Environment, ev.Revision, strings.Join(failed, "; "))
		}
		return result, nil
	}
}

// processApp drives one app through the post-commit flow in one
// environment. It returns the IDs of any requests it touched.
func (d *Daemon) processApp(ctx context.Context, logger log.Logger, app pipeline.App, env pipeline.Environment, revision string) ([]string, error) {
	key := pipeline.Key{App: app, Environment: env}

	// Seen this revision settle already; duplicate notification.
	if last, ok := d.lastSettled(key); ok && last.Revision == revision {
		logger.Log("revision", revision, "msg", "already settled, skipping")
		return nil, nil
	}

	cand, ok, err := d.overlayCandidate(ctx, app, env, revision)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Not deployed in this environment; nothing to wait for.
		logger.Log("revision", revision, "msg", "no overlay for app, skipping")
		return nil, nil
	}

	message, err := d.VCS.CommitMessage(ctx, revision)
	if err != nil {
		return nil, errors.Wrapf(err, "reading commit message of %s", revision)
	}
	isRollback := strings.Contains(message, rollbackMarker)
	noCascade := strings.Contains(message, noCascadeMarker)

	// Annotate the request this commit came from, if there is one.
	var touched []string
	req, hasReq, err := d.Requests.ForCandidate(ctx, app, env, cand.tag)
	if err != nil {
		return nil, err
	}
	hasReq = hasReq && !req.State.Terminal()
	if hasReq {
		touched = append(touched, fmt.Sprint(req.ID))
		if req, err = d.Requests.SetState(ctx, req, request.StateSyncing, ""); err != nil {
			return touched, err
		}
	}

	settled, err := d.awaitSettle(ctx, app, env, revision)
	if err != nil {
		if hasReq {
			if _, ferr := d.Requests.Fail(ctx, req, err); ferr != nil {
				logger.Log("request", req.ID, "err", ferr)
			}
		}
		d.LogEvent(event.Event{
			App: app, Environment: env, Type: event.EventFail,
			StartedAt: time.Now().UTC(), LogLevel: event.LogLevelError,
			Metadata: event.PromotionMetadata{Revision: revision, CandidateTag: cand.tag, Reason: err.Error()},
		})
		return touched, err
	}

	state := request.StateSettled
	if isRollback {
		state = request.StateRolledBack
	}
	if hasReq {
		if req, err = d.Requests.SetState(ctx, req, state, ""); err != nil {
			return touched, err
		}
	}
	d.recordSettled(key, environmentState{Revision: settled.Revision, Tag: cand.tag, UpdatedAt: time.Now().UTC()})
	settleCount.With(cascademetrics.LabelEnvironment, env.String()).Add(1)
	d.LogEvent(event.Event{
		App: app, Environment: env, Type: event.EventSettle,
		StartedAt: time.Now().UTC(), LogLevel: event.LogLevelInfo,
		Metadata: event.PromotionMetadata{Revision: revision, CandidateTag: cand.tag},
	})
	logger.Log("revision", revision, "state", state)

	if isRollback && noCascade {
		logger.Log("revision", revision, "msg", "cascade suppressed by rollback")
		return touched, nil
	}
	cascaded, err := d.cascade(ctx, logger, app, env, cand)
	if err != nil {
		return touched, err
	}
	touched = append(touched, cascaded...)
	return touched, nil
}

// candidate is what an environment overlay says should be running:
// the artifact tag, and the source revision it was promoted from.
type candidate struct {
	tag      string
	revision string
}

// overlayCandidate reads the environment overlay at a ref; false when
// the app has no overlay (or no tag) there.
func (d *Daemon) overlayCandidate(ctx context.Context, app pipeline.App, env pipeline.Environment, ref string) (candidate, bool, error) {
	data, err := d.VCS.ReadFile(ctx, config.EnvPath(env, app), ref)
	if err == vcs.ErrFileNotFound {
		return candidate{}, false, nil
	}
	if err != nil {
		return candidate{}, false, errors.Wrapf(err, "reading overlay for %s in %s", app, env)
	}
	overlay, err := config.ParseOverlay(data)
	if err != nil {
		return candidate{}, false, err
	}
	cand := candidate{
		tag:      stringField(overlay.Fields, "tag"),
		revision: stringField(overlay.Fields, "revision"),
	}
	if cand.tag == "" {
		return candidate{}, false, nil
	}
	return cand, true, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}

// awaitSettle polls the deployment system until the app is synced and
// healthy at a new revision, or fails, or the wait runs out.
func (d *Daemon) awaitSettle(ctx context.Context, app pipeline.App, env pipeline.Environment, revision string) (deploy.State, error) {
	key := pipeline.Key{App: app, Environment: env}
	var baseline string
	if last, ok := d.lastSettled(key); ok {
		baseline = last.Revision
	}

	if err := d.Deploy.Refresh(ctx, app, env); err != nil {
		// The syncer will notice on its own schedule; just slower.
		d.Logger.Log("app", app, "environment", env, "err", errors.Wrap(err, "refreshing syncer"))
	}

	settledSince := deploy.SettledSince(baseline)
	status := func(ctx context.Context) (interface{}, error) {
		return d.Deploy.Status(ctx, app, env)
	}
	terminal := func(s interface{}) bool {
		st := s.(deploy.State)
		// An exact revision match counts as settled even when it
		// equals the baseline: the syncer may have got there before a
		// baseline was recorded.
		atRevision := st.Sync == deploy.SyncSynced && st.Health == deploy.HealthHealthy && st.Revision == revision
		return st.Failed() || settledSince(st) || atRevision
	}

	begin := time.Now()
	observed, err := poll.Wait(ctx, status, terminal, d.syncInterval(), d.syncTimeout())
	settleDuration.With(cascademetrics.LabelEnvironment, env.String()).Observe(time.Since(begin).Seconds())
	if err != nil {
		return deploy.State{}, errors.Wrapf(err, "waiting for %s to settle in %s", app, env)
	}
	st := observed.(deploy.State)
	if st.Failed() {
		return st, errors.Errorf("deployment of %s in %s failed: sync=%s health=%s", app, env, st.Sync, st.Health)
	}
	return st, nil
}

// cascade promotes a settled change into the next environment of the
// chain: copy the artifact, open (or supersede into) a promotion
// request, and start its validation.
func (d *Daemon) cascade(ctx context.Context, logger log.Logger, app pipeline.App, env pipeline.Environment, cand candidate) ([]string, error) {
	next, ok := d.Chain.Next(env)
	if !ok {
		return nil, nil
	}
	if cand.revision == "" {
		// An overlay written by hand, without a source revision;
		// there is nothing to promote from.
		logger.Log("environment", env, "msg", "overlay has no source revision, not cascading")
		return nil, nil
	}

	promotedTag, err := d.Promoter.Promote(ctx, app, env, next, cand.revision)
	if err != nil {
		return nil, errors.Wrapf(err, "promoting %s artifact from %s to %s", app, env, next)
	}
	d.LogEvent(event.Event{
		App: app, Environment: next, Type: event.EventPromote,
		StartedAt: time.Now().UTC(), LogLevel: event.LogLevelInfo,
		Metadata: event.PromotionMetadata{SourceEnv: env.String(), Revision: cand.revision, CandidateTag: promotedTag},
	})

	// The next environment may already carry this candidate, from an
	// earlier sweep or a replica; nothing to request then.
	if current, ok, err := d.overlayCandidate(ctx, app, next, next.Branch()); err != nil {
		return nil, err
	} else if ok && current.tag == promotedTag {
		logger.Log("environment", next, "msg", "candidate already landed, not cascading")
		return nil, nil
	}

	req, err := d.Requests.CreateOrSupersede(ctx, app, env, next, cand.revision, promotedTag)
	if err != nil {
		return nil, errors.Wrapf(err, "requesting promotion of %s into %s", app, next)
	}
	cascadeCount.With(cascademetrics.LabelEnvironment, next.String()).Add(1)
	d.LogEvent(event.Event{
		App: app, Environment: next, Type: event.EventCascade,
		StartedAt: time.Now().UTC(), LogLevel: event.LogLevelInfo,
		Metadata: event.PromotionMetadata{
			RequestID: fmt.Sprint(req.ID), SourceEnv: env.String(),
			Revision: cand.revision, CandidateTag: promotedTag,
		},
	})

	d.startValidation(req)
	return []string{fmt.Sprint(req.ID)}, nil
}

// startValidation watches the new request's validation build in the
// background, so a slow CI on one key never holds up the loop or
// other keys. The task registry keeps it to one watcher per key; the
// request state in the host, not the registry, is what guarantees
// at-most-one-open.
func (d *Daemon) startValidation(req request.PromotionRequest) {
	key := req.Key()
	if !d.tryStartTask(key) {
		return
	}
	go func() {
		defer d.endTask(key)
		ctx, cancel := context.WithTimeout(context.Background(), d.validationTimeout()+time.Minute)
		defer cancel()
		validated, err := d.Requests.AwaitValidation(ctx, req, d.validationTimeout())
		if err != nil {
			d.Logger.Log("request", req.ID, "key", key.String(), "err", err)
			d.LogEvent(event.Event{
				App: req.App, Environment: req.TargetEnv, Type: event.EventFail,
				StartedAt: time.Now().UTC(), LogLevel: event.LogLevelError,
				Metadata: event.PromotionMetadata{
					RequestID: fmt.Sprint(req.ID), CandidateTag: req.CandidateTag, Reason: err.Error(),
				},
			})
			return
		}
		d.Logger.Log("request", validated.ID, "key", key.String(), "state", validated.State)
	}()
}
