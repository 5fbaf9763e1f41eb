// Package daemon contains the promotion orchestrator: the component
// that watches environment branches, walks promotion requests through
// their lifecycle, and cascades settled changes down the environment
// chain.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/api"
	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/deploy"
	cascaderr "github.com/weaveworks/cascade/pkg/errors"
	"github.com/weaveworks/cascade/pkg/event"
	"github.com/weaveworks/cascade/pkg/guid"
	"github.com/weaveworks/cascade/pkg/job"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/registry"
	"github.com/weaveworks/cascade/pkg/request"
	"github.com/weaveworks/cascade/pkg/vcs"
)

// Daemon is the fully-assembled orchestrator. All coordination state
// lives in the VCS host; the only things kept in memory are caches
// and bookkeeping, so a restarted daemon picks up where it left off.
type Daemon struct {
	V              string
	VCS            vcs.Client
	Deploy         deploy.Syncer
	Promoter       *registry.Promoter
	Requests       *request.Manager
	Resolver       config.Resolver
	Chain          pipeline.Chain
	Apps           []pipeline.App
	Jobs           *job.Queue
	JobStatusCache *job.StatusCache
	EventWriter    event.EventWriter
	Logger         log.Logger
	// bookkeeping
	*LoopVars
}

// Invariant.
var _ api.Server = &Daemon{}

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

// Ping checks that the host is reachable, since without it the daemon
// can do nothing at all.
func (d *Daemon) Ping(ctx context.Context) error {
	if len(d.Chain) == 0 {
		return errors.New("no environment chain configured")
	}
	_, err := d.VCS.HeadRevision(ctx, d.Chain[0].Branch())
	return err
}

// NotifyChange accepts a report of a commit on an environment branch
// and queues the work of processing it. Duplicate notifications are
// harmless; processing is idempotent per (app, environment).
func (d *Daemon) NotifyChange(ctx context.Context, ev api.ChangeEvent) (job.ID, error) {
	if !d.Chain.Contains(ev.Environment) {
		return "", &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.Errorf("environment %q is not in the chain %s", ev.Environment, d.Chain),
			Help: fmt.Sprintf(`The environment %q is not part of the promotion chain.

The chain this daemon manages is %s; check the webhook
configuration if you expected this environment to be included.`, ev.Environment, d.Chain),
		}
	}
	if ev.Revision == "" {
		return "", &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.New("change event has no revision"),
			Help: "The change notification did not carry a commit revision; nothing to process.",
		}
	}
	return d.queueJob(d.handleChange(ev)), nil
}

// ListRequests lists promotion requests for an app; a zero env means
// all environments in the chain. Only open requests are listed, since
// closed ones are the host's history, not the daemon's.
func (d *Daemon) ListRequests(ctx context.Context, app pipeline.App, env pipeline.Environment) ([]request.PromotionRequest, error) {
	if env != "" && !d.Chain.Contains(env) {
		return nil, &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.Errorf("environment %q is not in the chain %s", env, d.Chain),
			Help: fmt.Sprintf("The environment %q is not part of the promotion chain %s.", env, d.Chain),
		}
	}
	return d.Requests.ListOpen(ctx, app, env)
}

// MergeRequest merges an approved request and runs the post-merge
// flow: wait for the deployment to settle, then cascade into the next
// environment.
func (d *Daemon) MergeRequest(ctx context.Context, id int) (job.ID, error) {
	req, err := d.Requests.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if req.State != request.StateApproved {
		return "", &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.Errorf("request %d is %s, not approved", id, req.State),
			Help: fmt.Sprintf(`Promotion request %d cannot be merged in state %q.

Only approved requests are merged. If it is still validating, wait
for the validation build; if it failed or was superseded, a fresh
promotion has to be requested.`, id, req.State),
		}
	}
	return d.queueJob(d.mergeAndFollow(req)), nil
}

func (d *Daemon) mergeAndFollow(req request.PromotionRequest) jobFunc {
	return func(ctx context.Context, id job.ID, logger log.Logger) (job.Result, error) {
		merged, err := d.Requests.Merge(ctx, req)
		if err != nil {
			return job.Result{RequestIDs: []string{fmt.Sprint(req.ID)}}, err
		}
		d.LogEvent(event.Event{
			App:         merged.App,
			Environment: merged.TargetEnv,
			Type:        event.EventMerge,
			StartedAt:   time.Now().UTC(),
			LogLevel:    event.LogLevelInfo,
			Metadata: event.PromotionMetadata{
				RequestID:    fmt.Sprint(merged.ID),
				SourceEnv:    merged.SourceEnv.String(),
				Revision:     merged.MergedRevision,
				CandidateTag: merged.CandidateTag,
			},
		})
		result := job.Result{
			Revision:   merged.MergedRevision,
			RequestIDs: []string{fmt.Sprint(merged.ID)},
		}
		ids, err := d.processApp(ctx, logger, merged.App, merged.TargetEnv, merged.MergedRevision)
		result.RequestIDs = append(result.RequestIDs, ids...)
		return result, err
	}
}

// Resolve reads the three layer files at the environment branch head
// and computes the effective configuration.
func (d *Daemon) Resolve(ctx context.Context, app pipeline.App, env pipeline.Environment) (config.EffectiveConfig, error) {
	if !d.Chain.Contains(env) {
		return config.EffectiveConfig{}, &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.Errorf("environment %q is not in the chain %s", env, d.Chain),
			Help: fmt.Sprintf("The environment %q is not part of the promotion chain %s.", env, d.Chain),
		}
	}
	branch := env.Branch()
	platformData, err := d.VCS.ReadFile(ctx, config.PlatformPath(), branch)
	if err != nil {
		return config.EffectiveConfig{}, errors.Wrapf(err, "reading platform layer on %s", branch)
	}
	platform, err := config.ParsePlatform(platformData)
	if err != nil {
		return config.EffectiveConfig{}, err
	}
	appLayer, err := d.readOverlay(ctx, config.AppPath(app), branch)
	if err != nil {
		return config.EffectiveConfig{}, err
	}
	envLayer, err := d.readOverlay(ctx, config.EnvPath(env, app), branch)
	if err != nil {
		return config.EffectiveConfig{}, err
	}
	return d.Resolver.Resolve(app, env, platform, appLayer, envLayer)
}

// readOverlay reads an overlay layer, tolerating absence: a missing
// layer contributes nothing.
func (d *Daemon) readOverlay(ctx context.Context, path, ref string) (config.Overlay, error) {
	data, err := d.VCS.ReadFile(ctx, path, ref)
	switch err {
	case nil:
		return config.ParseOverlay(data)
	case vcs.ErrFileNotFound:
		return config.Overlay{}, nil
	default:
		return config.Overlay{}, errors.Wrapf(err, "reading %s at %s", path, ref)
	}
}

// SyncState reports the deployment system's current view of an app.
func (d *Daemon) SyncState(ctx context.Context, app pipeline.App, env pipeline.Environment) (deploy.State, error) {
	return d.Deploy.Status(ctx, app, env)
}

// JobStatus reports how far a queued operation has got.
func (d *Daemon) JobStatus(ctx context.Context, jobID job.ID) (job.Status, error) {
	status, ok := d.JobStatusCache.Status(jobID)
	if ok {
		return status, nil
	}
	return job.Status{}, unknownJobError(jobID)
}

type jobFunc func(ctx context.Context, id job.ID, logger log.Logger) (job.Result, error)

// executeJob runs a job func and keeps track of its status, so the
// daemon can report it when asked.
func (d *Daemon) executeJob(id job.ID, do jobFunc, logger log.Logger) (job.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout())
	defer cancel()
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusRunning})
	result, err := do(ctx, id, logger)
	if err != nil {
		d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusFailed, Err: err.Error(), Result: result})
		return result, err
	}
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusSucceeded, Result: result})
	return result, nil
}

// queueJob queues a job func to be executed by the loop.
func (d *Daemon) queueJob(do jobFunc) job.ID {
	id := job.ID(guid.New())
	enqueuedAt := time.Now()
	d.Jobs.Enqueue(&job.Job{
		ID: id,
		Do: func(logger log.Logger) (job.Result, error) {
			queueDuration.Observe(time.Since(enqueuedAt).Seconds())
			return d.executeJob(id, do, logger)
		},
	})
	queueLength.Set(float64(d.Jobs.Len()))
	d.JobStatusCache.SetStatus(id, job.Status{StatusString: job.StatusQueued})
	return id
}

// LogEvent ships an event to the history writer; failing to record
// history is logged but does not fail the operation it describes.
func (d *Daemon) LogEvent(ev event.Event) {
	if d.EventWriter == nil {
		return
	}
	if err := d.EventWriter.LogEvent(ev); err != nil {
		d.Logger.Log("err", errors.Wrap(err, "logging event"))
	}
}
