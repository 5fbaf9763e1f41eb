package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/api"
	cascaderr "github.com/weaveworks/cascade/pkg/errors"
	"github.com/weaveworks/cascade/pkg/event"
	"github.com/weaveworks/cascade/pkg/job"
	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
	"github.com/weaveworks/cascade/pkg/request"
)

// Rollback reverts the latest configuration commit in an environment
// for one app. The refusal check happens here, synchronously, so the
// caller learns about a blocking downstream request before anything
// has been touched.
func (d *Daemon) Rollback(ctx context.Context, spec api.RollbackSpec) (job.ID, error) {
	if spec.App == "" {
		return "", &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.New("rollback spec has no app"),
			Help: "A rollback applies to one application; specify which.",
		}
	}
	if !d.Chain.Contains(spec.Environment) {
		return "", &cascaderr.Error{
			Type: cascaderr.User,
			Err:  errors.Errorf("environment %q is not in the chain %s", spec.Environment, d.Chain),
			Help: fmt.Sprintf("The environment %q is not part of the promotion chain %s.", spec.Environment, d.Chain),
		}
	}

	// A rollback under an open downstream request would leave the
	// chain promoting configuration that is about to be withdrawn.
	if next, ok := d.Chain.Next(spec.Environment); ok && !spec.Force {
		open, err := d.Requests.ListOpen(ctx, spec.App, next)
		if err != nil {
			return "", errors.Wrapf(err, "checking downstream requests in %s", next)
		}
		if len(open) > 0 {
			ids := make([]string, len(open))
			for i, r := range open {
				ids[i] = fmt.Sprint(r.ID)
			}
			return "", &cascaderr.Error{
				Type: cascaderr.User,
				Err:  errors.Errorf("open promotion request %s for %s in %s blocks the rollback", strings.Join(ids, ", "), spec.App, next),
				Help: fmt.Sprintf(`Rolling back %s in %s is blocked by open promotion request %s
in %s. Merge or close that request first, or pass --force to roll
back anyway.`, spec.App, spec.Environment, strings.Join(ids, ", "), next),
			}
		}
	}

	return d.queueJob(d.rollback(spec)), nil
}

func (d *Daemon) rollback(spec api.RollbackSpec) jobFunc {
	return func(ctx context.Context, id job.ID, logger log.Logger) (job.Result, error) {
		app, env := spec.App, spec.Environment
		branch := env.Branch()

		head, err := d.VCS.HeadRevision(ctx, branch)
		if err != nil {
			return job.Result{}, errors.Wrapf(err, "getting head of %s", branch)
		}

		// The request whose change is being undone, for the record.
		var undone request.PromotionRequest
		var hasUndone bool
		if cand, ok, err := d.overlayCandidate(ctx, app, env, head); err != nil {
			return job.Result{}, err
		} else if ok {
			undone, hasUndone, err = d.Requests.ForCandidate(ctx, app, env, cand.tag)
			if err != nil {
				return job.Result{}, err
			}
		}

		revision, err := d.VCS.RevertCommit(ctx, head, branch, rollbackMessage(spec))
		if err != nil {
			return job.Result{}, errors.Wrapf(err, "reverting %s on %s", head, branch)
		}
		rollbackCount.With(cascademetrics.LabelEnvironment, env.String()).Add(1)
		d.LogEvent(event.Event{
			App: app, Environment: env, Type: event.EventRollback,
			StartedAt: time.Now().UTC(), LogLevel: event.LogLevelInfo,
			Metadata: event.RollbackMetadata{Revision: revision, NoCascade: spec.NoCascade},
		})
		logger.Log("environment", env, "reverted", head, "revision", revision, "noCascade", spec.NoCascade)

		result := job.Result{Revision: revision}
		ids, err := d.processApp(ctx, logger, app, env, revision)
		result.RequestIDs = append(result.RequestIDs, ids...)
		if err != nil {
			return result, err
		}

		if hasUndone && undone.State == request.StateSettled {
			reason := fmt.Sprintf("rolled back in %s", revision)
			if spec.Cause.User != "" {
				reason = fmt.Sprintf("rolled back by %s in %s", spec.Cause.User, revision)
			}
			if _, err := d.Requests.SetState(ctx, undone, request.StateRolledBack, reason); err != nil {
				return result, errors.Wrapf(err, "recording rollback of request %d", undone.ID)
			}
			result.RequestIDs = append(result.RequestIDs, fmt.Sprint(undone.ID))
		}
		return result, nil
	}
}

func rollbackMessage(spec api.RollbackSpec) string {
	msg := fmt.Sprintf("Roll back %s in %s", spec.App, spec.Environment)
	if spec.Cause.Message != "" {
		msg += "\n\n" + spec.Cause.Message
	}
	if spec.Cause.User != "" {
		msg += "\n\nRequested by: " + spec.Cause.User
	}
	markers := rollbackMarker
	if spec.NoCascade {
		markers += " " + noCascadeMarker
	}
	return msg + "\n\n" + markers
}
