package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/weaveworks/cascade/pkg/api"
	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
	"github.com/weaveworks/cascade/pkg/pipeline"
)

const (
	defaultReconcileInterval = 5 * time.Minute
	defaultSyncInterval      = 5 * time.Second
	defaultSyncTimeout       = 10 * time.Minute
	defaultValidationTimeout = 15 * time.Minute
	defaultJobTimeout        = 20 * time.Minute
)

// LoopVars groups the loop's timing knobs and its in-memory
// bookkeeping. Everything here is advisory; the host holds the state
// that matters.
type LoopVars struct {
	// ReconcileInterval is how often to sweep the environment
	// branches for commits the webhook never delivered.
	ReconcileInterval time.Duration
	// SyncInterval and SyncTimeout govern polling the deployment
	// system while waiting for an environment to settle.
	SyncInterval time.Duration
	SyncTimeout  time.Duration
	// ValidationTimeout bounds waiting for a request's CI build.
	ValidationTimeout time.Duration
	// JobTimeout bounds a whole queued operation.
	JobTimeout time.Duration

	initOnce      sync.Once
	reconcileSoon chan struct{}
	state         stateCache
	tasks         taskSet
}

func (loop *LoopVars) ensureInit() {
	loop.initOnce.Do(func() {
		loop.reconcileSoon = make(chan struct{}, 1)
		loop.state.init()
		loop.tasks.init()
	})
}

func (loop *LoopVars) reconcileInterval() time.Duration {
	if loop.ReconcileInterval > 0 {
		return loop.ReconcileInterval
	}
	return defaultReconcileInterval
}

func (loop *LoopVars) syncInterval() time.Duration {
	if loop.SyncInterval > 0 {
		return loop.SyncInterval
	}
	return defaultSyncInterval
}

func (loop *LoopVars) syncTimeout() time.Duration {
	if loop.SyncTimeout > 0 {
		return loop.SyncTimeout
	}
	return defaultSyncTimeout
}

func (loop *LoopVars) validationTimeout() time.Duration {
	if loop.ValidationTimeout > 0 {
		return loop.ValidationTimeout
	}
	return defaultValidationTimeout
}

func (loop *LoopVars) jobTimeout() time.Duration {
	if loop.JobTimeout > 0 {
		return loop.JobTimeout
	}
	return defaultJobTimeout
}

// AskForReconcile asks for a branch sweep, or if one is already
// waiting, lets that happen.
func (d *LoopVars) AskForReconcile() {
	d.ensureInit()
	select {
	case d.reconcileSoon <- struct{}{}:
	default:
	}
}

// Loop runs the daemon: jobs are executed one at a time off the
// queue, and the environment branches are swept periodically as a
// fallback for missed webhooks.
func (d *Daemon) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	d.ensureInit()

	reconcileTimer := time.NewTimer(d.reconcileInterval())
	defer reconcileTimer.Stop()

	// Branch heads as of the last sweep, so a sweep only enqueues
	// work for branches that moved.
	swept := map[pipeline.Environment]string{}

	// Catch up on anything that happened while we were not running.
	d.AskForReconcile()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case <-d.reconcileSoon:
			if !reconcileTimer.Stop() {
				select {
				case <-reconcileTimer.C:
				default:
				}
			}
			d.reconcile(logger, swept)
			reconcileTimer.Reset(d.reconcileInterval())
		case <-reconcileTimer.C:
			d.AskForReconcile()
		case job := <-d.Jobs.Ready():
			queueLength.Set(float64(d.Jobs.Len()))
			jobLogger := log.With(logger, "jobID", job.ID)
			jobLogger.Log("state", "in-progress")
			start := time.Now()
			result, err := job.Do(jobLogger)
			jobDuration.With(
				cascademetrics.LabelSuccess, fmt.Sprint(err == nil),
			).Observe(time.Since(start).Seconds())
			if err != nil {
				jobLogger.Log("state", "done", "success", "false", "err", err)
			} else {
				jobLogger.Log("state", "done", "success", "true", "revision", result.Revision)
			}
		}
	}
}

// reconcile enqueues a change event for every environment branch that
// has moved since the last sweep. Processing is idempotent, so a
// head that was already handled via webhook costs one no-op job.
func (d *Daemon) reconcile(logger log.Logger, swept map[pipeline.Environment]string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, env := range d.Chain {
		head, err := d.VCS.HeadRevision(ctx, env.Branch())
		if err != nil {
			logger.Log("environment", env, "err", err)
			continue
		}
		if swept[env] == head {
			continue
		}
		swept[env] = head
		logger.Log("environment", env, "head", head, "msg", "branch moved, enqueueing sweep")
		d.queueJob(d.handleChange(api.ChangeEvent{
			Environment: env,
			Revision:    head,
			Apps:        d.Apps,
		}))
	}
}
