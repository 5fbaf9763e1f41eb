// Package deploy is the gateway to the continuous-deployment syncer
// (an Argo CD-style applier): cascade only ever asks for an app's
// sync state in an environment, and nudges the syncer to refresh.
package deploy

import (
	"context"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

type SyncStatus string

const (
	SyncSynced      SyncStatus = "synced"
	SyncProgressing SyncStatus = "progressing"
	SyncError       SyncStatus = "error"
)

type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthProgressing HealthStatus = "progressing"
	HealthDegraded    HealthStatus = "degraded"
)

// State is one observation of an app in an environment.
type State struct {
	Sync     SyncStatus   `json:"sync"`
	Health   HealthStatus `json:"health"`
	Revision string       `json:"revision"`
}

// SettledSince returns a predicate that is true once the app is
// synced, healthy, and at a revision other than the baseline. The
// baseline comparison prevents a false positive from an earlier sync
// that happens to still look green.
func SettledSince(baseline string) func(State) bool {
	return func(s State) bool {
		return s.Sync == SyncSynced && s.Health == HealthHealthy && s.Revision != baseline
	}
}

// Failed reports a state the waiter should treat as terminal
// failure.
func (s State) Failed() bool {
	return s.Sync == SyncError || s.Health == HealthDegraded
}

type Syncer interface {
	// Status gives the current sync state of an app in an
	// environment.
	Status(ctx context.Context, app pipeline.App, env pipeline.Environment) (State, error)
	// Refresh asks the syncer to re-examine the app now rather than
	// on its own schedule.
	Refresh(ctx context.Context, app pipeline.App, env pipeline.Environment) error
}
