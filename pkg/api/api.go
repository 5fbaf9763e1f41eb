// Package api defines the interface the cascade daemon serves, both
// over HTTP and in-process. cascadectl speaks exactly this interface
// through the HTTP client.
package api

import (
	"context"

	"github.com/weaveworks/cascade/pkg/config"
	"github.com/weaveworks/cascade/pkg/deploy"
	"github.com/weaveworks/cascade/pkg/job"
	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/request"
)

// ChangeEvent records a commit landing on an environment branch. It
// arrives from the host's webhook, from the daemon notifying itself
// after a merge, or from the periodic reconcile sweep.
type ChangeEvent struct {
	Environment pipeline.Environment `json:"environment"`
	Revision    string               `json:"revision"`
	// Apps lists the applications whose configuration changed in the
	// commit. Empty means "not known"; the daemon then considers every
	// application it manages.
	Apps []pipeline.App `json:"apps,omitempty"`
}

// Cause is the audit trail for an operation requested by a person.
type Cause struct {
	Message string `json:"message,omitempty"`
	User    string `json:"user,omitempty"`
}

// RollbackSpec asks for an environment to be returned to its previous
// configuration for one application.
type RollbackSpec struct {
	App         pipeline.App         `json:"app"`
	Environment pipeline.Environment `json:"environment"`
	// NoCascade stops the rollback from being promoted downstream.
	NoCascade bool `json:"noCascade,omitempty"`
	// Force proceeds even when a downstream environment has an open
	// promotion request.
	Force bool  `json:"force,omitempty"`
	Cause Cause `json:"cause,omitempty"`
}

// Server is what the daemon offers. Mutating operations return a
// job.ID; the work happens on the daemon's loop and the outcome is
// available via JobStatus.
type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)

	// NotifyChange reports a commit on an environment branch and
	// returns the job that will process it.
	NotifyChange(ctx context.Context, ev ChangeEvent) (job.ID, error)
	// ListRequests lists promotion requests for an app. A zero
	// environment means every environment in the chain; openOnly
	// restricts to requests still awaiting a decision.
	ListRequests(ctx context.Context, app pipeline.App, env pipeline.Environment) ([]request.PromotionRequest, error)
	// MergeRequest merges an approved promotion request and kicks off
	// the post-merge flow.
	MergeRequest(ctx context.Context, id int) (job.ID, error)
	// Rollback reverts the latest configuration change in an
	// environment, refusing if a downstream request is open unless
	// forced.
	Rollback(ctx context.Context, spec RollbackSpec) (job.ID, error)

	// Resolve computes the effective configuration for one app in one
	// environment from the layer files at the environment branch head.
	Resolve(ctx context.Context, app pipeline.App, env pipeline.Environment) (config.EffectiveConfig, error)
	// SyncState reports the deployment system's view of an app in an
	// environment.
	SyncState(ctx context.Context, app pipeline.App, env pipeline.Environment) (deploy.State, error)

	JobStatus(ctx context.Context, id job.ID) (job.Status, error)
}
