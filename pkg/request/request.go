// Package request manages promotion requests: the stateful proposals
// to move an app's configuration and artifact from one environment to
// the next. Each request is backed by a merge request on the VCS
// host, which is the authoritative record; nothing here is persisted
// in-process.
package request

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/pipeline"
	"github.com/weaveworks/cascade/pkg/vcs"
)

// State is the lifecycle state of a promotion request.
type State string

const (
	StateCreated    State = "created"
	StateValidating State = "validating"
	StateApproved   State = "approved"
	StateMerged     State = "merged"
	StateSyncing    State = "syncing"
	StateSettled    State = "settled"
	StateFailed     State = "failed"
	StateSuperseded State = "superseded"
	StateRolledBack State = "rolled_back"
)

// Terminal reports whether a request in this state will never move
// again.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateFailed, StateSuperseded, StateRolledBack:
		return true
	}
	return false
}

// PromotionRequest is cascade's view of one request. The host's
// merge request carries this as JSON in its body.
type PromotionRequest struct {
	ID             int                  `json:"id"`
	App            pipeline.App         `json:"app"`
	SourceEnv      pipeline.Environment `json:"sourceEnv"`
	TargetEnv      pipeline.Environment `json:"targetEnv"`
	SourceRevision string               `json:"sourceRevision"`
	CandidateTag   string               `json:"candidateTag"`
	State          State                `json:"state"`
	// Reason is the human-readable explanation for failed and
	// superseded states; never empty for those.
	Reason string `json:"reason,omitempty"`
	// SupersededBy is the ID of the request that replaced this one.
	SupersededBy int `json:"supersededBy,omitempty"`
	// MergedRevision is the commit the merge produced on the target
	// environment branch.
	MergedRevision string    `json:"mergedRevision,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`

	// Branch is the request's source branch on the host.
	Branch string `json:"-"`
}

// Key is the supersession key: one open request per key.
func (r PromotionRequest) Key() pipeline.Key {
	return pipeline.Key{App: r.App, Environment: r.TargetEnv}
}

const branchPrefix = "cascade/"

// BranchFor names the request branch for one candidate. The branch
// name is deterministic so a duplicate upstream event resolves to
// the same branch rather than a new one.
func BranchFor(app pipeline.App, targetEnv pipeline.Environment, candidateTag string) string {
	return fmt.Sprintf("%s%s/%s/%s", branchPrefix, targetEnv, app, candidateTag)
}

// branchPrefixFor narrows host-side listing to one target env, and
// optionally one app.
func branchPrefixFor(targetEnv pipeline.Environment, app pipeline.App) string {
	if app == "" {
		return fmt.Sprintf("%s%s/", branchPrefix, targetEnv)
	}
	return fmt.Sprintf("%s%s/%s/", branchPrefix, targetEnv, app)
}

func titleFor(app pipeline.App, targetEnv pipeline.Environment, revision string) string {
	return fmt.Sprintf("Promote %s to %s (%.12s)", app, targetEnv, revision)
}

// The body wire format. Versioned so old requests remain parseable
// if the shape changes.
type wireBody struct {
	Version int              `json:"version"`
	Request PromotionRequest `json:"request"`
}

func marshalBody(req PromotionRequest) (string, error) {
	data, err := json.MarshalIndent(wireBody{Version: 1, Request: req}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding request body")
	}
	return string(data), nil
}

// ParseRequest reconstructs a promotion request from the host's
// merge request.
func ParseRequest(mr vcs.MergeRequest) (PromotionRequest, error) {
	if !strings.HasPrefix(mr.SourceBranch, branchPrefix) {
		return PromotionRequest{}, errors.Errorf("merge request %d (%s) is not a promotion request", mr.ID, mr.SourceBranch)
	}
	var body wireBody
	if err := json.Unmarshal([]byte(mr.Body), &body); err != nil {
		return PromotionRequest{}, errors.Wrapf(err, "parsing body of merge request %d", mr.ID)
	}
	req := body.Request
	req.ID = mr.ID
	req.Branch = mr.SourceBranch
	req.CreatedAt = mr.CreatedAt
	return req, nil
}
