// Package vcs defines the narrow interface cascade needs from the
// version-control host, which is the source of truth for all
// coordination state: environment branch heads and open merge
// requests. There is no database behind the daemon; anything not
// recorded in the host is not recorded at all.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrFileNotFound is returned by ReadFile when the path does not
// exist at the given ref. Layer files are allowed to be absent, so
// callers check for this specifically.
var ErrFileNotFound = errors.New("file not found at ref")

// MergeConflictError means the host refused to merge a request; it
// needs human intervention and is never retried automatically.
type MergeConflictError struct {
	ID     int
	Reason string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge request %d cannot be merged: %s", e.ID, e.Reason)
}

// State of a merge request as reported by the host.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateMerged = "merged"
)

// MergeRequest is the host's view of a request; cascade keeps its
// own metadata serialized in the Body.
type MergeRequest struct {
	ID           int
	SourceBranch string
	TargetBranch string
	Title        string
	Body         string
	State        string
	HeadRevision string
	CreatedAt    time.Time
}

type MergeRequestSpec struct {
	SourceBranch string
	TargetBranch string
	Title        string
	Body         string
}

// Client is the gateway to the host. Implementations must be safe
// for concurrent use; atomicity of individual calls is the host's,
// and callers layer optimistic retries on top rather than holding
// process-local locks.
type Client interface {
	// HeadRevision gives the current head commit of a branch.
	HeadRevision(ctx context.Context, branch string) (string, error)
	// EnsureBranch makes branch point at ref, creating it or
	// force-updating a branch that points elsewhere. Request branches
	// are named deterministically per candidate, so a stale branch
	// left by an earlier request for the same candidate is recreated
	// from the current target head rather than reused.
	EnsureBranch(ctx context.Context, branch, ref string) error
	// ReadFile reads a file at a ref; ErrFileNotFound if absent.
	ReadFile(ctx context.Context, path, ref string) ([]byte, error)
	// WriteFile commits data to path on branch, returning the new
	// commit.
	WriteFile(ctx context.Context, branch, path string, data []byte, message string) (string, error)
	// CommitMessage gives the message of a commit.
	CommitMessage(ctx context.Context, revision string) (string, error)
	// RevertCommit commits the inverse of revision onto branch,
	// returning the new head.
	RevertCommit(ctx context.Context, revision, branch, message string) (string, error)

	CreateMergeRequest(ctx context.Context, spec MergeRequestSpec) (MergeRequest, error)
	GetMergeRequest(ctx context.Context, id int) (MergeRequest, error)
	// UpdateMergeRequestBody replaces the request body (used to carry
	// cascade's metadata).
	UpdateMergeRequestBody(ctx context.Context, id int, body string) error
	// CloseMergeRequest closes a request without merging, leaving a
	// comment saying why.
	CloseMergeRequest(ctx context.Context, id int, comment string) error
	// MergeMergeRequest merges a request; *MergeConflictError if the
	// host cannot.
	MergeMergeRequest(ctx context.Context, id int, message string) (string, error)
	// ListOpenMergeRequests lists open requests against targetBranch
	// whose source branch starts with sourcePrefix, oldest first.
	ListOpenMergeRequests(ctx context.Context, targetBranch, sourcePrefix string) ([]MergeRequest, error)
	// FindMergeRequest returns the newest request, in any state, whose
	// source and target branches match exactly.
	FindMergeRequest(ctx context.Context, targetBranch, sourceBranch string) (MergeRequest, bool, error)
}
