// Package registry provides the gateway to the binary-artifact
// repository, and the promoter that retags build artifacts from one
// environment's namespace into the next.
package registry

import (
	"context"
	"fmt"
)

// Registry is the narrow interface cascade needs from the artifact
// store.
type Registry interface {
	// TagExists reports whether the tag is present in the
	// repository.
	TagExists(ctx context.Context, repo, tag string) (bool, error)
	// CopyTag retags the artifact at sourceTag as targetTag, within
	// the same repository.
	CopyTag(ctx context.Context, repo, sourceTag, targetTag string) error
}

// NotFoundError means the source artifact is absent. Not retryable;
// something upstream failed to push it.
type NotFoundError struct {
	Repo string
	Tag  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %s:%s not found", e.Repo, e.Tag)
}

// AuthError means the store rejected our credentials. Not retryable
// without operator action.
type AuthError struct {
	Repo string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("not authorized for repository %s: %s", e.Repo, e.Err)
}

// UploadError is a transient I/O failure while copying; eligible for
// retry with backoff.
type UploadError struct {
	Repo string
	Tag  string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s:%s: %s", e.Repo, e.Tag, e.Err)
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	_, ok := err.(*UploadError)
	return ok
}
