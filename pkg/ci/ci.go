// Package ci is the gateway to the continuous-integration runner,
// reduced to the one question cascade asks: how is the latest build
// for a branch doing?
package ci

import (
	"context"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the build has stopped.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

type Client interface {
	// BuildStatus gives the status of the latest build for the head
	// of a branch.
	BuildStatus(ctx context.Context, branch string) (Status, error)
}
