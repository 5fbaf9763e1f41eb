// Package poll implements the waiting primitive used to observe
// asynchronous external resources: CI builds and deployment syncs.
// Status is observed by polling rather than callbacks; see the design
// notes in the repo root.
package poll

import (
	"context"
	"fmt"
	"time"
)

// StatusFunc fetches the current state of the observed resource. A
// returned error is treated as transient: the wait keeps polling
// until the timeout. States that are themselves failures (a build
// that failed, a sync in error) must be returned as values, so the
// terminal predicate can stop the wait immediately.
type StatusFunc func(ctx context.Context) (interface{}, error)

// TerminalFunc reports whether a state is terminal, i.e., whether
// polling should stop and return it.
type TerminalFunc func(state interface{}) bool

// TimeoutError is returned when the resource did not reach a
// terminal state within the timeout. Last carries the most recent
// transient query error, if any, since that is usually the
// interesting part.
type TimeoutError struct {
	After time.Duration
	Last  error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("timed out after %s; last error: %s", e.After, e.Last)
	}
	return fmt.Sprintf("timed out after %s", e.After)
}

// Wait polls status every interval until terminal reports true for
// the observed state, the timeout elapses, or the context is
// cancelled. Cancellation is returned immediately as the context's
// error, never swallowed. The first poll happens straight away
// rather than after the first interval.
func Wait(ctx context.Context, status StatusFunc, terminal TerminalFunc, interval, timeout time.Duration) (interface{}, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var lastErr error
	for {
		state, err := status(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			// Transient; keep polling.
			lastErr = err
		case terminal(state):
			return state, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, &TimeoutError{After: timeout, Last: lastErr}
		case <-tick.C:
		}
	}
}
