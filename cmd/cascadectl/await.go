package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/weaveworks/cascade/pkg/api"
	cascaderr "github.com/weaveworks/cascade/pkg/errors"
	"github.com/weaveworks/cascade/pkg/job"
)

var ErrTimeout = errors.New("timeout")

// await polls for a job to complete and reports its outcome.
func await(ctx context.Context, stdout, stderr io.Writer, client api.Server, jobID job.ID) error {
	result, err := awaitJob(ctx, client, jobID)
	if err != nil {
		return err
	}
	if result.Revision != "" {
		fmt.Fprintf(stderr, "Revision:\t%s\n", result.Revision)
	}
	if len(result.RequestIDs) > 0 {
		fmt.Fprintf(stderr, "Requests:\t%s\n", strings.Join(result.RequestIDs, ", "))
	}
	fmt.Fprintln(stdout, "Done.")
	return nil
}

// awaitJob polls for a job to have completed, with exponential backoff.
func awaitJob(ctx context.Context, client api.Server, jobID job.ID) (job.Result, error) {
	var result job.Result
	err := backoff(100*time.Millisecond, 2*time.Second, time.Minute, func() (bool, error) {
		j, err := client.JobStatus(ctx, jobID)
		if err != nil {
			return false, err
		}
		switch j.StatusString {
		case job.StatusFailed:
			result = j.Result
			return true, &cascaderr.Error{
				Type: cascaderr.Server,
				Err:  errors.New(j.Err),
				Help: fmt.Sprintf("The operation failed: %s", j.Err),
			}
		case job.StatusSucceeded:
			result = j.Result
			return true, nil
		}
		return false, nil
	})
	return result, err
}

// backoff polls `f`, doubling the delay up to maxDelay, until it
// returns true, errors, or the timeout is reached.
func backoff(initialDelay, maxDelay, timeout time.Duration, f func() (bool, error)) error {
	delay := initialDelay
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		done, err := f()
		if done || err != nil {
			return err
		}
		time.Sleep(delay)
		delay = delay * 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return ErrTimeout
}
