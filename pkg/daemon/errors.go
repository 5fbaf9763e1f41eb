package daemon

import (
	"fmt"

	"github.com/pkg/errors"

	cascaderr "github.com/weaveworks/cascade/pkg/errors"
	"github.com/weaveworks/cascade/pkg/job"
)

func unknownJobError(id job.ID) error {
	return &cascaderr.Error{
		Type: cascaderr.Missing,
		Err:  errors.Errorf("unknown job %q", string(id)),
		Help: fmt.Sprintf(`The job ID %q is not known to the daemon.

The daemon keeps a limited history of jobs. It is possible the job
finished long enough ago to have been dropped, or that the daemon
restarted since the job was submitted.`, string(id)),
	}
}
