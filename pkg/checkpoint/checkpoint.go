package checkpoint

import (
	"time"

	"github.com/go-kit/kit/log"
)

const reportPeriod = 6 * time.Hour

// Report logs the running release periodically, together with any
// flags the caller supplies (chain, apps, kernel). Operators use the
// line to spot fleets running stale daemons. Disable with
// CHECKPOINT_DISABLE.
func Report(product, version string, extra map[string]string, logger log.Logger) *Checker {
	flags := map[string]string{
		"kernel-version": getKernelVersion(),
	}
	for k, v := range extra {
		flags[k] = v
	}

	report := func() {
		args := []interface{}{"product", product, "version", version}
		for k, v := range flags {
			args = append(args, k, v)
		}
		logger.Log(args...)
	}

	return reportInterval(report, reportPeriod)
}

func reportInterval(report func(), interval time.Duration) *Checker {
	c := &Checker{doneCh: make(chan struct{})}

	if isDisabled() {
		return c
	}

	go func() {
		report()

		for {
			after := randomStagger(interval)
			c.nextAtLock.Lock()
			c.nextAt = time.Now().Add(after)
			c.nextAtLock.Unlock()

			select {
			case <-time.After(after):
				report()
			case <-c.doneCh:
				return
			}
		}
	}()

	return c
}
