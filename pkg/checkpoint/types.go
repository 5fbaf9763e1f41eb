package checkpoint

import (
	"sync"
	"time"
)

// Checker is a handle on the background reporter; Stop ends it.
type Checker struct {
	doneCh     chan struct{}
	nextAt     time.Time
	nextAtLock sync.RWMutex
}

func (c *Checker) Stop() {
	select {
	case <-c.doneCh:
	default:
		close(c.doneCh)
	}
}
