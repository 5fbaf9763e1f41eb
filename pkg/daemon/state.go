package daemon

import (
	"sync"
	"time"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

// environmentState is the last observed settled condition of one app
// in one environment. It is a cache over the deployment system and
// the branch history, used to de-duplicate notifications and to form
// settle baselines; losing it is safe.
type environmentState struct {
	Revision  string
	Tag       string
	UpdatedAt time.Time
}

type stateCache struct {
	mu sync.Mutex
	m  map[pipeline.Key]environmentState
}

func (c *stateCache) init() {
	c.m = map[pipeline.Key]environmentState{}
}

func (d *LoopVars) lastSettled(key pipeline.Key) (environmentState, bool) {
	d.ensureInit()
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	s, ok := d.state.m[key]
	return s, ok
}

func (d *LoopVars) recordSettled(key pipeline.Key, s environmentState) {
	d.ensureInit()
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	d.state.m[key] = s
}

// taskSet tracks which keys have a background watcher running. It
// keeps the daemon from stacking up duplicate watchers; correctness
// of at-most-one-open-request comes from the host, not from here.
type taskSet struct {
	mu     sync.Mutex
	active map[pipeline.Key]bool
}

func (t *taskSet) init() {
	t.active = map[pipeline.Key]bool{}
}

func (d *LoopVars) tryStartTask(key pipeline.Key) bool {
	d.ensureInit()
	d.tasks.mu.Lock()
	defer d.tasks.mu.Unlock()
	if d.tasks.active[key] {
		return false
	}
	d.tasks.active[key] = true
	return true
}

func (d *LoopVars) endTask(key pipeline.Key) {
	d.tasks.mu.Lock()
	defer d.tasks.mu.Unlock()
	delete(d.tasks.active, key)
}
