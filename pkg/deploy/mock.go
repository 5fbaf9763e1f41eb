package deploy

import (
	"context"
	"sync"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

// Mock reports per-key states set by the test, and counts refreshes.
type Mock struct {
	mu        sync.Mutex
	states    map[pipeline.Key]State
	refreshes map[pipeline.Key]int
	// Err, if set, is returned by every call.
	Err error
}

func NewMock() *Mock {
	return &Mock{
		states:    map[pipeline.Key]State{},
		refreshes: map[pipeline.Key]int{},
	}
}

var _ Syncer = &Mock{}

func (m *Mock) SetState(app pipeline.App, env pipeline.Environment, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[pipeline.Key{App: app, Environment: env}] = state
}

func (m *Mock) Refreshes(app pipeline.App, env pipeline.Environment) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes[pipeline.Key{App: app, Environment: env}]
}

func (m *Mock) Status(ctx context.Context, app pipeline.App, env pipeline.Environment) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return State{}, m.Err
	}
	return m.states[pipeline.Key{App: app, Environment: env}], nil
}

func (m *Mock) Refresh(ctx context.Context, app pipeline.App, env pipeline.Environment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.refreshes[pipeline.Key{App: app, Environment: env}]++
	return nil
}
