package ci

import (
	"context"
	"sync"
)

// Mock reports whatever status the test has set per branch;
// StatusRunning for branches it has never heard of.
type Mock struct {
	mu       sync.Mutex
	statuses map[string]Status
	// Err, if set, is returned by every BuildStatus call.
	Err error
}

func NewMock() *Mock {
	return &Mock{statuses: map[string]Status{}}
}

var _ Client = &Mock{}

func (m *Mock) SetStatus(branch string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[branch] = status
}

func (m *Mock) BuildStatus(ctx context.Context, branch string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	if s, ok := m.statuses[branch]; ok {
		return s, nil
	}
	return StatusRunning, nil
}
