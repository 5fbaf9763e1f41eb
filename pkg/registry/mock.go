package registry

import (
	"context"
	"sync"
)

// Mock is an in-memory artifact store for tests.
type Mock struct {
	mu      sync.Mutex
	tags    map[string]map[string]bool
	uploads int

	// CopyFailures makes the next n CopyTag calls fail with a
	// transient UploadError.
	CopyFailures int
	// Err, if set, is returned by every call.
	Err error
}

func NewMock() *Mock {
	return &Mock{tags: map[string]map[string]bool{}}
}

var _ Registry = &Mock{}

func (m *Mock) AddTag(repo, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tags[repo] == nil {
		m.tags[repo] = map[string]bool{}
	}
	m.tags[repo][tag] = true
}

// Uploads reports how many copies have actually been performed.
func (m *Mock) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

func (m *Mock) TagExists(ctx context.Context, repo, tag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.tags[repo][tag], nil
}

func (m *Mock) CopyTag(ctx context.Context, repo, sourceTag, targetTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.CopyFailures > 0 {
		m.CopyFailures--
		return &UploadError{Repo: repo, Tag: targetTag, Err: context.DeadlineExceeded}
	}
	if !m.tags[repo][sourceTag] {
		return &NotFoundError{Repo: repo, Tag: sourceTag}
	}
	if m.tags[repo] == nil {
		m.tags[repo] = map[string]bool{}
	}
	m.tags[repo][targetTag] = true
	m.uploads++
	return nil
}
