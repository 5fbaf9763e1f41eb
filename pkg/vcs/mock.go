package vcs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Mock is an in-memory stand-in for the host, used in tests. A
// single mutex models the host's serialization of individual calls;
// it deliberately does not serialize call *sequences*, so races
// between concurrent callers are as visible as with the real host.
type Mock struct {
	mu        sync.Mutex
	branches  map[string]string            // branch -> head revision
	snapshots map[string]map[string][]byte // revision -> files
	commits   map[string]mockCommit
	requests  map[int]*MergeRequest
	nextID    int
	commitN   int
	now       time.Time

	// MergeError, if set, is returned by MergeMergeRequest.
	MergeError error
}

type mockCommit struct {
	message string
	parent  string
}

func NewMock() *Mock {
	return &Mock{
		branches:  map[string]string{},
		snapshots: map[string]map[string][]byte{},
		commits:   map[string]mockCommit{},
		requests:  map[int]*MergeRequest{},
		now:       time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ Client = &Mock{}

// SeedBranch creates a branch with an initial commit containing the
// given files.
func (m *Mock) SeedBranch(branch string, files map[string][]byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := map[string][]byte{}
	for p, data := range files {
		copied[p] = data
	}
	rev := m.newCommit("seed "+branch, "")
	m.snapshots[rev] = copied
	m.branches[branch] = rev
	return rev
}

// Requests returns a copy of all merge requests ever created, for
// assertions.
func (m *Mock) Requests() []MergeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MergeRequest
	for _, r := range m.requests {
		out = append(out, *r)
	}
	return out
}

func (m *Mock) HeadRevision(ctx context.Context, branch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.branches[branch]
	if !ok {
		return "", errors.Errorf("no branch %s", branch)
	}
	return rev, nil
}

func (m *Mock) EnsureBranch(ctx context.Context, branch, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[ref]; !ok {
		return errors.Errorf("no such revision %s", ref)
	}
	m.branches[branch] = ref
	return nil
}

func (m *Mock) ReadFile(ctx context.Context, path, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, err := m.filesAt(ref)
	if err != nil {
		return nil, err
	}
	data, ok := files[path]
	if !ok {
		return nil, ErrFileNotFound
	}
	return data, nil
}

func (m *Mock) WriteFile(ctx context.Context, branch, path string, data []byte, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	head, ok := m.branches[branch]
	if !ok {
		return "", errors.Errorf("no branch %s", branch)
	}
	files := m.copyFiles(head)
	files[path] = data
	rev := m.newCommit(message, head)
	m.snapshots[rev] = files
	m.branches[branch] = rev
	return rev, nil
}

func (m *Mock) CommitMessage(ctx context.Context, revision string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[revision]
	if !ok {
		return "", errors.Errorf("no such revision %s", revision)
	}
	return c.message, nil
}

func (m *Mock) RevertCommit(ctx context.Context, revision, branch, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[revision]
	if !ok {
		return "", errors.Errorf("no such revision %s", revision)
	}
	if c.parent == "" {
		return "", errors.Errorf("commit %s has no parent to revert to", revision)
	}
	head, ok := m.branches[branch]
	if !ok {
		return "", errors.Errorf("no branch %s", branch)
	}
	files := m.copyFiles(c.parent)
	rev := m.newCommit(message, head)
	m.snapshots[rev] = files
	m.branches[branch] = rev
	return rev, nil
}

func (m *Mock) CreateMergeRequest(ctx context.Context, spec MergeRequestSpec) (MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	head, ok := m.branches[spec.SourceBranch]
	if !ok {
		return MergeRequest{}, errors.Errorf("no branch %s", spec.SourceBranch)
	}
	m.nextID++
	m.now = m.now.Add(time.Second)
	req := &MergeRequest{
		ID:           m.nextID,
		SourceBranch: spec.SourceBranch,
		TargetBranch: spec.TargetBranch,
		Title:        spec.Title,
		Body:         spec.Body,
		State:        StateOpen,
		HeadRevision: head,
		CreatedAt:    m.now,
	}
	m.requests[req.ID] = req
	return *req, nil
}

func (m *Mock) GetMergeRequest(ctx context.Context, id int) (MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return MergeRequest{}, errors.Errorf("no merge request %d", id)
	}
	return *req, nil
}

func (m *Mock) UpdateMergeRequestBody(ctx context.Context, id int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return errors.Errorf("no merge request %d", id)
	}
	req.Body = body
	return nil
}

func (m *Mock) CloseMergeRequest(ctx context.Context, id int, comment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return errors.Errorf("no merge request %d", id)
	}
	if req.State != StateOpen {
		return nil
	}
	req.State = StateClosed
	return nil
}

func (m *Mock) MergeMergeRequest(ctx context.Context, id int, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MergeError != nil {
		return "", m.MergeError
	}
	req, ok := m.requests[id]
	if !ok {
		return "", errors.Errorf("no merge request %d", id)
	}
	if req.State != StateOpen {
		return "", &MergeConflictError{ID: id, Reason: "request is " + req.State}
	}
	sourceHead := m.branches[req.SourceBranch]
	targetHead := m.branches[req.TargetBranch]
	files := m.copyFiles(sourceHead)
	rev := m.newCommit(message, targetHead)
	m.snapshots[rev] = files
	m.branches[req.TargetBranch] = rev
	req.State = StateMerged
	return rev, nil
}

func (m *Mock) ListOpenMergeRequests(ctx context.Context, targetBranch, sourcePrefix string) ([]MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MergeRequest
	for id := 1; id <= m.nextID; id++ {
		req, ok := m.requests[id]
		if !ok || req.State != StateOpen {
			continue
		}
		if req.TargetBranch == targetBranch && strings.HasPrefix(req.SourceBranch, sourcePrefix) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *Mock) FindMergeRequest(ctx context.Context, targetBranch, sourceBranch string) (MergeRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := m.nextID; id >= 1; id-- {
		req, ok := m.requests[id]
		if !ok {
			continue
		}
		if req.TargetBranch == targetBranch && req.SourceBranch == sourceBranch {
			return *req, true, nil
		}
	}
	return MergeRequest{}, false, nil
}

// Must be called with the lock held.
func (m *Mock) filesAt(ref string) (map[string][]byte, error) {
	if head, ok := m.branches[ref]; ok {
		ref = head
	}
	files, ok := m.snapshots[ref]
	if !ok {
		return nil, errors.Errorf("no such revision %s", ref)
	}
	return files, nil
}

// Must be called with the lock held.
func (m *Mock) copyFiles(ref string) map[string][]byte {
	out := map[string][]byte{}
	for p, data := range m.snapshots[ref] {
		out[p] = data
	}
	return out
}

// Must be called with the lock held.
func (m *Mock) newCommit(message, parent string) string {
	m.commitN++
	rev := fmt.Sprintf("rev%03d", m.commitN)
	m.commits[rev] = mockCommit{message: message, parent: parent}
	return rev
}
