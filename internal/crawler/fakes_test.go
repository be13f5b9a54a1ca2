package crawler

import (
	"context"
	"sync"

	"github.com/timeloom/crawler/internal/jira"
	"github.com/timeloom/crawler/internal/types"
)

// fakeLookup provides a scriptable lookup service for tests
type fakeLookup struct {
	mu sync.Mutex

	// issues maps issue key → issue; any key not present is a miss
	issues map[string]*types.Issue

	// mostRecent maps project key → seed issue returned by GetMostRecentIssue
	mostRecent map[string]*types.Issue

	// transientProjects makes every GetIssue for the project fail transiently
	transientProjects map[string]bool

	// transientBudget fails GetIssue for a key transiently N times before
	// falling through to the normal outcome
	transientBudget map[string]int

	// blockCh, when non-nil, blocks every GetIssue until it is closed
	blockCh chan struct{}

	calls       []string // GetIssue keys in call order
	recentCalls []string // GetMostRecentIssue project keys
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		issues:            make(map[string]*types.Issue),
		mostRecent:        make(map[string]*types.Issue),
		transientProjects: make(map[string]bool),
		transientBudget:   make(map[string]int),
	}
}

// addIssue registers an existing issue at the given number
func (f *fakeLookup) addIssue(projectKey string, number int) {
	key := types.FormatIssueKey(projectKey, number)
	f.issues[key] = &types.Issue{
		Key:         key,
		ProjectKey:  projectKey,
		IssueNumber: number,
		Summary:     "issue " + key,
	}
}

func (f *fakeLookup) GetIssue(ctx context.Context, issueKey string) (*types.Issue, error) {
	f.mu.Lock()
	f.calls = append(f.calls, issueKey)
	block := f.blockCh
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &jira.TransientError{Cause: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	projectKey, _, err := types.ParseIssueKey(issueKey)
	if err == nil && f.transientProjects[projectKey] {
		return nil, &jira.TransientError{Cause: errAlwaysTransient}
	}
	if f.transientBudget[issueKey] > 0 {
		f.transientBudget[issueKey]--
		return nil, &jira.TransientError{Cause: errAlwaysTransient}
	}

	if issue, ok := f.issues[issueKey]; ok {
		cp := *issue
		return &cp, nil
	}
	return nil, jira.ErrNotFound
}

func (f *fakeLookup) GetMostRecentIssue(ctx context.Context, projectKey string) (*types.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentCalls = append(f.recentCalls, projectKey)

	if issue, ok := f.mostRecent[projectKey]; ok {
		cp := *issue
		return &cp, nil
	}
	return nil, nil
}

// callCount returns the number of GetIssue calls so far
func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// callsSnapshot copies the GetIssue call log
func (f *fakeLookup) callsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

var errAlwaysTransient = &scriptedError{"scripted transient failure"}

type scriptedError struct{ msg string }

func (e *scriptedError) Error() string { return e.msg }

// memStorage is an in-memory Storage implementation for tests
type memStorage struct {
	mu sync.Mutex

	progress map[string]*types.ProjectCrawlProgress
	issues   map[string]*types.Issue

	saveCount int // SaveProgress invocations
}

func newMemStorage() *memStorage {
	return &memStorage{
		progress: make(map[string]*types.ProjectCrawlProgress),
		issues:   make(map[string]*types.Issue),
	}
}

func (m *memStorage) GetProgress(ctx context.Context, projectKey string) (*types.ProjectCrawlProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[projectKey]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (m *memStorage) SaveProgress(ctx context.Context, progress *types.ProjectCrawlProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[progress.ProjectKey] = progress.Clone()
	m.saveCount++
	return nil
}

func (m *memStorage) ListProgress(ctx context.Context) ([]*types.ProjectCrawlProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*types.ProjectCrawlProgress
	for _, p := range m.progress {
		all = append(all, p.Clone())
	}
	return all, nil
}

func (m *memStorage) ClearProgress(ctx context.Context, projectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.progress, projectKey)
	return nil
}

func (m *memStorage) ClearAllProgress(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = make(map[string]*types.ProjectCrawlProgress)
	return nil
}

func (m *memStorage) UpsertIssue(ctx context.Context, issue *types.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *issue
	m.issues[issue.Key] = &cp
	return nil
}

func (m *memStorage) GetIssuesByProject(ctx context.Context, projectKey string) ([]*types.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Issue
	for _, issue := range m.issues {
		if issue.ProjectKey == projectKey {
			cp := *issue
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStorage) ClearIssuesByProject(ctx context.Context, projectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, issue := range m.issues {
		if issue.ProjectKey == projectKey {
			delete(m.issues, key)
		}
	}
	return nil
}

func (m *memStorage) ClearAllIssues(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues = make(map[string]*types.Issue)
	return nil
}

func (m *memStorage) Close() error { return nil }

// storedProgress fetches a progress snapshot directly from the fake store
func (m *memStorage) storedProgress(projectKey string) *types.ProjectCrawlProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.progress[projectKey]; ok {
		return p.Clone()
	}
	return nil
}

func (m *memStorage) issueCount(projectKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, issue := range m.issues {
		if issue.ProjectKey == projectKey {
			n++
		}
	}
	return n
}
