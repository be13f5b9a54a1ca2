package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/timeloom/crawler/internal/events"
	"github.com/timeloom/crawler/internal/jira"
	"github.com/timeloom/crawler/internal/ratelimit"
	"github.com/timeloom/crawler/internal/storage"
	"github.com/timeloom/crawler/internal/types"
)

// ErrLookupNotConfigured indicates the coordinator was built without a
// lookup service. This is a configuration error surfaced before any
// scanning starts.
var ErrLookupNotConfigured = errors.New("issue lookup service is not configured")

// Coordinator orchestrates issue discovery across projects:
// - loads or seeds per-project progress (read-through from storage)
// - runs both scan directions of a project concurrently and joins them
// - fans out independent crawls across projects
// - guards against duplicate concurrent crawls of the same project
// - aggregates statistics and republishes scanner status events
//
// A Coordinator is constructed by the application's composition root and
// passed to whatever needs it; there is no package-level instance.
type Coordinator struct {
	store  storage.Storage
	lookup jira.IssueLookupService
	gate   *ratelimit.Gate
	bus    *events.StatusBus
	cfg    *Config

	mu               sync.Mutex
	active           map[string]struct{}                    // single-flight guard, keyed by project
	progress         map[string]*types.ProjectCrawlProgress // in-memory slice of crawler state
	progressLocks    map[string]*sync.Mutex
	lastGlobalUpdate time.Time
}

// NewCoordinator creates a crawl coordinator. lookup may be nil, in which
// case every crawl attempt fails with ErrLookupNotConfigured.
func NewCoordinator(store storage.Storage, lookup jira.IssueLookupService, cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()

	return &Coordinator{
		store:         store,
		lookup:        lookup,
		gate:          ratelimit.New(cfg.MinRequestInterval),
		bus:           events.NewStatusBus(cfg.Logf),
		cfg:           cfg,
		active:        make(map[string]struct{}),
		progress:      make(map[string]*types.ProjectCrawlProgress),
		progressLocks: make(map[string]*sync.Mutex),
	}
}

// CrawlProject discovers issues for one project, probing outward in both
// directions from its anchor. startingNumber seeds the anchor for a
// previously-unseen project; pass 0 to seed from the project's most recent
// issue instead (falling back to 1 when the project has none).
//
// The call returns once both directions complete. If a crawl for this
// project is already active, it returns immediately without starting a
// duplicate.
func (c *Coordinator) CrawlProject(ctx context.Context, projectKey string, startingNumber int) error {
	if c.lookup == nil {
		return ErrLookupNotConfigured
	}
	if projectKey == "" {
		return fmt.Errorf("project key is required")
	}

	c.mu.Lock()
	if _, running := c.active[projectKey]; running {
		c.mu.Unlock()
		return nil
	}
	c.active[projectKey] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, projectKey)
		c.mu.Unlock()
	}()

	progress, progressMu, err := c.loadOrInitProgress(ctx, projectKey, startingNumber)
	if err != nil {
		return err
	}

	if progress.IsComplete() {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, direction := range []types.Direction{types.DirectionUp, types.DirectionDown} {
		scanner := &directionalScanner{
			projectKey: projectKey,
			direction:  direction,
			progress:   progress,
			mu:         progressMu,
			lookup:     c.lookup,
			store:      c.store,
			gate:       c.gate,
			bus:        c.bus,
			cfg:        c.cfg,
		}
		g.Go(func() error {
			return scanner.run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("crawl of %s failed: %w", projectKey, err)
	}

	c.mu.Lock()
	c.lastGlobalUpdate = time.Now()
	c.mu.Unlock()

	return nil
}

// CrawlProjects fans out independent crawls for every key. A failure in one
// project's crawl is logged and does not abort or delay any sibling.
func (c *Coordinator) CrawlProjects(ctx context.Context, projectKeys []string) error {
	var wg sync.WaitGroup
	for _, key := range projectKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if err := c.CrawlProject(ctx, key, 0); err != nil {
				c.cfg.Logf("crawl of project %s failed: %v", key, err)
			}
		}(key)
	}
	wg.Wait()
	return nil
}

// ResumeCrawls restarts crawls for the given keys, skipping projects whose
// progress already has both directions complete. Projects with no recorded
// progress are crawled from scratch.
func (c *Coordinator) ResumeCrawls(ctx context.Context, projectKeys []string) error {
	var pending []string
	for _, key := range projectKeys {
		progress, err := c.peekProgress(ctx, key)
		if err != nil {
			return err
		}
		if progress == nil || !progress.IsComplete() {
			pending = append(pending, key)
		}
	}

	if len(pending) == 0 {
		return nil
	}
	return c.CrawlProjects(ctx, pending)
}

// ResetProject clears the project's crawl progress. Cached issues remain
// queryable. Resetting a project while its crawl is active is rejected.
func (c *Coordinator) ResetProject(ctx context.Context, projectKey string) error {
	c.mu.Lock()
	if _, running := c.active[projectKey]; running {
		c.mu.Unlock()
		return fmt.Errorf("cannot reset %s: crawl in progress", projectKey)
	}
	delete(c.progress, projectKey)
	delete(c.progressLocks, projectKey)
	c.lastGlobalUpdate = time.Now()
	c.mu.Unlock()

	if err := c.store.ClearProgress(ctx, projectKey); err != nil {
		return fmt.Errorf("failed to reset project %s: %w", projectKey, err)
	}
	return nil
}

// ClearAll clears crawl progress for every project. Cached issues remain.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	if len(c.active) > 0 {
		c.mu.Unlock()
		return fmt.Errorf("cannot clear progress: %d crawl(s) in progress", len(c.active))
	}
	c.progress = make(map[string]*types.ProjectCrawlProgress)
	c.progressLocks = make(map[string]*sync.Mutex)
	c.lastGlobalUpdate = time.Now()
	c.mu.Unlock()

	if err := c.store.ClearAllProgress(ctx); err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}

// GetStatistics aggregates crawl progress across all known projects. Totals
// come from progress records, not from re-querying the issue cache.
func (c *Coordinator) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stored, err := c.store.ListProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress records: %w", err)
	}

	// In-memory entries are at least as fresh as their stored counterparts
	merged := make(map[string]*types.ProjectCrawlProgress, len(stored))
	for _, p := range stored {
		merged[p.ProjectKey] = p
	}
	c.mu.Lock()
	for key, p := range c.progress {
		lock := c.progressLocks[key]
		lock.Lock()
		merged[key] = p.Clone()
		lock.Unlock()
	}
	c.mu.Unlock()

	stats := &types.Statistics{
		Projects: make(map[string]types.ProjectSummary, len(merged)),
	}
	for key, p := range merged {
		stats.TotalProjects++
		stats.TotalIssues += p.TotalIssuesFound
		if p.IsComplete() {
			stats.CompleteProjects++
		} else {
			stats.IncompleteProjects++
		}
		stats.Projects[key] = types.ProjectSummary{
			IssuesFound:  p.TotalIssuesFound,
			LowestIssue:  p.LowestKnownIssueNumber,
			HighestIssue: p.HighestKnownIssueNumber,
			Complete:     p.IsComplete(),
		}
	}

	return stats, nil
}

// OnStatusUpdate subscribes to crawl status events and returns an
// unsubscribe function
func (c *Coordinator) OnStatusUpdate(callback events.StatusCallback) func() {
	return c.bus.Subscribe(callback)
}

// loadOrInitProgress returns the project's progress and its lock,
// read-through from storage on first access and seeded on first crawl
func (c *Coordinator) loadOrInitProgress(ctx context.Context, projectKey string, startingNumber int) (*types.ProjectCrawlProgress, *sync.Mutex, error) {
	c.mu.Lock()
	if progress, ok := c.progress[projectKey]; ok {
		lock := c.progressLocks[projectKey]
		c.mu.Unlock()
		return progress, lock, nil
	}
	c.mu.Unlock()

	// Read-through: storage first, then seed a fresh entry
	progress, err := c.store.GetProgress(ctx, projectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load progress for %s: %w", projectKey, err)
	}

	if progress == nil {
		anchor, err := c.seedAnchor(ctx, projectKey, startingNumber)
		if err != nil {
			return nil, nil, err
		}
		progress = types.NewProjectCrawlProgress(projectKey, anchor)
		if err := c.store.SaveProgress(ctx, progress); err != nil {
			return nil, nil, fmt.Errorf("failed to save seeded progress for %s: %w", projectKey, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another caller may have loaded it while we were reading storage;
	// the single-flight guard makes that impossible for crawls, but stats
	// and resets share the map.
	if existing, ok := c.progress[projectKey]; ok {
		return existing, c.progressLocks[projectKey], nil
	}
	c.progress[projectKey] = progress
	c.progressLocks[projectKey] = &sync.Mutex{}
	c.lastGlobalUpdate = time.Now()
	return progress, c.progressLocks[projectKey], nil
}

// seedAnchor picks the anchor for a previously-unseen project: the explicit
// starting number if given, else the most recent discoverable issue, else 1
func (c *Coordinator) seedAnchor(ctx context.Context, projectKey string, startingNumber int) (int, error) {
	if startingNumber > 0 {
		return startingNumber, nil
	}

	recent, err := c.lookup.GetMostRecentIssue(ctx, projectKey)
	if err != nil {
		return 0, fmt.Errorf("failed to seed anchor for %s: %w", projectKey, err)
	}
	if recent != nil {
		return recent.IssueNumber, nil
	}
	return 1, nil
}

// peekProgress reads progress without seeding anything: in-memory first,
// then storage
func (c *Coordinator) peekProgress(ctx context.Context, projectKey string) (*types.ProjectCrawlProgress, error) {
	c.mu.Lock()
	if progress, ok := c.progress[projectKey]; ok {
		lock := c.progressLocks[projectKey]
		c.mu.Unlock()
		lock.Lock()
		defer lock.Unlock()
		return progress.Clone(), nil
	}
	c.mu.Unlock()

	progress, err := c.store.GetProgress(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for %s: %w", projectKey, err)
	}
	return progress, nil
}
