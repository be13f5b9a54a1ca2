package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timeloom/crawler/internal/types"
)

func TestCrawlProjectRequiresLookupService(t *testing.T) {
	coord := NewCoordinator(newMemStorage(), nil, fastConfig())

	err := coord.CrawlProject(context.Background(), "PROJ", 0)
	assert.ErrorIs(t, err, ErrLookupNotConfigured)
}

func TestCrawlProjectRequiresProjectKey(t *testing.T) {
	coord := NewCoordinator(newMemStorage(), newFakeLookup(), fastConfig())

	err := coord.CrawlProject(context.Background(), "", 0)
	assert.Error(t, err)
}

// TestSeedAnchorFromMostRecentIssue seeds the crawl anchor from the remote
// tracker when no starting number is given
func TestSeedAnchorFromMostRecentIssue(t *testing.T) {
	lookup := newFakeLookup()
	lookup.mostRecent["PROJ"] = &types.Issue{
		Key: "PROJ-250", ProjectKey: "PROJ", IssueNumber: 250, Summary: "latest",
	}

	store := newMemStorage()
	cfg := fastConfig()
	cfg.MissThreshold = 1
	cfg.FloorIssueNumber = 249

	coord := NewCoordinator(store, lookup, cfg)
	require.NoError(t, coord.CrawlProject(context.Background(), "PROJ", 0))

	progress := store.storedProgress("PROJ")
	require.NotNil(t, progress)
	assert.Equal(t, 250, progress.HighestKnownIssueNumber)
	assert.Equal(t, []string{"PROJ"}, lookup.recentCalls)
}

// TestSeedAnchorDefaultsToOne seeds at 1 for an empty project
func TestSeedAnchorDefaultsToOne(t *testing.T) {
	lookup := newFakeLookup() // no mostRecent entry → (nil, nil)
	store := newMemStorage()
	cfg := fastConfig()
	cfg.MissThreshold = 1

	coord := NewCoordinator(store, lookup, cfg)
	require.NoError(t, coord.CrawlProject(context.Background(), "EMPTY", 0))

	progress := store.storedProgress("EMPTY")
	require.NotNil(t, progress)
	assert.Equal(t, 1, progress.LowestKnownIssueNumber)
	assert.True(t, progress.IsComplete())
}

// TestIdempotentRecrawl performs zero lookups when both directions are
// already complete
func TestIdempotentRecrawl(t *testing.T) {
	store := newMemStorage()
	done := types.NewProjectCrawlProgress("PROJ", 100)
	done.MarkDirectionComplete(types.DirectionUp)
	done.MarkDirectionComplete(types.DirectionDown)
	require.NoError(t, store.SaveProgress(context.Background(), done))

	lookup := newFakeLookup()
	coord := NewCoordinator(store, lookup, fastConfig())

	require.NoError(t, coord.CrawlProject(context.Background(), "PROJ", 0))

	assert.Equal(t, 0, lookup.callCount(), "no issue lookups for a complete project")
	assert.Empty(t, lookup.recentCalls, "no anchor seeding for a complete project")
}

// TestResumability continues from the persisted extremum and miss streak
// instead of rescanning confirmed numbers
func TestResumability(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()

	// Persisted state from an interrupted crawl: upward reached 105 with
	// one miss already on the streak; downward finished earlier.
	interrupted := types.NewProjectCrawlProgress("PROJ", 100)
	interrupted.ExtendKnownRange(105)
	interrupted.TotalIssuesFound = 5
	interrupted.SetConsecutiveMisses(types.DirectionUp, 1)
	interrupted.MarkDirectionComplete(types.DirectionDown)
	require.NoError(t, store.SaveProgress(ctx, interrupted))

	lookup := newFakeLookup() // nothing beyond 105 exists

	cfg := fastConfig()
	cfg.MissThreshold = 2

	// Fresh coordinator simulates a process restart
	coord := NewCoordinator(store, lookup, cfg)
	require.NoError(t, coord.CrawlProject(ctx, "PROJ", 0))

	// One persisted miss plus one fresh miss at 106 reaches the threshold
	assert.Equal(t, []string{"PROJ-106"}, lookup.callsSnapshot())
	assert.Empty(t, lookup.recentCalls, "existing progress needs no re-seeding")

	progress := store.storedProgress("PROJ")
	require.NotNil(t, progress)
	assert.True(t, progress.IsComplete())
	assert.Equal(t, 2, progress.ConsecutiveUpwardMisses)
	assert.Equal(t, 105, progress.HighestKnownIssueNumber)
	assert.Equal(t, 5, progress.TotalIssuesFound)
}

// TestSingleFlight ensures two near-simultaneous crawls of the same project
// produce exactly one active scan
func TestSingleFlight(t *testing.T) {
	lookup := newFakeLookup()
	lookup.blockCh = make(chan struct{})

	store := newMemStorage()
	cfg := fastConfig()
	cfg.MissThreshold = 1
	cfg.FloorIssueNumber = 9

	coord := NewCoordinator(store, lookup, cfg)

	first := make(chan error, 1)
	go func() { first <- coord.CrawlProject(context.Background(), "PROJ", 10) }()

	// Wait for the first crawl to block inside a lookup
	require.Eventually(t, func() bool { return lookup.callCount() >= 1 },
		5*time.Second, time.Millisecond)

	// Second call must return immediately, without launching scanners
	callsBefore := lookup.callCount()
	require.NoError(t, coord.CrawlProject(context.Background(), "PROJ", 10))
	assert.Equal(t, callsBefore, lookup.callCount(), "duplicate crawl must not probe")

	close(lookup.blockCh)
	require.NoError(t, <-first)

	progress := store.storedProgress("PROJ")
	require.NotNil(t, progress)
	assert.True(t, progress.IsComplete())
}

// TestCrossProjectIsolation lets project B finish even though every lookup
// for project A fails transiently forever
func TestCrossProjectIsolation(t *testing.T) {
	lookup := newFakeLookup()
	lookup.transientProjects["A"] = true
	lookup.mostRecent["A"] = &types.Issue{Key: "A-5", ProjectKey: "A", IssueNumber: 5, Summary: "a"}
	lookup.mostRecent["B"] = &types.Issue{Key: "B-5", ProjectKey: "B", IssueNumber: 5, Summary: "b"}

	store := newMemStorage()
	cfg := fastConfig()
	cfg.MissThreshold = 1

	coord := NewCoordinator(store, lookup, cfg)

	// Cancel the whole fan-out once B is fully complete; A would retry
	// its transient failures forever otherwise.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var once sync.Once
	coord.OnStatusUpdate(func(s types.CrawlStatus) {
		if s.ProjectKey != "B" || !s.IsComplete {
			return
		}
		if p := store.storedProgress("B"); p != nil && p.IsComplete() {
			once.Do(cancel)
		}
	})

	done := make(chan error, 1)
	go func() { done <- coord.CrawlProjects(ctx, []string{"A", "B"}) }()

	select {
	case err := <-done:
		require.NoError(t, err, "fan-out reports success; per-project failures are logged")
	case <-time.After(10 * time.Second):
		t.Fatal("fan-out did not finish after cancellation")
	}

	bProgress := store.storedProgress("B")
	require.NotNil(t, bProgress)
	assert.True(t, bProgress.IsComplete(), "B must complete despite A failing")

	aProgress := store.storedProgress("A")
	if aProgress != nil {
		assert.False(t, aProgress.IsComplete(), "A can never complete")
	}
}

// TestResumeCrawlsSkipsCompleteProjects filters the fan-out to projects with
// unfinished progress
func TestResumeCrawlsSkipsCompleteProjects(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()

	complete := types.NewProjectCrawlProgress("DONE", 10)
	complete.MarkDirectionComplete(types.DirectionUp)
	complete.MarkDirectionComplete(types.DirectionDown)
	require.NoError(t, store.SaveProgress(ctx, complete))

	partial := types.NewProjectCrawlProgress("PART", 10)
	partial.MarkDirectionComplete(types.DirectionDown)
	require.NoError(t, store.SaveProgress(ctx, partial))

	lookup := newFakeLookup()
	cfg := fastConfig()
	cfg.MissThreshold = 1

	coord := NewCoordinator(store, lookup, cfg)
	require.NoError(t, coord.ResumeCrawls(ctx, []string{"DONE", "PART"}))

	// Only PART was scanned: a single upward probe at 11
	assert.Equal(t, []string{"PART-11"}, lookup.callsSnapshot())
	assert.True(t, store.storedProgress("PART").IsComplete())
}

func TestResumeCrawlsAllCompleteIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()

	complete := types.NewProjectCrawlProgress("DONE", 10)
	complete.MarkDirectionComplete(types.DirectionUp)
	complete.MarkDirectionComplete(types.DirectionDown)
	require.NoError(t, store.SaveProgress(ctx, complete))

	lookup := newFakeLookup()
	coord := NewCoordinator(store, lookup, fastConfig())

	require.NoError(t, coord.ResumeCrawls(ctx, []string{"DONE"}))
	assert.Equal(t, 0, lookup.callCount())
}

// TestResetProjectKeepsCachedIssues clears progress metadata only
func TestResetProjectKeepsCachedIssues(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeLookup()
	lookup.addIssue("PROJ", 101)

	store := newMemStorage()
	cfg := fastConfig()
	cfg.FloorIssueNumber = 99

	coord := NewCoordinator(store, lookup, cfg)
	require.NoError(t, coord.CrawlProject(ctx, "PROJ", 100))
	require.Equal(t, 1, store.issueCount("PROJ"))

	require.NoError(t, coord.ResetProject(ctx, "PROJ"))

	assert.Nil(t, store.storedProgress("PROJ"), "progress metadata removed")
	assert.Equal(t, 1, store.issueCount("PROJ"), "cached issues survive the reset")

	// A fresh crawl re-seeds from scratch
	require.NoError(t, coord.CrawlProject(ctx, "PROJ", 100))
	assert.NotNil(t, store.storedProgress("PROJ"))
}

func TestResetProjectRejectedWhileCrawlActive(t *testing.T) {
	lookup := newFakeLookup()
	lookup.blockCh = make(chan struct{})

	store := newMemStorage()
	cfg := fastConfig()
	cfg.MissThreshold = 1
	cfg.FloorIssueNumber = 9

	coord := NewCoordinator(store, lookup, cfg)

	done := make(chan error, 1)
	go func() { done <- coord.CrawlProject(context.Background(), "PROJ", 10) }()

	require.Eventually(t, func() bool { return lookup.callCount() >= 1 },
		5*time.Second, time.Millisecond)

	err := coord.ResetProject(context.Background(), "PROJ")
	assert.Error(t, err)

	close(lookup.blockCh)
	require.NoError(t, <-done)

	// Once the crawl finished, reset succeeds
	assert.NoError(t, coord.ResetProject(context.Background(), "PROJ"))
}

func TestClearAllRemovesEveryProgressRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()
	require.NoError(t, store.SaveProgress(ctx, types.NewProjectCrawlProgress("A", 1)))
	require.NoError(t, store.SaveProgress(ctx, types.NewProjectCrawlProgress("B", 1)))

	coord := NewCoordinator(store, newFakeLookup(), fastConfig())
	require.NoError(t, coord.ClearAll(ctx))

	assert.Nil(t, store.storedProgress("A"))
	assert.Nil(t, store.storedProgress("B"))
}

// TestGetStatistics aggregates from progress records, including projects
// crawled by earlier runs of the process
func TestGetStatistics(t *testing.T) {
	ctx := context.Background()
	store := newMemStorage()

	complete := types.NewProjectCrawlProgress("DONE", 100)
	complete.ExtendKnownRange(120)
	complete.TotalIssuesFound = 18
	complete.MarkDirectionComplete(types.DirectionUp)
	complete.MarkDirectionComplete(types.DirectionDown)
	require.NoError(t, store.SaveProgress(ctx, complete))

	partial := types.NewProjectCrawlProgress("PART", 50)
	partial.ExtendKnownRange(40)
	partial.TotalIssuesFound = 7
	require.NoError(t, store.SaveProgress(ctx, partial))

	coord := NewCoordinator(store, newFakeLookup(), fastConfig())

	stats, err := coord.GetStatistics(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalProjects)
	assert.Equal(t, 25, stats.TotalIssues)
	assert.Equal(t, 1, stats.CompleteProjects)
	assert.Equal(t, 1, stats.IncompleteProjects)

	require.Contains(t, stats.Projects, "DONE")
	assert.Equal(t, types.ProjectSummary{
		IssuesFound: 18, LowestIssue: 100, HighestIssue: 120, Complete: true,
	}, stats.Projects["DONE"])

	require.Contains(t, stats.Projects, "PART")
	assert.Equal(t, types.ProjectSummary{
		IssuesFound: 7, LowestIssue: 40, HighestIssue: 50, Complete: false,
	}, stats.Projects["PART"])
}

// TestOnStatusUpdateUnsubscribe stops delivery after the returned function
// is called
func TestOnStatusUpdateUnsubscribe(t *testing.T) {
	lookup := newFakeLookup()
	store := newMemStorage()
	cfg := fastConfig()
	cfg.MissThreshold = 1
	cfg.FloorIssueNumber = 9

	coord := NewCoordinator(store, lookup, cfg)

	var mu sync.Mutex
	var count int
	unsubscribe := coord.OnStatusUpdate(func(types.CrawlStatus) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsubscribe()

	require.NoError(t, coord.CrawlProject(context.Background(), "PROJ", 10))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}
