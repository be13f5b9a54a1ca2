package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/timeloom/crawler/internal/events"
	"github.com/timeloom/crawler/internal/jira"
	"github.com/timeloom/crawler/internal/ratelimit"
	"github.com/timeloom/crawler/internal/storage"
	"github.com/timeloom/crawler/internal/types"
)

// directionalScanner runs one monotone direction of one project's crawl.
// It is the only component that calls the lookup service in a loop.
//
// The scanner probes candidate numbers one step at a time from the known
// extremum. Successes extend the extremum and reset the direction's miss
// streak; confirmed absences grow the streak until it reaches the configured
// threshold, which completes the direction. Transient failures retry the
// same candidate after a fixed delay and never touch the streak.
type directionalScanner struct {
	projectKey string
	direction  types.Direction

	// progress is shared with the sibling scanner; mu guards all access
	progress *types.ProjectCrawlProgress
	mu       *sync.Mutex

	lookup jira.IssueLookupService
	store  storage.Storage
	gate   *ratelimit.Gate
	bus    *events.StatusBus
	cfg    *Config

	start   int // anchor this run started from
	unsaved int // successes since the last persisted batch
}

// run executes the scan loop until the direction completes, the context is
// canceled, or storage fails
func (s *directionalScanner) run(ctx context.Context) error {
	s.mu.Lock()
	if s.progress.DirectionComplete(s.direction) {
		s.mu.Unlock()
		return nil
	}
	current := s.extremum()
	s.start = current
	s.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			s.flush()
			return err
		}

		candidate := s.next(current)
		if s.outOfBounds(candidate) {
			// Boundary termination is independent of the miss streak
			return s.complete(ctx, candidate)
		}

		if err := s.gate.Wait(ctx); err != nil {
			s.flush()
			return err
		}

		issue, err := s.lookup.GetIssue(ctx, types.FormatIssueKey(s.projectKey, candidate))
		switch {
		case err == nil:
			if err := s.recordSuccess(ctx, candidate, issue); err != nil {
				return err
			}

		case errors.Is(err, jira.ErrNotFound):
			done, err := s.recordMiss(ctx, candidate)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		default:
			// Transient failure: publish for visibility, wait the fixed
			// backoff, and retry the same candidate. The miss streak is
			// untouched.
			s.publish(candidate, false, err)
			select {
			case <-time.After(s.cfg.TransientRetryDelay):
				continue
			case <-ctx.Done():
				s.flush()
				return ctx.Err()
			}
		}

		current = candidate
	}
}

// recordSuccess handles a discovered issue at candidate
func (s *directionalScanner) recordSuccess(ctx context.Context, candidate int, issue *types.Issue) error {
	s.mu.Lock()
	s.progress.SetConsecutiveMisses(s.direction, 0)
	s.progress.ExtendKnownRange(candidate)
	s.progress.TotalIssuesFound++
	s.mu.Unlock()

	if err := s.store.UpsertIssue(ctx, issue); err != nil {
		return fmt.Errorf("failed to cache issue %s: %w", issue.Key, err)
	}

	s.publish(candidate, false, nil)

	s.unsaved++
	if s.unsaved >= s.cfg.BatchSize {
		if err := s.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

// recordMiss handles a confirmed-absent candidate. It returns done=true when
// the miss streak reaches the threshold and the direction completes.
func (s *directionalScanner) recordMiss(ctx context.Context, candidate int) (bool, error) {
	s.mu.Lock()
	misses := s.progress.ConsecutiveMisses(s.direction) + 1
	s.progress.SetConsecutiveMisses(s.direction, misses)
	s.mu.Unlock()

	if misses >= s.cfg.MissThreshold {
		return true, s.complete(ctx, candidate)
	}

	// Keep listeners informed through long silent streaks; progress is not
	// persisted on a miss alone.
	s.publish(candidate, false, nil)
	return false, nil
}

// complete marks the direction finished, persists progress, and publishes
// the final status
func (s *directionalScanner) complete(ctx context.Context, candidate int) error {
	s.mu.Lock()
	s.progress.MarkDirectionComplete(s.direction)
	s.mu.Unlock()

	if err := s.persist(ctx); err != nil {
		return err
	}
	s.publish(candidate, true, nil)
	return nil
}

// persist writes the current progress through to storage
func (s *directionalScanner) persist(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.progress.Clone()
	s.mu.Unlock()

	if err := s.store.SaveProgress(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist progress for %s: %w", s.projectKey, err)
	}
	s.unsaved = 0
	return nil
}

// flush persists any unsaved batch on the way out of a canceled scan. The
// caller's context is already done, so a short background deadline is used.
func (s *directionalScanner) flush() {
	if s.unsaved == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persist(ctx); err != nil {
		s.cfg.Logf("failed to flush progress for %s: %v", s.projectKey, err)
	}
}

// publish snapshots progress and emits a status event
func (s *directionalScanner) publish(candidate int, isComplete bool, cause error) {
	s.mu.Lock()
	status := types.CrawlStatus{
		ProjectKey:         s.projectKey,
		Direction:          s.direction,
		CurrentIssueNumber: candidate,
		IssuesFound:        s.progress.TotalIssuesFound,
		ConsecutiveMisses:  s.progress.ConsecutiveMisses(s.direction),
		IsComplete:         isComplete,
		StartIssueNumber:   s.start,
		HighestKnownIssue:  s.progress.HighestKnownIssueNumber,
		LowestKnownIssue:   s.progress.LowestKnownIssueNumber,
		Err:                cause,
	}
	s.mu.Unlock()

	s.bus.Publish(status)
}

// extremum returns the confirmed boundary this direction resumes from.
// Callers must hold s.mu.
func (s *directionalScanner) extremum() int {
	if s.direction == types.DirectionUp {
		return s.progress.HighestKnownIssueNumber
	}
	return s.progress.LowestKnownIssueNumber
}

// next computes the candidate one step beyond current
func (s *directionalScanner) next(current int) int {
	if s.direction == types.DirectionUp {
		return current + 1
	}
	return current - 1
}

// outOfBounds reports whether candidate crosses the configured safety bounds
func (s *directionalScanner) outOfBounds(candidate int) bool {
	if s.direction == types.DirectionUp {
		return candidate >= s.cfg.MaxIssueNumber
	}
	return candidate <= s.cfg.FloorIssueNumber
}
