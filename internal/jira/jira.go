package jira

import (
	"context"
	"errors"
	"fmt"

	"github.com/timeloom/crawler/internal/types"
)

// IssueLookupService defines what the crawler needs from the remote issue
// tracker. The crawler only ever fetches single issues by key, plus one seed
// lookup per previously-unseen project.
type IssueLookupService interface {
	// GetIssue fetches a single issue by its full key ("PROJ-123").
	// It returns ErrNotFound when the key does not correspond to an
	// existing issue, and a *TransientError for any other failure.
	GetIssue(ctx context.Context, issueKey string) (*types.Issue, error)

	// GetMostRecentIssue returns the most recently created issue in the
	// project, or (nil, nil) if the project has no issues. Used only to
	// seed a crawl anchor.
	GetMostRecentIssue(ctx context.Context, projectKey string) (*types.Issue, error)
}

// ErrNotFound indicates the issue key does not correspond to an existing
// issue. This is an expected outcome during discovery, not a failure.
var ErrNotFound = errors.New("issue not found")

// TransientError wraps failures that may succeed on retry: network errors,
// auth rejections, and remote rate limiting. The scanner retries these
// without counting them as misses.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient lookup failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is (or wraps) a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
