package storage

import (
	"context"

	"github.com/timeloom/crawler/internal/storage/sqlite"
	"github.com/timeloom/crawler/internal/types"
)

// Storage defines the durable state the crawler depends on: per-project
// crawl progress and the cache of discovered issues. The two are
// independently addressable; clearing progress never touches cached issues.
type Storage interface {
	// Crawl progress
	GetProgress(ctx context.Context, projectKey string) (*types.ProjectCrawlProgress, error)
	SaveProgress(ctx context.Context, progress *types.ProjectCrawlProgress) error
	ListProgress(ctx context.Context) ([]*types.ProjectCrawlProgress, error)
	ClearProgress(ctx context.Context, projectKey string) error
	ClearAllProgress(ctx context.Context) error

	// Issue cache
	UpsertIssue(ctx context.Context, issue *types.Issue) error
	GetIssuesByProject(ctx context.Context, projectKey string) ([]*types.Issue, error)
	ClearIssuesByProject(ctx context.Context, projectKey string) error
	ClearAllIssues(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".timeloom/crawl.db"
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".timeloom/crawl.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".timeloom/crawl.db"
	}

	return sqlite.New(cfg.Path)
}
