package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/timeloom/crawler/internal/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	// Ensure directory exists (":memory:" has no directory)
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// GetProgress retrieves crawl progress for a project, or nil if the project
// has never been crawled
func (s *SQLiteStorage) GetProgress(ctx context.Context, projectKey string) (*types.ProjectCrawlProgress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_key, highest_known_issue, lowest_known_issue,
		       upward_complete, downward_complete, total_issues_found,
		       consecutive_upward_misses, consecutive_downward_misses, last_crawl_at
		FROM crawl_progress
		WHERE project_key = ?
	`, projectKey)

	progress, err := scanProgress(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress for %s: %w", projectKey, err)
	}
	return progress, nil
}

// SaveProgress upserts crawl progress for a project. The write is idempotent
// under repeated application with the same values.
func (s *SQLiteStorage) SaveProgress(ctx context.Context, progress *types.ProjectCrawlProgress) error {
	if progress == nil || progress.ProjectKey == "" {
		return fmt.Errorf("progress with a project key is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crawl_progress (
			project_key, highest_known_issue, lowest_known_issue,
			upward_complete, downward_complete, total_issues_found,
			consecutive_upward_misses, consecutive_downward_misses, last_crawl_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_key) DO UPDATE SET
			highest_known_issue = excluded.highest_known_issue,
			lowest_known_issue = excluded.lowest_known_issue,
			upward_complete = excluded.upward_complete,
			downward_complete = excluded.downward_complete,
			total_issues_found = excluded.total_issues_found,
			consecutive_upward_misses = excluded.consecutive_upward_misses,
			consecutive_downward_misses = excluded.consecutive_downward_misses,
			last_crawl_at = excluded.last_crawl_at
	`,
		progress.ProjectKey, progress.HighestKnownIssueNumber, progress.LowestKnownIssueNumber,
		progress.UpwardComplete, progress.DownwardComplete, progress.TotalIssuesFound,
		progress.ConsecutiveUpwardMisses, progress.ConsecutiveDownwardMisses, progress.LastCrawlTimestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save progress for %s: %w", progress.ProjectKey, err)
	}
	return nil
}

// ListProgress returns crawl progress for every known project
func (s *SQLiteStorage) ListProgress(ctx context.Context) ([]*types.ProjectCrawlProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_key, highest_known_issue, lowest_known_issue,
		       upward_complete, downward_complete, total_issues_found,
		       consecutive_upward_misses, consecutive_downward_misses, last_crawl_at
		FROM crawl_progress
		ORDER BY project_key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var all []*types.ProjectCrawlProgress
	for rows.Next() {
		progress, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress row: %w", err)
		}
		all = append(all, progress)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress rows: %w", err)
	}

	return all, nil
}

// ClearProgress removes crawl progress for a project. Cached issues for the
// project are untouched.
func (s *SQLiteStorage) ClearProgress(ctx context.Context, projectKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM crawl_progress WHERE project_key = ?`, projectKey)
	if err != nil {
		return fmt.Errorf("failed to clear progress for %s: %w", projectKey, err)
	}
	return nil
}

// ClearAllProgress removes crawl progress for every project
func (s *SQLiteStorage) ClearAllProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM crawl_progress`)
	if err != nil {
		return fmt.Errorf("failed to clear all progress: %w", err)
	}
	return nil
}

// UpsertIssue inserts or updates a cached issue, keyed by issue key
func (s *SQLiteStorage) UpsertIssue(ctx context.Context, issue *types.Issue) error {
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	var assignee sql.NullString
	if issue.Assignee != "" {
		assignee = sql.NullString{String: issue.Assignee, Valid: true}
	}
	var updatedAt sql.NullTime
	if issue.UpdatedAt != nil {
		updatedAt = sql.NullTime{Time: *issue.UpdatedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issues (
			issue_key, project_key, issue_number, summary, status,
			issue_type, assignee, updated_at, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(issue_key) DO UPDATE SET
			summary = excluded.summary,
			status = excluded.status,
			issue_type = excluded.issue_type,
			assignee = excluded.assignee,
			updated_at = excluded.updated_at,
			cached_at = excluded.cached_at
	`,
		issue.Key, issue.ProjectKey, issue.IssueNumber, issue.Summary, issue.Status,
		issue.IssueType, assignee, updatedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert issue %s: %w", issue.Key, err)
	}
	return nil
}

// GetIssuesByProject returns all cached issues for a project, ordered by
// issue number descending
func (s *SQLiteStorage) GetIssuesByProject(ctx context.Context, projectKey string) ([]*types.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_key, project_key, issue_number, summary, status,
		       issue_type, assignee, updated_at
		FROM issues
		WHERE project_key = ?
		ORDER BY issue_number DESC
	`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get issues for %s: %w", projectKey, err)
	}
	defer rows.Close()

	var issues []*types.Issue
	for rows.Next() {
		var issue types.Issue
		var assignee sql.NullString
		var updatedAt sql.NullTime

		err := rows.Scan(
			&issue.Key, &issue.ProjectKey, &issue.IssueNumber, &issue.Summary,
			&issue.Status, &issue.IssueType, &assignee, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}

		if assignee.Valid {
			issue.Assignee = assignee.String
		}
		if updatedAt.Valid {
			ts := updatedAt.Time
			issue.UpdatedAt = &ts
		}

		issues = append(issues, &issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issue rows: %w", err)
	}

	return issues, nil
}

// ClearIssuesByProject removes all cached issues for a project
func (s *SQLiteStorage) ClearIssuesByProject(ctx context.Context, projectKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issues WHERE project_key = ?`, projectKey)
	if err != nil {
		return fmt.Errorf("failed to clear issues for %s: %w", projectKey, err)
	}
	return nil
}

// ClearAllIssues removes every cached issue
func (s *SQLiteStorage) ClearAllIssues(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issues`)
	if err != nil {
		return fmt.Errorf("failed to clear all issues: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// scanner matches both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row scanner) (*types.ProjectCrawlProgress, error) {
	var p types.ProjectCrawlProgress
	err := row.Scan(
		&p.ProjectKey, &p.HighestKnownIssueNumber, &p.LowestKnownIssueNumber,
		&p.UpwardComplete, &p.DownwardComplete, &p.TotalIssuesFound,
		&p.ConsecutiveUpwardMisses, &p.ConsecutiveDownwardMisses, &p.LastCrawlTimestamp,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
