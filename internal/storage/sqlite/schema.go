package sqlite

const schema = `
-- Per-project crawl progress
CREATE TABLE IF NOT EXISTS crawl_progress (
    project_key TEXT PRIMARY KEY,
    highest_known_issue INTEGER NOT NULL DEFAULT 0,
    lowest_known_issue INTEGER NOT NULL DEFAULT 0,
    upward_complete INTEGER NOT NULL DEFAULT 0,
    downward_complete INTEGER NOT NULL DEFAULT 0,
    total_issues_found INTEGER NOT NULL DEFAULT 0,
    consecutive_upward_misses INTEGER NOT NULL DEFAULT 0,
    consecutive_downward_misses INTEGER NOT NULL DEFAULT 0,
    last_crawl_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Cache of discovered issues
CREATE TABLE IF NOT EXISTS issues (
    issue_key TEXT PRIMARY KEY,
    project_key TEXT NOT NULL,
    issue_number INTEGER NOT NULL CHECK(issue_number > 0),
    summary TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    issue_type TEXT NOT NULL DEFAULT '',
    assignee TEXT,
    updated_at DATETIME,
    cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_key);
CREATE INDEX IF NOT EXISTS idx_issues_project_number ON issues(project_key, issue_number DESC);
`
