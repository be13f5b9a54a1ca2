package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Issue represents a single issue discovered in the remote tracker.
// Only the fields the time-tracking UI needs are cached locally.
type Issue struct {
	Key         string     `json:"key" yaml:"key"`
	ProjectKey  string     `json:"project_key" yaml:"project_key"`
	IssueNumber int        `json:"issue_number" yaml:"issue_number"`
	Summary     string     `json:"summary" yaml:"summary"`
	Status      string     `json:"status,omitempty" yaml:"status,omitempty"`
	IssueType   string     `json:"issue_type,omitempty" yaml:"issue_type,omitempty"`
	Assignee    string     `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate checks if the issue has valid field values
func (i *Issue) Validate() error {
	if i.Key == "" {
		return fmt.Errorf("issue key is required")
	}
	if i.ProjectKey == "" {
		return fmt.Errorf("project key is required")
	}
	if i.IssueNumber <= 0 {
		return fmt.Errorf("issue number must be positive (got %d)", i.IssueNumber)
	}
	if !strings.EqualFold(i.Key, FormatIssueKey(i.ProjectKey, i.IssueNumber)) {
		return fmt.Errorf("issue key %s does not match project %s and number %d",
			i.Key, i.ProjectKey, i.IssueNumber)
	}
	return nil
}

// ParseIssueKey splits an issue key of the form "PROJECT-123" into its
// project key and issue number.
func ParseIssueKey(key string) (string, int, error) {
	idx := strings.LastIndex(key, "-")
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, fmt.Errorf("invalid issue key format: %s (expected PROJECT-number)", key)
	}

	num, err := strconv.Atoi(key[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse issue number from %s: %w", key, err)
	}
	if num <= 0 {
		return "", 0, fmt.Errorf("issue number must be positive in %s", key)
	}

	return key[:idx], num, nil
}

// FormatIssueKey builds an issue key from a project key and issue number
func FormatIssueKey(projectKey string, issueNumber int) string {
	return fmt.Sprintf("%s-%d", projectKey, issueNumber)
}

// Direction identifies which way a scan probes from its anchor
type Direction string

const (
	DirectionUp   Direction = "upward"
	DirectionDown Direction = "downward"
)

// IsValid checks if the direction value is valid
func (d Direction) IsValid() bool {
	switch d {
	case DirectionUp, DirectionDown:
		return true
	}
	return false
}

// ProjectCrawlProgress tracks how far issue discovery has advanced for one
// project. It is mutated only by the project's two directional scanners and
// persisted incrementally so a crawl can resume after a restart.
type ProjectCrawlProgress struct {
	ProjectKey                string    `json:"project_key" yaml:"project_key"`
	HighestKnownIssueNumber   int       `json:"highest_known_issue_number" yaml:"highest_known_issue_number"`
	LowestKnownIssueNumber    int       `json:"lowest_known_issue_number" yaml:"lowest_known_issue_number"`
	UpwardComplete            bool      `json:"upward_complete" yaml:"upward_complete"`
	DownwardComplete          bool      `json:"downward_complete" yaml:"downward_complete"`
	TotalIssuesFound          int       `json:"total_issues_found" yaml:"total_issues_found"`
	ConsecutiveUpwardMisses   int       `json:"consecutive_upward_misses" yaml:"consecutive_upward_misses"`
	ConsecutiveDownwardMisses int       `json:"consecutive_downward_misses" yaml:"consecutive_downward_misses"`
	LastCrawlTimestamp        time.Time `json:"last_crawl_timestamp" yaml:"last_crawl_timestamp"`
}

// NewProjectCrawlProgress creates progress anchored at the given issue number.
// Both extremums start at the anchor; scanners extend them as issues are found.
func NewProjectCrawlProgress(projectKey string, anchor int) *ProjectCrawlProgress {
	return &ProjectCrawlProgress{
		ProjectKey:              projectKey,
		HighestKnownIssueNumber: anchor,
		LowestKnownIssueNumber:  anchor,
		LastCrawlTimestamp:      time.Now(),
	}
}

// IsComplete reports whether both scan directions have finished
func (p *ProjectCrawlProgress) IsComplete() bool {
	return p.UpwardComplete && p.DownwardComplete
}

// DirectionComplete reports whether the given direction has finished
func (p *ProjectCrawlProgress) DirectionComplete(d Direction) bool {
	if d == DirectionUp {
		return p.UpwardComplete
	}
	return p.DownwardComplete
}

// MarkDirectionComplete marks the given direction finished. Completion is
// monotonic; it is never cleared except by an explicit reset.
func (p *ProjectCrawlProgress) MarkDirectionComplete(d Direction) {
	if d == DirectionUp {
		p.UpwardComplete = true
	} else {
		p.DownwardComplete = true
	}
	p.LastCrawlTimestamp = time.Now()
}

// ConsecutiveMisses returns the current miss streak for the given direction
func (p *ProjectCrawlProgress) ConsecutiveMisses(d Direction) int {
	if d == DirectionUp {
		return p.ConsecutiveUpwardMisses
	}
	return p.ConsecutiveDownwardMisses
}

// SetConsecutiveMisses sets the miss streak for the given direction
func (p *ProjectCrawlProgress) SetConsecutiveMisses(d Direction, n int) {
	if d == DirectionUp {
		p.ConsecutiveUpwardMisses = n
	} else {
		p.ConsecutiveDownwardMisses = n
	}
	p.LastCrawlTimestamp = time.Now()
}

// ExtendKnownRange widens the confirmed-discovered range to include n.
// The highest extremum never decreases and the lowest never increases.
func (p *ProjectCrawlProgress) ExtendKnownRange(n int) {
	if n > p.HighestKnownIssueNumber {
		p.HighestKnownIssueNumber = n
	}
	if n < p.LowestKnownIssueNumber {
		p.LowestKnownIssueNumber = n
	}
	p.LastCrawlTimestamp = time.Now()
}

// Clone returns a deep copy so callers can snapshot progress without holding
// the scanner's lock
func (p *ProjectCrawlProgress) Clone() *ProjectCrawlProgress {
	cp := *p
	return &cp
}

// CrawlStatus is a transient progress event published on every lookup
// outcome. It is never persisted.
type CrawlStatus struct {
	ProjectKey         string
	Direction          Direction
	CurrentIssueNumber int
	IssuesFound        int
	ConsecutiveMisses  int
	IsComplete         bool
	StartIssueNumber   int
	HighestKnownIssue  int
	LowestKnownIssue   int

	// Err carries a diagnostic cause for transient failures. Its presence
	// is informational only; consumers must treat IsComplete as the sole
	// termination signal.
	Err error
}

// ProjectSummary is the per-project slice of aggregate crawl statistics
type ProjectSummary struct {
	IssuesFound  int  `json:"issues_found" yaml:"issues_found"`
	LowestIssue  int  `json:"lowest_issue" yaml:"lowest_issue"`
	HighestIssue int  `json:"highest_issue" yaml:"highest_issue"`
	Complete     bool `json:"complete" yaml:"complete"`
}

// Statistics aggregates crawl progress across all known projects
type Statistics struct {
	TotalProjects      int                       `json:"total_projects" yaml:"total_projects"`
	TotalIssues        int                       `json:"total_issues" yaml:"total_issues"`
	CompleteProjects   int                       `json:"complete_projects" yaml:"complete_projects"`
	IncompleteProjects int                       `json:"incomplete_projects" yaml:"incomplete_projects"`
	Projects           map[string]ProjectSummary `json:"projects" yaml:"projects"`
}
