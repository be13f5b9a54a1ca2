package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/timeloom/crawler/internal/types"
)

// Client implements IssueLookupService against the Jira Cloud REST API v2
type Client struct {
	baseURL    string
	email      string
	apiToken   string
	httpClient *http.Client
}

// ClientConfig holds Jira connection settings
type ClientConfig struct {
	// BaseURL is the Jira site root, e.g. "https://acme.atlassian.net"
	BaseURL string

	// Email and APIToken are used for basic auth against Jira Cloud
	Email    string
	APIToken string

	// Timeout is the per-request HTTP timeout
	// Default: 30s
	Timeout time.Duration
}

// NewClient creates a Jira REST client
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		email:      cfg.Email,
		apiToken:   cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// issueFields is the subset of Jira's issue payload the crawler caches
type issueFields struct {
	Summary string `json:"summary"`
	Status  *struct {
		Name string `json:"name"`
	} `json:"status"`
	IssueType *struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Updated string `json:"updated"`
}

type issueResponse struct {
	Key    string      `json:"key"`
	Fields issueFields `json:"fields"`
}

type searchResponse struct {
	Issues []issueResponse `json:"issues"`
}

// jiraTimeLayout is Jira's timestamp format ("2006-01-02T15:04:05.000-0700")
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// GetIssue fetches a single issue by key
func (c *Client) GetIssue(ctx context.Context, issueKey string) (*types.Issue, error) {
	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=summary,status,issuetype,assignee,updated",
		c.baseURL, url.PathEscape(issueKey))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp issueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransientError{Cause: fmt.Errorf("failed to decode issue %s: %w", issueKey, err)}
	}

	return resp.toIssue()
}

// GetMostRecentIssue returns the newest issue in the project, or (nil, nil)
// when the project has none
func (c *Client) GetMostRecentIssue(ctx context.Context, projectKey string) (*types.Issue, error) {
	jql := url.QueryEscape(fmt.Sprintf("project = %s ORDER BY created DESC", projectKey))
	endpoint := fmt.Sprintf("%s/rest/api/2/search?jql=%s&maxResults=1&fields=summary,status,issuetype,assignee,updated",
		c.baseURL, jql)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransientError{Cause: fmt.Errorf("failed to decode search for %s: %w", projectKey, err)}
	}

	if len(resp.Issues) == 0 {
		return nil, nil
	}

	return resp.Issues[0].toIssue()
}

// get performs an authenticated GET and maps HTTP status codes onto the
// crawler's error taxonomy: 404 is ErrNotFound, everything else that fails
// is transient.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.email != "" || c.apiToken != "" {
		req.SetBasicAuth(c.email, c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransientError{Cause: fmt.Errorf("failed to read response body: %w", err)}
		}
		return body, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound

	default:
		// Auth failures and remote rate limits land here too. The scanner
		// treats them all as retriable rather than terminal.
		return nil, &TransientError{Cause: fmt.Errorf("jira returned HTTP %d", resp.StatusCode)}
	}
}

func (r *issueResponse) toIssue() (*types.Issue, error) {
	projectKey, issueNumber, err := types.ParseIssueKey(r.Key)
	if err != nil {
		return nil, &TransientError{Cause: err}
	}

	issue := &types.Issue{
		Key:         r.Key,
		ProjectKey:  projectKey,
		IssueNumber: issueNumber,
		Summary:     r.Fields.Summary,
	}
	if r.Fields.Status != nil {
		issue.Status = r.Fields.Status.Name
	}
	if r.Fields.IssueType != nil {
		issue.IssueType = r.Fields.IssueType.Name
	}
	if r.Fields.Assignee != nil {
		issue.Assignee = r.Fields.Assignee.DisplayName
	}
	if r.Fields.Updated != "" {
		if ts, err := time.Parse(jiraTimeLayout, r.Fields.Updated); err == nil {
			issue.UpdatedAt = &ts
		}
	}

	return issue, nil
}

// Compile-time check that Client implements IssueLookupService
var _ IssueLookupService = (*Client)(nil)
