// Package github provides a client for the GitHub REST API operations the
// orchestrator needs: labels, comments, and pull requests. It also carries
// the status-to-label mapping used to mirror lifecycle state onto issues.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for rate-limited requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second
)

// Client provides methods to interact with the GitHub REST API for a
// single repository.
type Client struct {
	Token      string       // GitHub personal access token
	Owner      string       // Repository owner (user or org)
	Repo       string       // Repository name
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client
}

// Label represents a GitHub label.
type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID        int        `json:"id"`     // Global unique ID
	Number    int        `json:"number"` // Repository-scoped issue number
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"` // "open" or "closed"
	Labels    []Label    `json:"labels"`
	User      *User      `json:"user,omitempty"` // Author
	HTMLURL   string     `json:"html_url"`
	CreatedAt *time.Time `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Comment represents an issue comment.
type Comment struct {
	ID      int    `json:"id"`
	Body    string `json:"body"`
	User    *User  `json:"user,omitempty"`
	HTMLURL string `json:"html_url,omitempty"`
}

// BranchRef is the head/base of a pull request.
type BranchRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha,omitempty"`
}

// PullRequest represents a pull request from the GitHub API.
type PullRequest struct {
	ID           int        `json:"id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	State        string     `json:"state"` // "open" or "closed"
	Merged       bool       `json:"merged"`
	Mergeable    *bool      `json:"mergeable,omitempty"`
	Draft        bool       `json:"draft"`
	Head         BranchRef  `json:"head"`
	Base         BranchRef  `json:"base"`
	User         *User      `json:"user,omitempty"`
	HTMLURL      string     `json:"html_url"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changed_files"`
	Commits      int        `json:"commits"`
	CreatedAt    *time.Time `json:"created_at"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
}

// PullFile is one changed file in a pull request diff.
type PullFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"` // added, modified, removed, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// MergeResult is the response to a merge request.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// validStates for GitHub issues and pull requests.
var validStates = map[string]bool{
	"open":   true,
	"closed": true,
}

// IsValidState checks if a GitHub state string is valid.
func IsValidState(state string) bool {
	return validStates[state]
}

// LabelNames extracts label name strings from a slice of Label structs.
func LabelNames(labels []Label) []string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return names
}
