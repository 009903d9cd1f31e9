package models

import "time"

// PullRequest is a closed pull request collected from a repository.
// Rows are immutable once the pull request is closed; the collector skips
// re-fetching pull requests already covered by the repository checkpoint.
type PullRequest struct {
	ID           int64      `json:"id"`
	GitHubID     int64      `json:"github_id"`
	RepositoryID int64      `json:"repository_id"`
	Number       int        `json:"number"`
	Title        string     `json:"title"`
	Body         *string    `json:"body,omitempty"`
	State        string     `json:"state"`
	AuthorLogin  string     `json:"author_login"`
	HTMLURL      string     `json:"html_url"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
	CollectedAt  time.Time  `json:"collected_at"`
}
