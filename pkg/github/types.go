package github

import "time"

// Wire types mirror the subset of the GitHub REST API payloads this service
// consumes.

// User is the author of a pull request or comment.
type User struct {
	Login string `json:"login"`
}

// Repository is the metadata returned by GET /repos/{owner}/{repo}.
type Repository struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	FullName    string  `json:"full_name"`
	Owner       User    `json:"owner"`
	HTMLURL     string  `json:"html_url"`
	Description *string `json:"description"`
	Language    *string `json:"language"`
}

// PullRequest is one element of GET /repos/{owner}/{repo}/pulls.
type PullRequest struct {
	ID        int64      `json:"id"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      *string    `json:"body"`
	State     string     `json:"state"`
	User      User       `json:"user"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt *time.Time `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

// ReviewComment is one element of GET /repos/{owner}/{repo}/pulls/{n}/comments.
type ReviewComment struct {
	ID        int64      `json:"id"`
	User      User       `json:"user"`
	Body      string     `json:"body"`
	Path      string     `json:"path"`
	Position  *int       `json:"position"`
	Line      *int       `json:"line"`
	DiffHunk  string     `json:"diff_hunk"`
	HTMLURL   string     `json:"html_url"`
	CreatedAt *time.Time `json:"created_at"`
}
