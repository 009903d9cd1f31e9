package models

import (
	"fmt"
	"time"
)

// ReviewComment is a single review comment on a pull request diff.
// Comments are append-only history: created once per GitHub ID, never mutated.
type ReviewComment struct {
	ID            int64      `json:"id"`
	GitHubID      int64      `json:"github_id"`
	PullRequestID int64      `json:"pull_request_id"`
	AuthorLogin   string     `json:"author_login"`
	Body          string     `json:"body"`
	Path          string     `json:"path"`
	Position      int        `json:"position"`
	Line          *int       `json:"line,omitempty"`
	DiffHunk      *string    `json:"diff_hunk,omitempty"`
	HTMLURL       string     `json:"html_url"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	CollectedAt   time.Time  `json:"collected_at"`
}

// CodeSnippet is a block of added code carved out of a review comment's
// diff hunk at collection time.
type CodeSnippet struct {
	ID              int64     `json:"id"`
	ReviewCommentID int64     `json:"review_comment_id"`
	FilePath        string    `json:"file_path"`
	LineStart       int       `json:"line_start"`
	LineEnd         int       `json:"line_end"`
	Content         string    `json:"content"`
	Language        *string   `json:"language,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// LineCount returns the number of lines covered by the snippet.
func (s *CodeSnippet) LineCount() int {
	return s.LineEnd - s.LineStart + 1
}

// CommentThread groups review comments anchored at the same file position.
type CommentThread struct {
	ID              int64     `json:"id"`
	PullRequestID   int64     `json:"pull_request_id"`
	ReviewCommentID int64     `json:"review_comment_id"`
	ThreadPath      string    `json:"thread_path"`
	ThreadPosition  int       `json:"thread_position"`
	IsResolved      bool      `json:"is_resolved"`
	CreatedAt       time.Time `json:"created_at"`
}

// ThreadKey identifies a thread within its pull request.
func (t *CommentThread) ThreadKey() string {
	return fmt.Sprintf("%s:%d", t.ThreadPath, t.ThreadPosition)
}
