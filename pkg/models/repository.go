package models

import "time"

// Repository is an enrolled GitHub repository tracked for sync.
type Repository struct {
	ID           int64      `json:"id"`
	GitHubID     int64      `json:"github_id"`
	Name         string     `json:"name"`
	FullName     string     `json:"full_name"`
	OwnerLogin   string     `json:"owner_login"`
	HTMLURL      string     `json:"html_url"`
	Description  *string    `json:"description,omitempty"`
	Language     *string    `json:"language,omitempty"`
	IsActive     bool       `json:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
