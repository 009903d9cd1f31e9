package models

// SummaryStats aggregates pipeline-wide counts for the statistics endpoint.
type SummaryStats struct {
	Repositories   int64            `json:"repositories"`
	PullRequests   int64            `json:"pull_requests"`
	ReviewComments int64            `json:"review_comments"`
	TotalRules     int64            `json:"total_rules"`
	ValidRules     int64            `json:"valid_rules"`
	ByCategory     map[string]int64 `json:"by_category"`
	BySeverity     map[string]int64 `json:"by_severity"`
}
