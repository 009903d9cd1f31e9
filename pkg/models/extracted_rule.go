package models

import "time"

// Rule categories produced by normalization. Anything unrecognized maps
// to CategoryGeneral.
const (
	CategoryNaming          = "naming"
	CategoryStyle           = "style"
	CategoryPerformance     = "performance"
	CategorySecurity        = "security"
	CategoryBestPractices   = "best_practices"
	CategoryErrorHandling   = "error_handling"
	CategoryTesting         = "testing"
	CategoryDocumentation   = "documentation"
	CategoryArchitecture    = "architecture"
	CategoryReadability     = "readability"
	CategoryMaintainability = "maintainability"
	CategoryReliability     = "reliability"
	CategoryGeneral         = "general"
)

// Categories lists every canonical rule category.
var Categories = []string{
	CategoryNaming,
	CategoryStyle,
	CategoryPerformance,
	CategorySecurity,
	CategoryBestPractices,
	CategoryErrorHandling,
	CategoryTesting,
	CategoryDocumentation,
	CategoryArchitecture,
	CategoryReadability,
	CategoryMaintainability,
	CategoryReliability,
	CategoryGeneral,
}

// Rule severity levels, strongest first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// ExtractedRule is a coding-standard statement derived from one review
// comment. Invalid extraction attempts are retained with IsValid=false and
// the raw response preserved for audit.
type ExtractedRule struct {
	ID              int64     `json:"id"`
	ReviewCommentID int64     `json:"review_comment_id"`
	RuleText        string    `json:"rule_text"`
	RuleCategory    string    `json:"rule_category"`
	RuleSeverity    string    `json:"rule_severity"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty"`
	LLMModel        string    `json:"llm_model"`
	PromptUsed      string    `json:"prompt_used"`
	ResponseRaw     string    `json:"response_raw"`
	IsValid         bool      `json:"is_valid"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RuleStatistic is a derived aggregate over ExtractedRule history, keyed by
// (rule, repository). It is a cache, never independently authoritative.
type RuleStatistic struct {
	ID              int64     `json:"id"`
	RuleID          int64     `json:"rule_id"`
	RepositoryID    int64     `json:"repository_id"`
	OccurrenceCount int       `json:"occurrence_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	AvgConfidence   *float64  `json:"avg_confidence,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	Category      string
	Severity      string
	MinConfidence float64
	ValidOnly     bool
	RepositoryID  int64
	Limit         int
	Offset        int
}
