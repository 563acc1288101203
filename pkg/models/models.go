// Package models defines the core data structures used across Postgate.
package models

import (
	"encoding/json"
	"time"
)

// PostKind classifies a candidate post's structure.
type PostKind string

const (
	KindSingle PostKind = "single"
	KindThread PostKind = "thread"
)

// AttemptStatus is the externally visible outcome of a publish attempt.
type AttemptStatus string

const (
	StatusPending          AttemptStatus = "pending"
	StatusPosted           AttemptStatus = "posted"
	StatusBlockedThread    AttemptStatus = "blocked_thread_guard"
	StatusBlockedQuality   AttemptStatus = "blocked_quality"
	StatusBlockedBudget    AttemptStatus = "blocked_budget"
	StatusBlockedFactCheck AttemptStatus = "blocked_fact_check"
	StatusPostFailed       AttemptStatus = "post_failed"
)

// PostPlan is the validated shape of a candidate post: either a single
// post or an ordered multi-segment thread. Kind selects which fields
// are meaningful.
type PostPlan struct {
	Kind     PostKind `json:"kind"`
	Text     string   `json:"text,omitempty"`     // KindSingle
	Segments []string `json:"segments,omitempty"` // KindThread, 2..6 entries
	Goal     string   `json:"goal,omitempty"`     // KindThread
}

// Draft is a candidate post as handed to the publishing facade.
// The raw content is kept alongside the caller's classification so the
// segmentation guard can re-classify mis-tagged content.
type Draft struct {
	ID             string        `json:"id"`
	Content        string        `json:"content"`
	Classification PostKind      `json:"classification"`
	Segments       []string      `json:"segments,omitempty"`
	Goal           string        `json:"goal,omitempty"`
	Topic          string        `json:"topic,omitempty"`
	HookPattern    string        `json:"hook_pattern,omitempty"`
	GeneratorUsed  string        `json:"generator_used,omitempty"`
	AttemptStatus  AttemptStatus `json:"attempt_status"`

	// Usage carries the generation cost of this draft. Records already
	// counted at generation time (Recorded set) are not charged again
	// at publish time; anything else is counted once the post is out.
	Usage *UsageRecord `json:"usage,omitempty"`
}

// PostReceipt is returned by a successful publish.
type PostReceipt struct {
	Success bool   `json:"success"`
	TweetID string `json:"tweet_id"`
}

// CostEstimateInput carries the parameters of a pending model call.
type CostEstimateInput struct {
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// UsageRecord represents a single billable model call. Immutable once
// written; persisted append-only to the usage ledger.
type UsageRecord struct {
	ID               string          `json:"id" db:"id"`
	Model            string          `json:"model" db:"model"`
	Intent           string          `json:"intent" db:"intent"`
	PromptTokens     int             `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens" db:"total_tokens"`
	CostUSD          float64         `json:"cost_usd" db:"cost_usd"`
	RawResponseMeta  json.RawMessage `json:"raw_response_meta,omitempty" db:"raw_response_meta"`
	Timestamp        time.Time       `json:"timestamp" db:"timestamp"`

	// Recorded marks a record already charged against the spend counter,
	// so it survives the round trip through a draft without being
	// double-counted.
	Recorded bool `json:"recorded,omitempty" db:"-"`
}

// BudgetState is a snapshot of the daily spend ledger.
// Blocked is true exactly when SpentUSD >= LimitUSD.
type BudgetState struct {
	DayKey   string  `json:"day_key"` // UTC calendar date, YYYY-MM-DD
	SpentUSD float64 `json:"spent_usd"`
	LimitUSD float64 `json:"limit_usd"`
	Blocked  bool    `json:"blocked"`
}

// OutcomeFreshness counts recently observed vs. stale performance outcomes.
type OutcomeFreshness struct {
	Good  int `json:"good"`
	Stale int `json:"stale"`
}

// RateInputs are the rolling performance signals the rate controller
// consumes on each control tick.
type RateInputs struct {
	RollingER24h      float64          `json:"rolling_er_24h"`
	RollingER7d       float64          `json:"rolling_er_7d"`
	OutcomesFreshness OutcomeFreshness `json:"outcomes_freshness"`
	SpendToday        float64          `json:"spend_today"`
	SpendLimit        float64          `json:"spend_limit"`
	PostErrorRate     float64          `json:"post_error_rate"` // [0,1]
}

// RateTargets are the computed posting cadences, always within the
// configured range and never above the hard ceilings.
type RateTargets struct {
	PostsPerHourTarget  float64 `json:"posts_per_hour_target"`
	RepliesPerDayTarget float64 `json:"replies_per_day_target"`
}

// PostAttribution is one row of the post performance telemetry table.
type PostAttribution struct {
	PostID          string    `json:"post_id" db:"post_id"`
	Topic           string    `json:"topic" db:"topic"`
	HookPattern     string    `json:"hook_pattern" db:"hook_pattern"`
	GeneratorUsed   string    `json:"generator_used" db:"generator_used"`
	Impressions     int64     `json:"impressions" db:"impressions"`
	EngagementRate  float64   `json:"engagement_rate" db:"engagement_rate"`
	FollowersGained int64     `json:"followers_gained" db:"followers_gained"`
	PostedAt        time.Time `json:"posted_at" db:"posted_at"`
}
