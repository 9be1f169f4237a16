package model

import (
	"database/sql"
	"time"
)

// Account is one issued API key with its plan and cycle balance. The plan
// tier itself is owned by the external billing system; this row is the
// gateway's local view of it.
type Account struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	KeyHash   string `db:"key_hash"`
	KeyPrefix string `db:"key_prefix"`
	Plan      string `db:"plan"`

	// Custom-plan overrides; ignored for fixed tiers
	RPS   float64 `db:"rps"`
	Burst int     `db:"burst"`

	Balance        int64     `db:"balance"`
	CycleStartedAt time.Time `db:"cycle_started_at"`

	IsActive   bool         `db:"is_active"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	LastUsedAt sql.NullTime `db:"last_used_at"`
}

// UsageRecord is one finished request's accounting row.
type UsageRecord struct {
	ID        string `db:"id"`
	AccountID string `db:"account_id"`
	Provider  string `db:"provider"`
	Model     string `db:"model"`

	PromptTokens     int `db:"prompt_tokens"`
	CompletionTokens int `db:"completion_tokens"`
	TotalTokens      int `db:"total_tokens"`

	EstimatedUnits int64 `db:"estimated_units"`
	Units          int64 `db:"units"`

	LatencyMS    int64         `db:"latency_ms"`
	TTFTMS       sql.NullInt64 `db:"ttft_ms"`
	StatusCode   int           `db:"status_code"`
	IsStreamed   bool          `db:"is_streamed"`
	FinishReason string        `db:"finish_reason"`

	CreatedAt time.Time `db:"created_at"`
}
