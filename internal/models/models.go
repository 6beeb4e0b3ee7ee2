package models

import (
	"encoding/json"
	"time"
)

// TenantContext is the per-request execution context produced by the
// governor. It is read-only after creation and never persisted.
type TenantContext struct {
	UserID       string          `json:"user_id"`
	OrgID        string          `json:"org_id"`
	Capabilities []string        `json:"capabilities"`
	Flags        map[string]bool `json:"flags"`
	RequestID    string          `json:"request_id"`
}

// HasCapability reports whether the request carries the given role.
func (c *TenantContext) HasCapability(role string) bool {
	for _, r := range c.Capabilities {
		if r == role {
			return true
		}
	}
	return false
}

type Org struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

type BudgetPolicy struct {
	OrgID           string `json:"org_id"`
	DailyLimitCents int    `json:"daily_limit_cents"`
}

// LedgerEntry is one row of the AI spend ledger. Remaining budget is the
// policy's daily limit minus the sum of today's entries.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	OrgID     string          `json:"org_id"`
	UserID    string          `json:"user_id"`
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Model     string          `json:"model"`
	CostCents int             `json:"cost_cents"`
	LatencyMs int             `json:"latency_ms"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

type Job struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"org_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AccessLog struct {
	ID             int64     `json:"id"`
	OrgID          string    `json:"org_id"`
	UserID         string    `json:"user_id"`
	RequestID      string    `json:"request_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	StatusCode     int       `json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

type CachedResponse struct {
	ID           int64     `json:"id"`
	OrgID        string    `json:"org_id"`
	PromptHash   string    `json:"prompt_hash"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	HitCount     int       `json:"hit_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}
