// Package store persists audit records and the encrypted credential vault.
package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for routehub audit data.
type Store interface {
	// AppendAudit writes one record and its attempts atomically.
	AppendAudit(ctx context.Context, rec AuditRecord) error
	// GetAudit returns the record for requestID with its attempts, or nil if
	// there is none.
	GetAudit(ctx context.Context, requestID string) (*AuditRecord, error)
	// ListAudit returns records newest first, without attempts.
	ListAudit(ctx context.Context, filter AuditFilter, limit, offset int) ([]AuditRecord, error)
	// SummarizeUsage totals attempts per provider for tenantID since since.
	SummarizeUsage(ctx context.Context, tenantID string, since time.Time) ([]UsageSummary, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// VaultStore persists the encrypted credential vault.
type VaultStore interface {
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)
}

// AuditRecord is the persisted form of one routed request.
type AuditRecord struct {
	RequestID    string       `json:"request_id"`
	TenantID     string       `json:"tenant_id"`
	CallerID     string       `json:"caller_id"`
	Outcome      string       `json:"outcome"`
	ProviderUsed string       `json:"provider_used,omitempty"`
	ModelUsed    string       `json:"model_used,omitempty"`
	ErrorClass   string       `json:"error_class,omitempty"`
	TokensUsed   int          `json:"tokens_used"`
	CostUSD      float64      `json:"cost_usd"`
	LatencyMs    int64        `json:"latency_ms"`
	FallbackUsed bool         `json:"fallback_used"`
	Timestamp    time.Time    `json:"timestamp"`
	Attempts     []AttemptRow `json:"attempts,omitempty"`
}

// AttemptRow is one provider attempt within an AuditRecord.
type AttemptRow struct {
	Seq        int       `json:"seq"`
	ProviderID string    `json:"provider_id"`
	Model      string    `json:"model"`
	Success    bool      `json:"success"`
	ErrorClass string    `json:"error_class,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	LatencyMs  int64     `json:"latency_ms"`
	TokensUsed int       `json:"tokens_used"`
	CostUSD    float64   `json:"cost_usd"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditFilter narrows ListAudit. Empty fields match everything.
type AuditFilter struct {
	TenantID string
	Outcome  string
}

// UsageSummary is the per-provider total of attempts.
type UsageSummary struct {
	ProviderID string  `json:"provider_id"`
	Attempts   int     `json:"attempts"`
	Successes  int     `json:"successes"`
	Tokens     int64   `json:"tokens"`
	CostUSD    float64 `json:"cost_usd"`
}

// defaultListLimit applies when a caller passes a non-positive limit.
const defaultListLimit = 100

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
