package temporal

import (
	"time"

	"github.com/jordanhubbard/routehub/internal/store"
)

// AuditInput is the input for AuditWorkflow.
type AuditInput struct {
	Record store.AuditRecord `json:"record"`
}

// UsageInput is the input for UsageReportWorkflow.
type UsageInput struct {
	TenantID string    `json:"tenant_id"`
	Since    time.Time `json:"since"`
}

// UsageReport is the output of UsageReportWorkflow.
type UsageReport struct {
	TenantID  string               `json:"tenant_id"`
	Since     time.Time            `json:"since"`
	Providers []store.UsageSummary `json:"providers"`
	TotalUSD  float64              `json:"total_usd"`
	Tokens    int64                `json:"tokens"`
}
