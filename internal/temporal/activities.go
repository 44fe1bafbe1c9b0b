package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/jordanhubbard/routehub/internal/store"
)

// errInvalidRecord marks records that will never be accepted.
const errInvalidRecord = "InvalidAuditRecord"

// Activities holds dependencies for Temporal activity implementations.
type Activities struct {
	Store store.Store
}

// AppendAudit writes one record. Store errors are returned so Temporal retries.
func (a *Activities) AppendAudit(ctx context.Context, input AuditInput) error {
	rec := input.Record
	if rec.RequestID == "" || rec.TenantID == "" {
		return temporal.NewNonRetryableApplicationError(
			"audit record needs request_id and tenant_id", errInvalidRecord, nil)
	}
	if err := a.Store.AppendAudit(ctx, rec); err != nil {
		activity.GetLogger(ctx).Warn("audit append failed, will retry",
			"request_id", rec.RequestID, "attempt", activity.GetInfo(ctx).Attempt, "error", err)
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// SummarizeUsage reads per-provider usage for a tenant.
func (a *Activities) SummarizeUsage(ctx context.Context, input UsageInput) ([]store.UsageSummary, error) {
	out, err := a.Store.SummarizeUsage(ctx, input.TenantID, input.Since)
	if err != nil {
		return nil, fmt.Errorf("summarize usage: %w", err)
	}
	return out, nil
}
