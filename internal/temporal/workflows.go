package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	activityTimeout = 30 * time.Second
	// auditMaxAttempts bounds redelivery of one audit record.
	auditMaxAttempts = 20
)

// AuditWorkflow delivers one audit record to the store, retrying with
// backoff until the store accepts it. AppendAudit is idempotent on the
// request id, so redelivery never duplicates a record.
func AuditWorkflow(ctx workflow.Context, input AuditInput) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        auditMaxAttempts,
			NonRetryableErrorTypes: []string{errInvalidRecord},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	err := workflow.ExecuteActivity(ctx, (*Activities).AppendAudit, input).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("audit delivery failed",
			"request_id", input.Record.RequestID, "error", err)
		return err
	}
	return nil
}

// UsageReportWorkflow totals a tenant's provider usage since a point in time.
func UsageReportWorkflow(ctx workflow.Context, input UsageInput) (UsageReport, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	report := UsageReport{TenantID: input.TenantID, Since: input.Since}
	if err := workflow.ExecuteActivity(ctx, (*Activities).SummarizeUsage, input).Get(ctx, &report.Providers); err != nil {
		return report, err
	}
	for _, p := range report.Providers {
		report.TotalUSD += p.CostUSD
		report.Tokens += p.Tokens
	}
	return report, nil
}
