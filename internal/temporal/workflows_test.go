package temporal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/testsuite"

	"github.com/jordanhubbard/routehub/internal/store"
)

// actsRef is a nil *Activities pointer used to create bound method references
// for Temporal mock registration. Only the method name is used.
var actsRef *Activities

var ts = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleInput() AuditInput {
	return AuditInput{Record: store.AuditRecord{
		RequestID:    "req-001",
		TenantID:     "acme",
		Outcome:      "succeeded",
		ProviderUsed: "anthropic",
		TokensUsed:   150,
		Timestamp:    ts,
		Attempts: []store.AttemptRow{
			{Seq: 1, ProviderID: "openai", ErrorClass: "NoCredential", Timestamp: ts},
			{Seq: 2, ProviderID: "anthropic", Success: true, TokensUsed: 150, Timestamp: ts},
		},
	}}
}

// flakyStore fails the first failures appends, then succeeds.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
	written  []store.AuditRecord
	usage    []store.UsageSummary
}

func (f *flakyStore) AppendAudit(_ context.Context, rec store.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("database is locked")
	}
	f.written = append(f.written, rec)
	return nil
}

func (f *flakyStore) SummarizeUsage(_ context.Context, _ string, _ time.Time) ([]store.UsageSummary, error) {
	return f.usage, nil
}

func TestAuditWorkflow_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.AppendAudit, mock.Anything, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(AuditWorkflow, sampleInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestAuditWorkflow_RetriesUntilStored(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	fs := &flakyStore{failures: 2}
	env.RegisterActivity(&Activities{Store: fs})

	env.ExecuteWorkflow(AuditWorkflow, sampleInput())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.Equal(t, 3, fs.calls)
	require.Len(t, fs.written, 1)
	require.Equal(t, "req-001", fs.written[0].RequestID)
}

func TestAuditWorkflow_InvalidRecordIsNotRetried(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	fs := &flakyStore{}
	env.RegisterActivity(&Activities{Store: fs})

	in := sampleInput()
	in.Record.RequestID = ""
	env.ExecuteWorkflow(AuditWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Equal(t, 0, fs.calls)
}

func TestAuditWorkflow_GivesUpAfterMaxAttempts(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	fs := &flakyStore{failures: 1000}
	env.RegisterActivity(&Activities{Store: fs})

	env.ExecuteWorkflow(AuditWorkflow, sampleInput())

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Equal(t, auditMaxAttempts, fs.calls)
}

func TestUsageReportWorkflow(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.OnActivity(actsRef.SummarizeUsage, mock.Anything, mock.Anything).Return([]store.UsageSummary{
		{ProviderID: "anthropic", Attempts: 3, Successes: 2, Tokens: 450, CostUSD: 0.006},
		{ProviderID: "openai", Attempts: 2, Successes: 1, Tokens: 100, CostUSD: 0.004},
	}, nil)

	env.ExecuteWorkflow(UsageReportWorkflow, UsageInput{TenantID: "acme", Since: ts})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var report UsageReport
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, "acme", report.TenantID)
	require.Len(t, report.Providers, 2)
	require.Equal(t, int64(550), report.Tokens)
	require.InDelta(t, 0.01, report.TotalUSD, 1e-9)
}

type fakeStarter struct {
	opts  client.StartWorkflowOptions
	args  []interface{}
	err   error
	calls int
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.calls++
	f.opts = opts
	f.args = args
	return nil, f.err
}

func TestSink_StartsAuditWorkflow(t *testing.T) {
	starter := &fakeStarter{}
	sink := NewSink(starter, "routehub-audit")

	rec := sampleInput().Record
	require.NoError(t, sink.AppendAudit(context.Background(), rec))

	require.Equal(t, 1, starter.calls)
	require.Equal(t, "audit-req-001", starter.opts.ID)
	require.Equal(t, "routehub-audit", starter.opts.TaskQueue)
	require.Len(t, starter.args, 1)
	require.Equal(t, rec.RequestID, starter.args[0].(AuditInput).Record.RequestID)
}

func TestSink_StartFailure(t *testing.T) {
	sink := NewSink(&fakeStarter{err: errors.New("frontend unavailable")}, "q")
	err := sink.AppendAudit(context.Background(), sampleInput().Record)
	require.ErrorContains(t, err, "start audit workflow")
}
