package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// Config holds Temporal connection settings.
type Config struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Manager owns the Temporal client and worker lifecycle.
type Manager struct {
	client client.Client
	worker worker.Worker
	cfg    Config
}

// New dials Temporal and registers the audit workflows and activities.
func New(cfg Config, acts *Activities) (*Manager, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client dial: %w", err)
	}

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(AuditWorkflow)
	w.RegisterWorkflow(UsageReportWorkflow)
	w.RegisterActivity(acts)

	return &Manager{
		client: c,
		worker: w,
		cfg:    cfg,
	}, nil
}

// Start begins the worker polling for tasks.
func (m *Manager) Start() error {
	return m.worker.Start()
}

// Client returns the Temporal client for starting workflows.
func (m *Manager) Client() client.Client {
	return m.client
}

// TaskQueue returns the configured task queue name.
func (m *Manager) TaskQueue() string {
	return m.cfg.TaskQueue
}

// Sink returns an audit sink that delivers through AuditWorkflow.
func (m *Manager) Sink() *Sink {
	return NewSink(m.client, m.cfg.TaskQueue)
}

// UsageReport runs UsageReportWorkflow and waits for its result.
func (m *Manager) UsageReport(ctx context.Context, input UsageInput) (UsageReport, error) {
	run, err := m.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: m.cfg.TaskQueue,
	}, UsageReportWorkflow, input)
	if err != nil {
		return UsageReport{}, fmt.Errorf("start usage report: %w", err)
	}
	var report UsageReport
	if err := run.Get(ctx, &report); err != nil {
		return UsageReport{}, err
	}
	return report, nil
}

// Stop gracefully stops the worker and closes the client.
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
}

