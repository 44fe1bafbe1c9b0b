package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/routehub/internal/store"
)

// workflowStarter is the part of client.Client the sink needs.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Sink hands audit records to AuditWorkflow. It returns once the workflow is
// started; delivery to the store happens in the worker.
type Sink struct {
	client    workflowStarter
	taskQueue string
}

func NewSink(c workflowStarter, taskQueue string) *Sink {
	return &Sink{client: c, taskQueue: taskQueue}
}

// WorkflowID is the audit workflow id for a request.
func WorkflowID(requestID string) string {
	return "audit-" + requestID
}

func (s *Sink) AppendAudit(ctx context.Context, rec store.AuditRecord) error {
	_, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(rec.RequestID),
		TaskQueue: s.taskQueue,
	}, AuditWorkflow, AuditInput{Record: rec})
	if err != nil {
		return fmt.Errorf("start audit workflow: %w", err)
	}
	return nil
}
