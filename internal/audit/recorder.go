// Package audit persists one record per routed request. Write failures are
// logged and counted but never surface to the caller of Route.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordanhubbard/routehub/internal/router"
	"github.com/jordanhubbard/routehub/internal/store"
)

// DefaultTimeout bounds a single sink write.
const DefaultTimeout = 5 * time.Second

// Sink is the durable destination for audit records. store.Store and the
// Temporal workflow sink both satisfy it.
type Sink interface {
	AppendAudit(ctx context.Context, rec store.AuditRecord) error
}

// Recorder adapts a Sink to router.Auditor.
type Recorder struct {
	sink     Sink
	timeout  time.Duration
	failures prometheus.Counter
	logger   *slog.Logger
}

type Option func(*Recorder)

func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// WithFailureCounter increments c on every failed write.
func WithFailureCounter(c prometheus.Counter) Option {
	return func(r *Recorder) { r.failures = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{sink: sink, timeout: DefaultTimeout, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Append writes entry to the sink. It never returns an error.
func (r *Recorder) Append(ctx context.Context, entry router.AuditEntry) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.sink.AppendAudit(ctx, ToRecord(entry)); err != nil {
		if r.failures != nil {
			r.failures.Inc()
		}
		r.logger.Warn("audit write failed",
			slog.String("request_id", entry.RequestID),
			slog.String("tenant_id", entry.TenantID),
			slog.String("outcome", string(entry.Outcome)),
			slog.String("error", err.Error()),
		)
	}
}

// ToRecord converts a router entry to its storage form.
func ToRecord(e router.AuditEntry) store.AuditRecord {
	rec := store.AuditRecord{
		RequestID:    e.RequestID,
		TenantID:     e.TenantID,
		CallerID:     e.CallerID,
		Outcome:      string(e.Outcome),
		ProviderUsed: string(e.ProviderUsed),
		ModelUsed:    e.ModelUsed,
		ErrorClass:   string(e.ErrorClass),
		TokensUsed:   e.TokensUsed,
		CostUSD:      e.CostUSD,
		LatencyMs:    e.LatencyMs,
		FallbackUsed: e.FallbackUsed,
		Timestamp:    e.Timestamp,
		Attempts:     make([]store.AttemptRow, 0, len(e.Attempts)),
	}
	for i, a := range e.Attempts {
		rec.Attempts = append(rec.Attempts, store.AttemptRow{
			Seq:        i + 1,
			ProviderID: string(a.ProviderID),
			Model:      a.Model,
			Success:    a.Success,
			ErrorClass: string(a.ErrorClass),
			Detail:     a.Detail,
			LatencyMs:  a.LatencyMs,
			TokensUsed: a.TokensUsed,
			CostUSD:    a.EstimatedCost,
			Timestamp:  a.Timestamp,
		})
	}
	return rec
}

// MemorySink keeps records in process. Used when no database is configured
// and in tests.
type MemorySink struct {
	mu      sync.Mutex
	records []store.AuditRecord
	// Err, when set, is returned from every write.
	Err error
}

func (m *MemorySink) AppendAudit(_ context.Context, rec store.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (m *MemorySink) Records() []store.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.AuditRecord(nil), m.records...)
}
