package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	r := New()
	if r == nil || r.reg == nil {
		t.Fatal("expected non-nil Registry")
	}
	if r.RateLimitRejections == nil || r.AuditFailures == nil {
		t.Fatal("expected limiter and audit collectors")
	}
}

func TestObserveAttempt_Success(t *testing.T) {
	r := New()
	r.ObserveAttempt("anthropic", "claude-3-5-haiku", "", 420, 150, 0.002)

	if got := testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("anthropic", "claude-3-5-haiku", "")); got != 1 {
		t.Errorf("attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.TokensTotal.WithLabelValues("anthropic", "claude-3-5-haiku")); got != 150 {
		t.Errorf("tokens = %v, want 150", got)
	}
	if got := testutil.ToFloat64(r.CostUSD.WithLabelValues("anthropic", "claude-3-5-haiku")); got != 0.002 {
		t.Errorf("cost = %v, want 0.002", got)
	}
}

func TestObserveAttempt_FailureDoesNotCountTokens(t *testing.T) {
	r := New()
	r.ObserveAttempt("openai", "gpt-4o", "AuthRejected", 30, 0, 0)

	if got := testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("openai", "gpt-4o", "AuthRejected")); got != 1 {
		t.Errorf("attempts = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(r.TokensTotal); got != 0 {
		t.Errorf("token series = %d, want 0", got)
	}
}

func TestObserveRequest(t *testing.T) {
	r := New()
	r.ObserveRequest("succeeded", true, 800)
	r.ObserveRequest("succeeded", true, 200)
	r.ObserveRequest("aborted", false, 1)

	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("succeeded", "true")); got != 2 {
		t.Errorf("succeeded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.RequestsTotal.WithLabelValues("aborted", "false")); got != 1 {
		t.Errorf("aborted = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RateLimitRejections.WithLabelValues("openai", "rate_limit").Inc()
	r.AuditFailures.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"routehub_ratelimit_rejections_total", "routehub_audit_write_failures_total 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRegisterInFlight(t *testing.T) {
	r := New()
	n := 3.0
	r.RegisterInFlight(func() float64 { return n })

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "routehub_inflight_requests 3") {
		t.Errorf("gauge missing from output:\n%s", rec.Body.String())
	}
}
