package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	opts = append([]Option{WithClock(clk.Now), WithSweepInterval(0)}, opts...)
	r := New(opts...)
	t.Cleanup(r.Stop)
	return r, clk
}

var key = Key{Provider: "openai", Tenant: "acme"}

func TestRequestsPerMinute(t *testing.T) {
	r, clk := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 2}

	for i := range 2 {
		d := r.TryReserve(key, limits, 0)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		r.RecordCompletion(key, 0)
		r.Release(key)
	}

	d := r.TryReserve(key, limits, 0)
	if d.Allowed {
		t.Fatal("third request should be refused")
	}
	if d.Reason != ReasonRateLimit {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonRateLimit)
	}
	if d.RetryAfterSeconds != 60 {
		t.Errorf("RetryAfterSeconds = %d, want 60", d.RetryAfterSeconds)
	}

	clk.Advance(30 * time.Second)
	if d := r.CheckAllowed(key, limits, 0); d.RetryAfterSeconds != 30 {
		t.Errorf("RetryAfterSeconds after 30s = %d, want 30", d.RetryAfterSeconds)
	}

	clk.Advance(31 * time.Second)
	if d := r.CheckAllowed(key, limits, 0); !d.Allowed {
		t.Fatalf("request should be allowed once the window rolls, got %+v", d)
	}
}

func TestReleaseWithoutCompletionConsumesNothing(t *testing.T) {
	r, _ := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 1}

	for i := range 3 {
		if d := r.TryReserve(key, limits, 0); !d.Allowed {
			t.Fatalf("attempt %d refused after failed attempts: %+v", i+1, d)
		}
		r.Release(key)
	}
	s := r.Snapshot(key)
	if s.RequestsInWindow != 0 || s.InFlight != 0 {
		t.Errorf("snapshot = %+v, want empty", s)
	}

	require.True(t, r.TryReserve(key, limits, 0).Allowed)
	r.RecordCompletion(key, 10)
	r.Release(key)
	d := r.TryReserve(key, limits, 0)
	assert.Equal(t, ReasonRateLimit, d.Reason)
	assert.Equal(t, 60, d.RetryAfterSeconds)
}

func TestInFlightCountsTowardRequestsPerMinute(t *testing.T) {
	r, clk := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 2}

	require.True(t, r.TryReserve(key, limits, 0).Allowed)
	r.RecordCompletion(key, 0)
	r.Release(key)

	clk.Advance(20 * time.Second)
	require.True(t, r.TryReserve(key, limits, 0).Allowed)

	// One recorded plus one outstanding fills the limit; the recorded one
	// expires 40s from now.
	d := r.TryReserve(key, limits, 0)
	assert.Equal(t, ReasonRateLimit, d.Reason)
	assert.Equal(t, 40, d.RetryAfterSeconds)

	r.Release(key)
	assert.True(t, r.TryReserve(key, limits, 0).Allowed)
}

func TestInFlightAloneFillsRequestsPerMinute(t *testing.T) {
	r, _ := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 1}

	require.True(t, r.TryReserve(key, limits, 0).Allowed)
	d := r.TryReserve(key, limits, 0)
	assert.Equal(t, ReasonRateLimit, d.Reason)
	assert.Equal(t, 1, d.RetryAfterSeconds)
}

func TestCheckAllowedDoesNotReserve(t *testing.T) {
	r, _ := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 1, MaxConcurrent: 1}

	for range 5 {
		if d := r.CheckAllowed(key, limits, 0); !d.Allowed {
			t.Fatalf("CheckAllowed should not consume capacity, got %+v", d)
		}
	}
	s := r.Snapshot(key)
	if s.InFlight != 0 || s.RequestsInWindow != 0 {
		t.Errorf("snapshot = %+v, want empty", s)
	}
}

func TestTokenBudget(t *testing.T) {
	r, clk := newTestRegistry(t)
	limits := Limits{TokensPerMinute: 1000}

	r.RecordCompletion(key, 500)
	clk.Advance(10 * time.Second)
	r.RecordCompletion(key, 300)

	d := r.CheckAllowed(key, limits, 300)
	if d.Allowed || d.Reason != ReasonTokenBudget {
		t.Fatalf("decision = %+v, want token budget refusal", d)
	}
	// Freeing the first 500-token entry is enough; it expires 50s from now.
	if d.RetryAfterSeconds != 50 {
		t.Errorf("RetryAfterSeconds = %d, want 50", d.RetryAfterSeconds)
	}

	if d := r.CheckAllowed(key, limits, 200); !d.Allowed {
		t.Errorf("200 more tokens fit exactly, got %+v", d)
	}

	clk.Advance(51 * time.Second)
	if d := r.CheckAllowed(key, limits, 300); !d.Allowed {
		t.Errorf("should be allowed after oldest entry expired, got %+v", d)
	}
	if s := r.Snapshot(key); s.TokensInWindow != 300 {
		t.Errorf("TokensInWindow = %d, want 300", s.TokensInWindow)
	}
}

func TestTokenBudget_EstimateExceedsBudget(t *testing.T) {
	r, _ := newTestRegistry(t)
	d := r.CheckAllowed(key, Limits{TokensPerMinute: 100}, 500)
	if d.Allowed || d.Reason != ReasonTokenBudget {
		t.Fatalf("decision = %+v", d)
	}
	if d.RetryAfterSeconds != 60 {
		t.Errorf("RetryAfterSeconds = %d, want 60", d.RetryAfterSeconds)
	}
}

func TestConcurrencyCap(t *testing.T) {
	r, _ := newTestRegistry(t)
	limits := Limits{MaxConcurrent: 1}

	if d := r.TryReserve(key, limits, 0); !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	d := r.TryReserve(key, limits, 0)
	if d.Allowed || d.Reason != ReasonConcurrency {
		t.Fatalf("decision = %+v, want concurrency refusal", d)
	}
	r.Release(key)
	if d := r.TryReserve(key, limits, 0); !d.Allowed {
		t.Fatal("should be allowed after release")
	}
}

func TestRateLimitReportedBeforeConcurrency(t *testing.T) {
	r, _ := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 1, MaxConcurrent: 1}

	require.True(t, r.TryReserve(key, limits, 0).Allowed)
	d := r.TryReserve(key, limits, 0)
	assert.Equal(t, ReasonRateLimit, d.Reason)
}

func TestReleaseNeverNegative(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Release(key)
	r.Release(key)
	if s := r.Snapshot(key); s.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", s.InFlight)
	}
	r.Reserve(key)
	if s := r.Snapshot(key); s.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", s.InFlight)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(t)
	limits := Limits{RequestsPerMinute: 1}

	if !r.TryReserve(key, limits, 0).Allowed {
		t.Fatal("acme/openai should be allowed")
	}
	if r.TryReserve(key, limits, 0).Allowed {
		t.Fatal("acme/openai should be refused")
	}
	if !r.TryReserve(Key{Provider: "openai", Tenant: "globex"}, limits, 0).Allowed {
		t.Error("other tenant has its own window")
	}
	if !r.TryReserve(Key{Provider: "anthropic", Tenant: "acme"}, limits, 0).Allowed {
		t.Error("other provider has its own window")
	}
}

func TestTryReserve_ConcurrentNeverExceedsCap(t *testing.T) {
	r := New(WithSweepInterval(0))
	defer r.Stop()
	limits := Limits{MaxConcurrent: 5}

	var current, peak, admitted int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !r.TryReserve(key, limits, 0).Allowed {
				return
			}
			atomic.AddInt64(&admitted, 1)
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			r.Release(key)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(5))
	assert.Positive(t, atomic.LoadInt64(&admitted))
	assert.Equal(t, 0, r.Snapshot(key).InFlight)
}

func TestTryReserve_ConcurrentRequestsPerMinute(t *testing.T) {
	r := New(WithSweepInterval(0))
	defer r.Stop()
	limits := Limits{RequestsPerMinute: 10}

	var admitted int64
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryReserve(key, limits, 0).Allowed {
				atomic.AddInt64(&admitted, 1)
				r.RecordCompletion(key, 1)
				r.Release(key)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), admitted)
}

func TestEvictIdle(t *testing.T) {
	r, clk := newTestRegistry(t)
	idle := Key{Provider: "openai", Tenant: "idle"}
	busy := Key{Provider: "openai", Tenant: "busy"}

	r.Reserve(idle)
	r.Release(idle)
	r.Reserve(busy)

	clk.Advance(3 * DefaultWindow)
	if n := r.evictIdle(); n != 1 {
		t.Fatalf("evictIdle() = %d, want 1", n)
	}
	if _, ok := r.windows.Load(idle); ok {
		t.Error("idle window should be evicted")
	}
	if s := r.Snapshot(busy); s.InFlight != 1 {
		t.Errorf("busy window lost its reservation: %+v", s)
	}

	// An evicted key starts fresh.
	r.Reserve(idle)
	if s := r.Snapshot(idle); s.InFlight != 1 || s.RequestsInWindow != 0 {
		t.Errorf("snapshot after re-create = %+v", s)
	}
}

func TestTenantSnapshots(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Reserve(Key{Provider: "openai", Tenant: "acme"})
	r.Reserve(Key{Provider: "anthropic", Tenant: "acme"})
	r.Reserve(Key{Provider: "openai", Tenant: "globex"})

	snaps := r.TenantSnapshots("acme")
	assert.Len(t, snaps, 2)
	for _, s := range snaps {
		assert.Equal(t, "acme", s.Tenant)
		assert.Equal(t, 1, s.InFlight)
	}
}

func TestRejectionCounter(t *testing.T) {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_rejections_total"}, []string{"provider", "reason"})
	r, _ := newTestRegistry(t, WithRejections(cv))

	limits := Limits{RequestsPerMinute: 1}
	r.TryReserve(key, limits, 0)
	r.TryReserve(key, limits, 0)
	r.CheckAllowed(key, limits, 0)

	if got := testutil.ToFloat64(cv.WithLabelValues("openai", "rate_limit")); got != 2 {
		t.Errorf("rejections = %v, want 2", got)
	}
}

func TestLimitsMerge(t *testing.T) {
	def := Limits{RequestsPerMinute: 60, TokensPerMinute: 100000, MaxConcurrent: 10}
	got := Limits{RequestsPerMinute: 5}.Merge(def)
	assert.Equal(t, Limits{RequestsPerMinute: 5, TokensPerMinute: 100000, MaxConcurrent: 10}, got)
}

func TestInFlightTotal(t *testing.T) {
	r, _ := newTestRegistry(t)
	other := Key{Provider: "anthropic", Tenant: "acme"}

	r.Reserve(key)
	r.Reserve(key)
	r.Reserve(other)
	assert.Equal(t, 3, r.InFlight())

	r.Release(key)
	r.Release(other)
	assert.Equal(t, 1, r.InFlight())
}
