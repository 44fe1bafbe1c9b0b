package idempotency

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tenantScope(r *http.Request) string { return r.Header.Get("X-Tenant-ID") }

func countingHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Call", string(rune('0'+n)))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + string(rune('0'+n)) + `}`))
	})
}

func do(h http.Handler, tenant, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/route", nil)
	req.Header.Set("X-Tenant-ID", tenant)
	if key != "" {
		req.Header.Set(Header, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()
	var calls atomic.Int32
	h := Middleware(c, tenantScope)(countingHandler(&calls, http.StatusOK))

	do(h, "acme", "")
	rec := do(h, "acme", "")

	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, rec.Header().Get("Idempotency-Replay"))
	assert.Equal(t, 0, c.Len())
}

func TestMiddleware_ReplaysSuccess(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()
	var calls atomic.Int32
	h := Middleware(c, tenantScope)(countingHandler(&calls, http.StatusOK))

	first := do(h, "acme", "k-1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("Idempotency-Replay"))

	second := do(h, "acme", "k-1")
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotency-Replay"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddleware_KeysAreScopedPerTenant(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()
	var calls atomic.Int32
	h := Middleware(c, tenantScope)(countingHandler(&calls, http.StatusOK))

	do(h, "acme", "shared-key")
	rec := do(h, "globex", "shared-key")

	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, rec.Header().Get("Idempotency-Replay"))
}

func TestMiddleware_FailuresAreNotCached(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()
	var calls atomic.Int32
	h := Middleware(c, tenantScope)(countingHandler(&calls, http.StatusTooManyRequests))

	first := do(h, "acme", "k-1")
	second := do(h, "acme", "k-1")

	assert.Equal(t, http.StatusTooManyRequests, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, second.Header().Get("Idempotency-Replay"))
}

func TestMiddleware_ExpiredEntryRunsAgain(t *testing.T) {
	clk := newClock()
	c := New(time.Minute, 100, WithClock(clk.Now))
	defer c.Stop()
	var calls atomic.Int32
	h := Middleware(c, tenantScope)(countingHandler(&calls, http.StatusOK))

	do(h, "acme", "k-1")
	clk.Advance(2 * time.Minute)
	do(h, "acme", "k-1")

	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_ConcurrentDuplicatesRunOnce(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Stop()

	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	h := Middleware(c, tenantScope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		entered <- struct{}{}
		<-release
		_, _ = w.Write([]byte("done"))
	}))

	const n = 8
	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, n)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = do(h, "acme", "k-1")
	}()
	<-entered

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = do(h, "acme", "k-1")
		}(i)
	}
	// Give the duplicates time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, rec := range results {
		assert.Equal(t, "done", rec.Body.String())
	}
	assert.Empty(t, results[0].Header().Get("Idempotency-Replay"))
}
