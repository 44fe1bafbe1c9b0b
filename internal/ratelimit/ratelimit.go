// Package ratelimit tracks per-(provider, tenant) usage over a rolling window
// and decides whether another request may be admitted.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultWindow is the rolling window over which requests and tokens are counted.
	DefaultWindow = 60 * time.Second

	// maxTracked bounds the number of timestamps kept per window.
	maxTracked = 10000
)

// Key identifies one usage window.
type Key struct {
	Provider string
	Tenant   string
}

// Limits are the effective caps for a key. Zero means unlimited.
type Limits struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gte=0"`
	TokensPerMinute   int `yaml:"tokens_per_minute" json:"tokens_per_minute" validate:"gte=0"`
	MaxConcurrent     int `yaml:"max_concurrent" json:"max_concurrent" validate:"gte=0"`
}

// Merge returns l with zero fields filled from def.
func (l Limits) Merge(def Limits) Limits {
	if l.RequestsPerMinute == 0 {
		l.RequestsPerMinute = def.RequestsPerMinute
	}
	if l.TokensPerMinute == 0 {
		l.TokensPerMinute = def.TokensPerMinute
	}
	if l.MaxConcurrent == 0 {
		l.MaxConcurrent = def.MaxConcurrent
	}
	return l
}

// Reason says why a request was refused.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonRateLimit   Reason = "rate_limit"
	ReasonTokenBudget Reason = "token_budget"
	ReasonConcurrency Reason = "concurrency"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed           bool
	Reason            Reason
	RetryAfterSeconds int
}

// Snapshot is a point-in-time view of one window.
type Snapshot struct {
	Provider         string `json:"provider"`
	Tenant           string `json:"tenant"`
	InFlight         int    `json:"in_flight"`
	RequestsInWindow int    `json:"requests_in_window"`
	TokensInWindow   int    `json:"tokens_in_window"`
}

type tokenEntry struct {
	at     time.Time
	tokens int
}

type window struct {
	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenEntry
	used     int
	inFlight int
	lastUsed time.Time
	// dead is set when the sweeper has removed this window from the map.
	// Callers holding a stale pointer must reload.
	dead bool
}

// Registry holds one window per key. Operations on different keys never
// contend with each other.
type Registry struct {
	windows sync.Map // Key -> *window

	window  time.Duration
	idleTTL time.Duration
	sweep   time.Duration
	now     func() time.Time

	rejected *prometheus.CounterVec

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

// WithWindow overrides the rolling window length.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithRejections sets a counter vector (labels: provider, reason) that is
// incremented each time a request is refused.
func WithRejections(c *prometheus.CounterVec) Option {
	return func(r *Registry) {
		r.rejected = c
	}
}

// WithSweepInterval sets how often idle windows are evicted. Zero disables
// the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.sweep = d
	}
}

// New creates a registry and starts the idle-window sweeper.
func New(opts ...Option) *Registry {
	r := &Registry{
		window: DefaultWindow,
		sweep:  time.Minute,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.idleTTL = 2 * r.window
	if r.sweep > 0 {
		go r.sweepLoop()
	}
	return r
}

// Stop terminates the background sweeper. It is safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// lock returns the live window for k with its mutex held.
func (r *Registry) lock(k Key) *window {
	for {
		v, ok := r.windows.Load(k)
		if !ok {
			v, _ = r.windows.LoadOrStore(k, &window{})
		}
		w := v.(*window)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// CheckAllowed reports whether a request estimated at estimatedTokens may be
// admitted for k under limits. It does not reserve anything; the router uses
// TryReserve, which checks and reserves atomically.
func (r *Registry) CheckAllowed(k Key, limits Limits, estimatedTokens int) Decision {
	w := r.lock(k)
	defer w.mu.Unlock()
	d := r.check(w, limits, estimatedTokens, r.now())
	r.countRejection(k, d)
	return d
}

// Reserve records a new in-flight request for k without checking limits.
// The router admits through TryReserve instead. Every Reserve must be paired
// with Release.
func (r *Registry) Reserve(k Key) {
	w := r.lock(k)
	defer w.mu.Unlock()
	r.reserve(w, r.now())
}

// TryReserve checks and reserves under a single lock, so concurrent callers
// can never overshoot MaxConcurrent or RequestsPerMinute. Outstanding
// reservations count toward RequestsPerMinute until they are released.
func (r *Registry) TryReserve(k Key, limits Limits, estimatedTokens int) Decision {
	w := r.lock(k)
	defer w.mu.Unlock()
	now := r.now()
	d := r.check(w, limits, estimatedTokens, now)
	if d.Allowed {
		r.reserve(w, now)
	}
	r.countRejection(k, d)
	return d
}

// Release ends an in-flight request for k. The count never drops below zero.
// A released request that was not recorded with RecordCompletion leaves no
// trace in the window.
func (r *Registry) Release(k Key) {
	w := r.lock(k)
	defer w.mu.Unlock()
	if w.inFlight > 0 {
		w.inFlight--
	}
	w.lastUsed = r.now()
}

// RecordCompletion counts a successful request against k's per-minute
// request limit and adds its tokens to the token budget. Call it before
// Release so the request is never absent from both counts.
func (r *Registry) RecordCompletion(k Key, tokens int) {
	w := r.lock(k)
	defer w.mu.Unlock()
	now := r.now()
	r.prune(w, now)
	w.requests = append(w.requests, now)
	if len(w.requests) > maxTracked {
		w.requests = w.requests[1:]
	}
	if tokens > 0 {
		w.tokens = append(w.tokens, tokenEntry{at: now, tokens: tokens})
		w.used += tokens
		if len(w.tokens) > maxTracked {
			w.used -= w.tokens[0].tokens
			w.tokens = w.tokens[1:]
		}
	}
	w.lastUsed = now
}

// Snapshot returns the current state of k. Unknown keys report zeros.
func (r *Registry) Snapshot(k Key) Snapshot {
	s := Snapshot{Provider: k.Provider, Tenant: k.Tenant}
	v, ok := r.windows.Load(k)
	if !ok {
		return s
	}
	w := v.(*window)
	w.mu.Lock()
	defer w.mu.Unlock()
	r.prune(w, r.now())
	s.InFlight = w.inFlight
	s.RequestsInWindow = len(w.requests)
	s.TokensInWindow = w.used
	return s
}

// TenantSnapshots returns snapshots for every tracked key of tenant.
func (r *Registry) TenantSnapshots(tenant string) []Snapshot {
	var keys []Key
	r.windows.Range(func(k, _ any) bool {
		if key := k.(Key); key.Tenant == tenant {
			keys = append(keys, key)
		}
		return true
	})
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.Snapshot(k))
	}
	return out
}

// InFlight returns the number of outstanding reservations across all keys.
func (r *Registry) InFlight() int {
	total := 0
	r.windows.Range(func(_, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		total += w.inFlight
		w.mu.Unlock()
		return true
	})
	return total
}

func (r *Registry) check(w *window, limits Limits, estimatedTokens int, now time.Time) Decision {
	r.prune(w, now)

	if limits.RequestsPerMinute > 0 && len(w.requests)+w.inFlight >= limits.RequestsPerMinute {
		return Decision{Reason: ReasonRateLimit, RetryAfterSeconds: r.requestRetryAfter(w, limits.RequestsPerMinute, now)}
	}

	if limits.TokensPerMinute > 0 && w.used+estimatedTokens > limits.TokensPerMinute {
		return Decision{Reason: ReasonTokenBudget, RetryAfterSeconds: r.tokenRetryAfter(w, limits.TokensPerMinute, estimatedTokens, now)}
	}

	if limits.MaxConcurrent > 0 && w.inFlight >= limits.MaxConcurrent {
		return Decision{Reason: ReasonConcurrency, RetryAfterSeconds: 1}
	}

	return Decision{Allowed: true}
}

// requestRetryAfter is the time until enough recorded requests expire to make
// room for one more. When in-flight reservations alone fill the limit there is
// nothing to expire, so the hint is the minimum.
func (r *Registry) requestRetryAfter(w *window, limit int, now time.Time) int {
	i := len(w.requests) + w.inFlight - limit
	if i >= len(w.requests) {
		return 1
	}
	return r.secondsUntil(w.requests[i].Add(r.window), now)
}

func (r *Registry) tokenRetryAfter(w *window, budget, estimated int, now time.Time) int {
	if estimated > budget {
		return r.secondsUntil(now.Add(r.window), now)
	}
	remaining := w.used
	for _, e := range w.tokens {
		remaining -= e.tokens
		if remaining+estimated <= budget {
			return r.secondsUntil(e.at.Add(r.window), now)
		}
	}
	return r.secondsUntil(now.Add(r.window), now)
}

func (r *Registry) secondsUntil(t, now time.Time) int {
	secs := int(math.Ceil(t.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func (r *Registry) reserve(w *window, now time.Time) {
	w.inFlight++
	w.lastUsed = now
}

// prune drops entries that have left the window. Caller holds w.mu.
func (r *Registry) prune(w *window, now time.Time) {
	cutoff := now.Add(-r.window)

	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}

	j := 0
	for j < len(w.tokens) && !w.tokens[j].at.After(cutoff) {
		w.used -= w.tokens[j].tokens
		j++
	}
	if j > 0 {
		w.tokens = append(w.tokens[:0], w.tokens[j:]...)
	}
}

func (r *Registry) countRejection(k Key, d Decision) {
	if d.Allowed || r.rejected == nil {
		return
	}
	r.rejected.WithLabelValues(k.Provider, string(d.Reason)).Inc()
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stop:
			return
		}
	}
}

// evictIdle removes windows with nothing in flight, nothing left in the
// window, and no activity for idleTTL.
func (r *Registry) evictIdle() int {
	now := r.now()
	evicted := 0
	r.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		r.prune(w, now)
		if w.inFlight == 0 && len(w.requests) == 0 && len(w.tokens) == 0 && now.Sub(w.lastUsed) > r.idleTTL {
			w.dead = true
			r.windows.Delete(k)
			evicted++
		}
		w.mu.Unlock()
		return true
	})
	return evicted
}
