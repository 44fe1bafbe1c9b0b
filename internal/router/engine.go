package router

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
)

// Provider is the interface that provider adapters must implement.
// Defined here to avoid an import cycle with the providers package.
type Provider interface {
	ID() ProviderID
	// RequiresCredential is false for providers that run without an API key.
	RequiresCredential() bool
	Complete(ctx context.Context, messages []Message, cfg ModelConfig) (Completion, error)
	ValidateCredential(ctx context.Context, credential string) bool
	EstimateCost(tokens int, model string) cost.Quote
	ClassifyError(err error) *ClassifiedError
}

// CredentialSource resolves the API key to use for a provider on behalf of a
// tenant and caller.
type CredentialSource interface {
	GetCredential(ctx context.Context, provider ProviderID, tenantID, callerID string) (string, bool)
}

// PreferenceSource returns stored routing preferences.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, tenantID, callerID string) (Preferences, error)
}

// Auditor receives one entry per routed request. Implementations must not
// block the caller on storage failures.
type Auditor interface {
	Append(ctx context.Context, entry AuditEntry)
}

// Observer receives per-attempt and per-request measurements.
type Observer interface {
	ObserveAttempt(provider, model, errorClass string, latencyMs int64, tokens int, costUSD float64)
	ObserveRequest(outcome string, fallbackUsed bool, latencyMs int64)
}

// Config holds router-wide defaults.
type Config struct {
	DefaultProvider ProviderID
	DefaultLimits   ratelimit.Limits
	// DefaultTimeout bounds a provider call when its descriptor sets none.
	DefaultTimeout time.Duration
}

// Router selects providers for a request and falls through them in order.
type Router struct {
	cfg     Config
	limiter *ratelimit.Registry
	creds   CredentialSource
	prefs   PreferenceSource
	audit   Auditor
	obs     Observer
	now     func() time.Time

	mu          sync.RWMutex
	order       []ProviderID
	descriptors map[ProviderID]ProviderDescriptor
	adapters    map[ProviderID]Provider
}

// Option configures a Router.
type Option func(*Router)

// WithCredentials sets the credential source. Without one, every provider
// that requires a credential is skipped.
func WithCredentials(c CredentialSource) Option {
	return func(r *Router) { r.creds = c }
}

// WithPreferences sets the preference source.
func WithPreferences(p PreferenceSource) Option {
	return func(r *Router) { r.prefs = p }
}

// WithAuditor sets the audit recorder.
func WithAuditor(a Auditor) Option {
	return func(r *Router) { r.audit = a }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.obs = o }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a router that admits requests through limiter.
func New(cfg Config, limiter *ratelimit.Registry, opts ...Option) *Router {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	r := &Router{
		cfg:         cfg,
		limiter:     limiter,
		now:         time.Now,
		descriptors: make(map[ProviderID]ProviderDescriptor),
		adapters:    make(map[ProviderID]Provider),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a provider. Registration order is the static fallback order.
// Registering an id again replaces its descriptor and adapter in place.
func (r *Router) Register(d ProviderDescriptor, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = p.ID()
	if _, exists := r.adapters[d.ID]; !exists {
		r.order = append(r.order, d.ID)
	}
	r.descriptors[d.ID] = d
	r.adapters[d.ID] = p
}

// Descriptors returns the registered descriptors in fallback order.
func (r *Router) Descriptors() []ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.descriptors[id])
	}
	return out
}

// Adapter returns the adapter registered for id.
func (r *Router) Adapter(id ProviderID) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.adapters[id]
	return p, ok
}

// EstimateTokens estimates the prompt size of messages (chars/4 heuristic).
func EstimateTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
	}
	return total
}

type candidate struct {
	id      ProviderID
	desc    ProviderDescriptor
	adapter Provider
}

// Route sends messages to the best available provider for (tenantID,
// callerID), falling through the candidate list on recoverable errors.
// Exactly one audit entry is appended whatever the outcome.
func (r *Router) Route(ctx context.Context, tenantID, callerID string, messages []Message, opts Options) (ModelResponse, error) {
	start := r.now()
	reqID := opts.RequestID
	if reqID == "" {
		reqID = uuid.NewString()
	}

	ctx = WithRequestID(ctx, reqID)
	ctx, span := otel.Tracer("routehub.router").Start(ctx, "router.route")
	defer span.End()
	span.SetAttributes(
		attribute.String("routehub.request_id", reqID),
		attribute.String("routehub.tenant", tenantID),
	)

	prefs := r.preferences(ctx, tenantID, callerID)
	limits := prefs.Limits.Merge(r.cfg.DefaultLimits)

	maxTokens := opts.MaxTokens
	if prefs.MaxTokensPerRequest > 0 && (maxTokens <= 0 || maxTokens > prefs.MaxTokensPerRequest) {
		maxTokens = prefs.MaxTokensPerRequest
	}

	candidates := r.candidates(opts.Provider, prefs)

	promptTokens := EstimateTokens(messages)
	budgetTokens := promptTokens + max(maxTokens, 0)

	entry := AuditEntry{
		RequestID: reqID,
		TenantID:  tenantID,
		CallerID:  callerID,
		Timestamp: start,
	}
	finish := func(outcome Outcome) {
		entry.Outcome = outcome
		entry.LatencyMs = r.now().Sub(start).Milliseconds()
		if r.obs != nil {
			r.obs.ObserveRequest(string(outcome), entry.FallbackUsed, entry.LatencyMs)
		}
		if r.audit != nil {
			// The audit write outlives a cancelled caller.
			r.audit.Append(context.WithoutCancel(ctx), entry)
		}
	}

	// An explicit model belongs to the first candidate, which is the explicit
	// provider whenever that provider is configured.
	var modelTarget ProviderID
	if len(candidates) > 0 {
		modelTarget = candidates[0].id
	}

	for i, c := range candidates {
		model := r.modelFor(c, opts, modelTarget, prefs)
		key := ratelimit.Key{Provider: string(c.id), Tenant: tenantID}
		attempt := AttemptRecord{ProviderID: c.id, Model: model, Timestamp: r.now()}

		if err := ctx.Err(); err != nil {
			attempt.ErrorClass = ErrCancelled
			attempt.Detail = err.Error()
			entry.Attempts = append(entry.Attempts, attempt)
			entry.ErrorClass = ErrCancelled
			finish(OutcomeAborted)
			return ModelResponse{}, r.abort(entry, candidates[i+1:], 0, err, span)
		}

		slog.Info("routing request",
			slog.String("request_id", reqID),
			slog.String("provider", string(c.id)),
			slog.String("model", model),
			slog.Int("attempt", i+1),
			slog.Int("total", len(candidates)),
		)

		var credential string
		if c.adapter.RequiresCredential() {
			var ok bool
			if r.creds != nil {
				credential, ok = r.creds.GetCredential(ctx, c.id, tenantID, callerID)
			}
			if !ok || credential == "" {
				attempt.ErrorClass = ErrNoCredential
				entry.Attempts = append(entry.Attempts, attempt)
				r.observeAttempt(attempt)
				slog.Debug("no credential for provider",
					slog.String("request_id", reqID),
					slog.String("provider", string(c.id)),
				)
				continue
			}
		}

		if c.desc.MaxTokensPerRequest > 0 && promptTokens > c.desc.MaxTokensPerRequest {
			attempt.ErrorClass = ErrRequestTooLarge
			entry.Attempts = append(entry.Attempts, attempt)
			r.observeAttempt(attempt)
			continue
		}

		decision := r.limiter.TryReserve(key, limits, budgetTokens)
		if !decision.Allowed {
			attempt.ErrorClass = classForReason(decision.Reason)
			entry.Attempts = append(entry.Attempts, attempt)
			r.observeAttempt(attempt)
			if attempt.ErrorClass.AbortsRequest() {
				slog.Warn("request refused by rate limiter",
					slog.String("request_id", reqID),
					slog.String("provider", string(c.id)),
					slog.String("tenant", tenantID),
					slog.String("reason", string(decision.Reason)),
					slog.Int("retry_after_sec", decision.RetryAfterSeconds),
				)
				entry.ErrorClass = attempt.ErrorClass
				finish(OutcomeAborted)
				return ModelResponse{}, r.abort(entry, candidates[i+1:], decision.RetryAfterSeconds, nil, span)
			}
			continue
		}

		comp, latency, err := r.call(ctx, c, key, messages, ModelConfig{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: opts.Temperature,
			Credential:  credential,
			Timeout:     r.timeoutFor(c.desc),
		})
		attempt.LatencyMs = latency.Milliseconds()

		if err == nil {
			tokens := comp.Total()

			var quote cost.Quote
			if comp.InputTokens > 0 || comp.OutputTokens > 0 {
				quote = cost.Exact(comp.InputTokens, comp.OutputTokens, model, c.desc.Pricing)
			} else {
				quote = c.adapter.EstimateCost(tokens, model)
			}

			if comp.Model != "" {
				model = comp.Model
				attempt.Model = model
			}
			attempt.Success = true
			attempt.TokensUsed = tokens
			attempt.EstimatedCost = quote.USD
			entry.Attempts = append(entry.Attempts, attempt)
			r.observeAttempt(attempt)

			entry.ProviderUsed = c.id
			entry.ModelUsed = model
			entry.TokensUsed = tokens
			entry.CostUSD = quote.USD
			entry.FallbackUsed = i > 0
			finish(OutcomeSucceeded)

			span.SetAttributes(
				attribute.String("routehub.provider", string(c.id)),
				attribute.Bool("routehub.fallback_used", entry.FallbackUsed),
			)
			span.SetStatus(codes.Ok, "")

			return ModelResponse{
				RequestID:     reqID,
				Content:       comp.Content,
				ProviderUsed:  c.id,
				ModelUsed:     model,
				TokensUsed:    tokens,
				LatencyMs:     entry.LatencyMs,
				EstimatedCost: quote.USD,
				Unpriced:      quote.Unpriced,
				FallbackUsed:  entry.FallbackUsed,
			}, nil
		}

		classified := r.classify(ctx, c.adapter, err)
		attempt.ErrorClass = classified.Class
		attempt.Detail = err.Error()
		entry.Attempts = append(entry.Attempts, attempt)
		r.observeAttempt(attempt)

		slog.Warn("provider failed",
			slog.String("request_id", reqID),
			slog.String("provider", string(c.id)),
			slog.String("model", model),
			slog.String("error", err.Error()),
			slog.String("class", string(classified.Class)),
		)

		// TODO: confirm with product whether a provider-side 429 should abort
		// or fall through to the next provider; it currently aborts.
		if classified.Class.AbortsRequest() {
			entry.ErrorClass = classified.Class
			finish(OutcomeAborted)
			return ModelResponse{}, r.abort(entry, candidates[i+1:], classified.RetryAfter, err, span)
		}
	}

	var lastErr error
	if n := len(entry.Attempts); n > 0 {
		entry.ErrorClass = entry.Attempts[n-1].ErrorClass
		if d := entry.Attempts[n-1].Detail; d != "" {
			lastErr = errors.New(d)
		}
	} else {
		entry.ErrorClass = ErrGeneric
	}
	finish(OutcomeExhausted)

	span.SetStatus(codes.Error, "all providers failed")
	return ModelResponse{}, &RoutingError{
		Class:     entry.ErrorClass,
		Exhausted: true,
		Attempts:  failures(entry.Attempts),
		RequestID: reqID,
		cause:     lastErr,
	}
}

// call runs one adapter call bounded by cfg.Timeout. The reservation for key
// is always released, including when the adapter panics or never returns. A
// successful call is recorded against the window before the release.
func (r *Router) call(ctx context.Context, c candidate, key ratelimit.Key, messages []Message, cfg ModelConfig) (Completion, time.Duration, error) {
	defer r.limiter.Release(key)

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type result struct {
		comp Completion
		err  error
	}
	done := make(chan result, 1)
	start := r.now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("provider adapter panicked",
					slog.String("provider", string(c.id)),
					slog.Any("panic", p),
				)
				done <- result{err: errors.New("provider adapter panicked")}
			}
		}()
		comp, err := c.adapter.Complete(callCtx, messages, cfg)
		done <- result{comp: comp, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			r.limiter.RecordCompletion(key, res.comp.Total())
		}
		return res.comp, r.now().Sub(start), res.err
	case <-callCtx.Done():
		return Completion{}, r.now().Sub(start), callCtx.Err()
	}
}

// classify maps an adapter error to a routing class. Caller cancellation and
// the router's own timeout take precedence over the adapter's opinion.
func (r *Router) classify(ctx context.Context, p Provider, err error) *ClassifiedError {
	if ctx.Err() != nil {
		return &ClassifiedError{Err: err, Class: ErrCancelled}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Err: err, Class: ErrNetworkTimeout}
	}
	if ce := p.ClassifyError(err); ce != nil && ce.Class != "" {
		return ce
	}
	return &ClassifiedError{Err: err, Class: ErrGeneric}
}

func (r *Router) abort(entry AuditEntry, rest []candidate, retryAfter int, cause error, span trace.Span) *RoutingError {
	unreached := make([]ProviderID, len(rest))
	for i, c := range rest {
		unreached[i] = c.id
	}
	span.SetStatus(codes.Error, string(entry.ErrorClass))
	return &RoutingError{
		Class:             entry.ErrorClass,
		RetryAfterSeconds: retryAfter,
		Attempts:          failures(entry.Attempts),
		Unreached:         unreached,
		RequestID:         entry.RequestID,
		cause:             cause,
	}
}

func (r *Router) preferences(ctx context.Context, tenantID, callerID string) Preferences {
	if r.prefs == nil {
		return Preferences{}
	}
	p, err := r.prefs.GetPreferences(ctx, tenantID, callerID)
	if err != nil {
		slog.Warn("preference lookup failed, using defaults",
			slog.String("tenant", tenantID),
			slog.String("error", err.Error()),
		)
		return Preferences{}
	}
	return p
}

func (r *Router) candidates(explicit ProviderID, prefs Preferences) []candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if explicit != "" && !slices.Contains(r.order, explicit) {
		slog.Warn("requested provider is not configured, ignoring",
			slog.String("provider", string(explicit)),
		)
	}

	ids := Resolve(explicit, prefs.Caller.Provider, prefs.Tenant.Provider, r.cfg.DefaultProvider, r.order)
	out := make([]candidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, candidate{id: id, desc: r.descriptors[id], adapter: r.adapters[id]})
	}
	return out
}

// modelFor picks the model for a candidate: an explicit model applies only to
// the provider it was requested with, then stored preferences, then the
// provider default.
func (r *Router) modelFor(c candidate, opts Options, modelTarget ProviderID, prefs Preferences) string {
	switch {
	case opts.Model != "" && c.id == modelTarget:
		return opts.Model
	case prefs.Caller.Model != "" && c.id == prefs.Caller.Provider:
		return prefs.Caller.Model
	case prefs.Tenant.Model != "" && c.id == prefs.Tenant.Provider:
		return prefs.Tenant.Model
	}
	return c.desc.DefaultModel
}

func (r *Router) timeoutFor(d ProviderDescriptor) time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return r.cfg.DefaultTimeout
}

func (r *Router) observeAttempt(a AttemptRecord) {
	if r.obs == nil {
		return
	}
	r.obs.ObserveAttempt(string(a.ProviderID), a.Model, string(a.ErrorClass), a.LatencyMs, a.TokensUsed, a.EstimatedCost)
}

func classForReason(reason ratelimit.Reason) ErrorClass {
	switch reason {
	case ratelimit.ReasonRateLimit:
		return ErrRateLimited
	case ratelimit.ReasonTokenBudget:
		return ErrTokenBudgetExceeded
	case ratelimit.ReasonConcurrency:
		return ErrConcurrencyLimited
	}
	return ErrGeneric
}

func failures(attempts []AttemptRecord) []AttemptFailure {
	out := make([]AttemptFailure, 0, len(attempts))
	for _, a := range attempts {
		if a.Success {
			continue
		}
		out = append(out, AttemptFailure{Provider: a.ProviderID, Class: a.ErrorClass})
	}
	return out
}
