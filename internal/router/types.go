package router

import (
	"time"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
)

// ProviderID names a configured provider.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGemini    ProviderID = "gemini"
	ProviderLocal     ProviderID = "local"
	ProviderFallback  ProviderID = "fallback"
)

// KnownProviders lists every provider id the router can build an adapter for.
var KnownProviders = []ProviderID{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
	ProviderLocal,
	ProviderFallback,
}

// Message is one chat turn. Provider adapters translate these into their own
// request shapes.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the per-request overrides a caller may supply.
type Options struct {
	RequestID   string     `json:"request_id,omitempty"`
	Provider    ProviderID `json:"provider,omitempty"`
	Model       string     `json:"model,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
}

// ProviderDescriptor is the static description of a configured provider.
// The descriptor table is built at startup and only read afterwards.
type ProviderDescriptor struct {
	ID                  ProviderID    `json:"id"`
	DisplayName         string        `json:"display_name"`
	DefaultModel        string        `json:"default_model"`
	Pricing             cost.Table    `json:"pricing,omitempty"`
	MaxTokensPerRequest int           `json:"max_tokens_per_request,omitempty"`
	SupportsStreaming   bool          `json:"supports_streaming"`
	Timeout             time.Duration `json:"timeout"`
}

// ModelConfig is what an adapter needs for a single completion call.
type ModelConfig struct {
	Model       string
	MaxTokens   int
	Temperature *float64
	Credential  string
	Timeout     time.Duration
}

// Completion is an adapter's successful answer.
type Completion struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	TokensUsed   int
	FinishReason string
}

// Total returns TokensUsed, or the sum of input and output when the provider
// did not report a total.
func (c Completion) Total() int {
	if c.TokensUsed > 0 {
		return c.TokensUsed
	}
	return c.InputTokens + c.OutputTokens
}

// ModelResponse is returned to the caller of Route on success.
type ModelResponse struct {
	RequestID     string     `json:"request_id"`
	Content       string     `json:"content"`
	ProviderUsed  ProviderID `json:"provider_used"`
	ModelUsed     string     `json:"model_used"`
	TokensUsed    int        `json:"tokens_used"`
	LatencyMs     int64      `json:"latency_ms"`
	EstimatedCost float64    `json:"estimated_cost_usd"`
	Unpriced      bool       `json:"unpriced,omitempty"`
	FallbackUsed  bool       `json:"fallback_used"`
}

// Outcome is the final state of a routed request.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeAborted   Outcome = "aborted"
)

// AttemptRecord describes one provider attempt, including attempts that were
// skipped before any network call.
type AttemptRecord struct {
	ProviderID    ProviderID `json:"provider_id"`
	Model         string     `json:"model"`
	Success       bool       `json:"success"`
	ErrorClass    ErrorClass `json:"error_class,omitempty"`
	Detail        string     `json:"detail,omitempty"`
	LatencyMs     int64      `json:"latency_ms"`
	TokensUsed    int        `json:"tokens_used"`
	EstimatedCost float64    `json:"estimated_cost_usd"`
	Timestamp     time.Time  `json:"timestamp"`
}

// AuditEntry is the record of one routed request. Exactly one is appended per
// Route call, whatever the outcome.
type AuditEntry struct {
	RequestID    string          `json:"request_id"`
	TenantID     string          `json:"tenant_id"`
	CallerID     string          `json:"caller_id"`
	Outcome      Outcome         `json:"outcome"`
	ProviderUsed ProviderID      `json:"provider_used,omitempty"`
	ModelUsed    string          `json:"model_used,omitempty"`
	ErrorClass   ErrorClass      `json:"error_class,omitempty"`
	TokensUsed   int             `json:"tokens_used"`
	CostUSD      float64         `json:"cost_usd"`
	LatencyMs    int64           `json:"latency_ms"`
	FallbackUsed bool            `json:"fallback_used"`
	Attempts     []AttemptRecord `json:"attempts"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ProviderPreference is a preferred provider and, optionally, model.
type ProviderPreference struct {
	Provider ProviderID `json:"provider,omitempty"`
	Model    string     `json:"model,omitempty"`
}

// Preferences are the stored settings for a (tenant, caller) pair.
type Preferences struct {
	Caller              ProviderPreference
	Tenant              ProviderPreference
	MaxTokensPerRequest int
	// Limits are merged over the router's default limits; zero fields inherit.
	Limits ratelimit.Limits
}
