// Package openai adapts the OpenAI chat completions API.
package openai

import (
	"context"
	"strings"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/providers"
	"github.com/jordanhubbard/routehub/internal/router"
)

// DefaultBaseURL is the public OpenAI API.
const DefaultBaseURL = "https://api.openai.com"

var hints = providers.BodyHints{
	Quota:         []string{"insufficient_quota", "billing_hard_limit", "billing"},
	ModelNotFound: []string{"model_not_found", "does not exist"},
	TooLarge:      []string{"context_length_exceeded", "maximum context length"},
	Auth:          []string{"invalid_api_key", "incorrect api key"},
}

// Adapter implements router.Provider for OpenAI.
type Adapter struct {
	providers.Base
	baseURL string
}

// New creates an OpenAI adapter. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, pricing cost.Table, opts ...providers.Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	a := &Adapter{
		Base:    providers.NewBase(router.ProviderOpenAI, pricing),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	a.Apply(opts...)
	return a
}

func (a *Adapter) RequiresCredential() bool { return true }

func (a *Adapter) Complete(ctx context.Context, messages []router.Message, cfg router.ModelConfig) (router.Completion, error) {
	return providers.CompleteChat(ctx, a.Client, a.baseURL+"/v1/chat/completions", messages, cfg, authHeaders(cfg.Credential))
}

// ValidateCredential lists models with key; any 200 means the key works.
func (a *Adapter) ValidateCredential(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	_, err := providers.DoGet(ctx, a.Client, a.baseURL+"/v1/models", authHeaders(key))
	return err == nil
}

func (a *Adapter) ClassifyError(err error) *router.ClassifiedError {
	return providers.Classify(err, hints)
}

func authHeaders(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}
