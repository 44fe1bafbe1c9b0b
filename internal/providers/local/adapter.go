// Package local adapts self-hosted OpenAI-compatible servers (vLLM, llama.cpp,
// Ollama) that run without an API key.
package local

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/providers"
	"github.com/jordanhubbard/routehub/internal/router"
)

// DefaultEndpoint is used when no endpoints are configured.
const DefaultEndpoint = "http://localhost:8000"

var hints = providers.BodyHints{
	ModelNotFound: []string{"does not exist", "model not found"},
	TooLarge:      []string{"maximum context length", "context length"},
}

// Adapter implements router.Provider for local model servers. Requests are
// spread round-robin across the configured endpoints.
type Adapter struct {
	providers.Base
	endpoints []string
	counter   atomic.Uint64
}

// New creates a local adapter over endpoints.
func New(endpoints []string, pricing cost.Table, opts ...providers.Option) *Adapter {
	a := &Adapter{Base: providers.NewBase(router.ProviderLocal, pricing)}
	for _, e := range endpoints {
		if e = strings.TrimRight(strings.TrimSpace(e), "/"); e != "" {
			a.endpoints = append(a.endpoints, e)
		}
	}
	if len(a.endpoints) == 0 {
		a.endpoints = []string{DefaultEndpoint}
	}
	a.Apply(opts...)
	return a
}

func (a *Adapter) RequiresCredential() bool { return false }

// nextEndpoint returns the next endpoint in round-robin order.
func (a *Adapter) nextEndpoint() string {
	idx := a.counter.Add(1) - 1
	return a.endpoints[idx%uint64(len(a.endpoints))]
}

func (a *Adapter) Complete(ctx context.Context, messages []router.Message, cfg router.ModelConfig) (router.Completion, error) {
	var headers map[string]string
	if cfg.Credential != "" {
		headers = map[string]string{"Authorization": "Bearer " + cfg.Credential}
	}
	return providers.CompleteChat(ctx, a.Client, a.nextEndpoint()+"/v1/chat/completions", messages, cfg, headers)
}

// ValidateCredential always succeeds; local servers take no key.
func (a *Adapter) ValidateCredential(context.Context, string) bool { return true }

func (a *Adapter) ClassifyError(err error) *router.ClassifiedError {
	return providers.Classify(err, hints)
}
