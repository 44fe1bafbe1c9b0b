// Package fallback is the provider of last resort. It answers every request
// locally with a fixed degraded-mode message and never calls the network.
package fallback

import (
	"context"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/providers"
	"github.com/jordanhubbard/routehub/internal/router"
)

const (
	// Model is the model name reported for canned responses.
	Model = "offline-canned"

	// DefaultMessage is returned when no message is configured.
	DefaultMessage = "All AI providers are currently unavailable. This is an automated response; please try again shortly."
)

// Adapter implements router.Provider with a canned response.
type Adapter struct {
	providers.Base
	message string
}

// New creates a fallback adapter. An empty message uses DefaultMessage.
func New(message string) *Adapter {
	if message == "" {
		message = DefaultMessage
	}
	return &Adapter{
		Base:    providers.NewBase(router.ProviderFallback, cost.Table{Model: {}}),
		message: message,
	}
}

func (a *Adapter) RequiresCredential() bool { return false }

// Complete returns the canned message. Token counts are estimated so the
// response still counts against the tenant's budget.
func (a *Adapter) Complete(ctx context.Context, messages []router.Message, _ router.ModelConfig) (router.Completion, error) {
	if err := ctx.Err(); err != nil {
		return router.Completion{}, err
	}
	in := router.EstimateTokens(messages)
	out := len(a.message) / 4
	return router.Completion{
		Content:      a.message,
		Model:        Model,
		InputTokens:  in,
		OutputTokens: out,
		FinishReason: "fallback",
	}, nil
}

func (a *Adapter) ValidateCredential(context.Context, string) bool { return true }

func (a *Adapter) ClassifyError(err error) *router.ClassifiedError {
	return providers.Classify(err, providers.BodyHints{})
}
