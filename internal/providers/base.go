package providers

import (
	"net/http"
	"time"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/router"
)

// DefaultTimeout is the HTTP client timeout adapters use unless overridden.
const DefaultTimeout = 60 * time.Second

// Base holds what every adapter shares: its id, pricing and HTTP client.
// Adapters embed it.
type Base struct {
	id      router.ProviderID
	pricing cost.Table
	Client  *http.Client
}

// NewBase builds a Base with a client bounded by DefaultTimeout.
func NewBase(id router.ProviderID, pricing cost.Table) Base {
	return Base{
		id:      id,
		pricing: pricing,
		Client:  &http.Client{Timeout: DefaultTimeout},
	}
}

func (b *Base) ID() router.ProviderID { return b.id }

// EstimateCost prices tokens for model using the 75/25 input/output split.
func (b *Base) EstimateCost(tokens int, model string) cost.Quote {
	return cost.Estimate(tokens, model, b.pricing)
}

// Option configures an adapter's Base.
type Option func(*Base)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Base) {
		if d > 0 {
			b.Client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client, e.g. with one whose transport is
// instrumented for tracing.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Base) {
		if c != nil {
			b.Client = c
		}
	}
}

// Apply runs opts against b.
func (b *Base) Apply(opts ...Option) {
	for _, o := range opts {
		o(b)
	}
}
