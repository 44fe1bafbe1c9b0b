// Package config loads the routing configuration: providers, pricing, fallback
// order, default limits and per-tenant preferences.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
	"github.com/jordanhubbard/routehub/internal/router"
)

// File is the root of a routehub YAML configuration.
type File struct {
	DefaultProvider string           `yaml:"default_provider" validate:"required"`
	FallbackOrder   []string         `yaml:"fallback_order" validate:"dive,required"`
	DefaultLimits   ratelimit.Limits `yaml:"default_limits"`
	Providers       []Provider       `yaml:"providers" validate:"required,min=1,dive"`
	Tenants         []Tenant         `yaml:"tenants" validate:"dive"`
}

// Provider configures one adapter.
type Provider struct {
	ID                  string     `yaml:"id" validate:"required,oneof=openai anthropic gemini local fallback"`
	DisplayName         string     `yaml:"display_name"`
	DefaultModel        string     `yaml:"default_model" validate:"required"`
	BaseURL             string     `yaml:"base_url" validate:"omitempty,url"`
	Endpoints           []string   `yaml:"endpoints" validate:"dive,url"`
	TimeoutSeconds      int        `yaml:"timeout_seconds" validate:"gte=0"`
	MaxTokensPerRequest int        `yaml:"max_tokens_per_request" validate:"gte=0"`
	SupportsStreaming   bool       `yaml:"supports_streaming"`
	Pricing             cost.Table `yaml:"pricing" validate:"dive"`
	// Message is the canned reply of the fallback provider.
	Message string `yaml:"message"`
}

// Tenant holds tenant-level preferences, limits and callers.
type Tenant struct {
	ID                  string           `yaml:"id" validate:"required"`
	PreferredProvider   string           `yaml:"preferred_provider"`
	PreferredModel      string           `yaml:"preferred_model"`
	MaxTokensPerRequest int              `yaml:"max_tokens_per_request" validate:"gte=0"`
	Limits              ratelimit.Limits `yaml:"limits"`
	Callers             []Caller         `yaml:"callers" validate:"dive"`
}

// Caller holds per-caller preferences inside a tenant.
type Caller struct {
	ID                  string `yaml:"id" validate:"required"`
	PreferredProvider   string `yaml:"preferred_provider"`
	PreferredModel      string `yaml:"preferred_model"`
	MaxTokensPerRequest int    `yaml:"max_tokens_per_request" validate:"gte=0"`
}

var validate = validator.New()

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	f, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
// The boolean reports whether the file was found.
func LoadOrDefault(path string) (*File, bool, error) {
	f, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// Parse decodes YAML from r. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	for i := range f.Providers {
		p := &f.Providers[i]
		if p.DisplayName == "" {
			p.DisplayName = p.ID
		}
		if p.ID == string(router.ProviderFallback) && p.DefaultModel == "" {
			p.DefaultModel = fallbackModel
		}
	}
}

// Validate checks struct tags and the cross references between sections.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return fieldErrors(ve)
		}
		return err
	}

	var problems []string
	ids := make(map[string]bool, len(f.Providers))
	for _, p := range f.Providers {
		if ids[p.ID] {
			problems = append(problems, fmt.Sprintf("provider %q is configured twice", p.ID))
		}
		ids[p.ID] = true
	}
	if !ids[f.DefaultProvider] {
		problems = append(problems, fmt.Sprintf("default_provider %q is not a configured provider", f.DefaultProvider))
	}
	seen := make(map[string]bool, len(f.FallbackOrder))
	for _, id := range f.FallbackOrder {
		if !ids[id] {
			problems = append(problems, fmt.Sprintf("fallback_order entry %q is not a configured provider", id))
		}
		if seen[id] {
			problems = append(problems, fmt.Sprintf("fallback_order lists %q twice", id))
		}
		seen[id] = true
	}
	tenants := make(map[string]bool, len(f.Tenants))
	for _, t := range f.Tenants {
		if tenants[t.ID] {
			problems = append(problems, fmt.Sprintf("tenant %q is configured twice", t.ID))
		}
		tenants[t.ID] = true
		if t.PreferredProvider != "" && !ids[t.PreferredProvider] {
			problems = append(problems, fmt.Sprintf("tenant %q prefers unknown provider %q", t.ID, t.PreferredProvider))
		}
		for _, c := range t.Callers {
			if c.PreferredProvider != "" && !ids[c.PreferredProvider] {
				problems = append(problems, fmt.Sprintf("caller %q of tenant %q prefers unknown provider %q", c.ID, t.ID, c.PreferredProvider))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func fieldErrors(errs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		field := err.Namespace()
		switch err.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must have at least %s entries", field, err.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", field, err.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, err.Param()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("%s must be a URL", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", field, err.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Order returns the provider fallback order: fallback_order when given,
// otherwise the order providers are listed in.
func (f *File) Order() []router.ProviderID {
	if len(f.FallbackOrder) > 0 {
		out := make([]router.ProviderID, len(f.FallbackOrder))
		for i, id := range f.FallbackOrder {
			out[i] = router.ProviderID(id)
		}
		return out
	}
	out := make([]router.ProviderID, len(f.Providers))
	for i, p := range f.Providers {
		out[i] = router.ProviderID(p.ID)
	}
	return out
}

// Provider returns the configuration for id.
func (f *File) Provider(id router.ProviderID) (Provider, bool) {
	for _, p := range f.Providers {
		if p.ID == string(id) {
			return p, true
		}
	}
	return Provider{}, false
}

// Descriptor converts p to its router form.
func (p Provider) Descriptor() router.ProviderDescriptor {
	return router.ProviderDescriptor{
		ID:                  router.ProviderID(p.ID),
		DisplayName:         p.DisplayName,
		DefaultModel:        p.DefaultModel,
		Pricing:             p.Pricing,
		MaxTokensPerRequest: p.MaxTokensPerRequest,
		SupportsStreaming:   p.SupportsStreaming,
		Timeout:             time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// Descriptors returns descriptors in fallback order. Providers missing from
// an explicit fallback_order are not routed to.
func (f *File) Descriptors() []router.ProviderDescriptor {
	order := f.Order()
	out := make([]router.ProviderDescriptor, 0, len(order))
	for _, id := range order {
		if p, ok := f.Provider(id); ok {
			out = append(out, p.Descriptor())
		}
	}
	return out
}

// RouterConfig returns the router-wide defaults.
func (f *File) RouterConfig() router.Config {
	return router.Config{
		DefaultProvider: router.ProviderID(f.DefaultProvider),
		DefaultLimits:   f.DefaultLimits,
	}
}
