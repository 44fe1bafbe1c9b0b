// Package anthropic adapts the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/providers"
	"github.com/jordanhubbard/routehub/internal/router"
)

const (
	// DefaultBaseURL is the public Anthropic API.
	DefaultBaseURL = "https://api.anthropic.com"

	apiVersion = "2023-06-01"

	// defaultMaxTokens is sent when the caller sets none; the API requires it.
	defaultMaxTokens = 4096
)

var hints = providers.BodyHints{
	Quota:         []string{"credit balance", "billing"},
	ModelNotFound: []string{"not_found_error"},
	TooLarge:      []string{"prompt is too long", "prompt_too_long"},
	Auth:          []string{"authentication_error", "permission_error"},
}

// Adapter implements router.Provider for Anthropic.
type Adapter struct {
	providers.Base
	baseURL string
}

// New creates an Anthropic adapter. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, pricing cost.Table, opts ...providers.Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	a := &Adapter{
		Base:    providers.NewBase(router.ProviderAnthropic, pricing),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	a.Apply(opts...)
	return a
}

type messagesRequest struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []router.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) RequiresCredential() bool { return true }

func (a *Adapter) Complete(ctx context.Context, messages []router.Message, cfg router.ModelConfig) (router.Completion, error) {
	payload := messagesRequest{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = defaultMaxTokens
	}
	// System prompts go in a top-level field, not in the message list.
	var system []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		payload.Messages = append(payload.Messages, m)
	}
	payload.System = strings.Join(system, "\n\n")

	body, err := providers.DoRequest(ctx, a.Client, a.baseURL+"/v1/messages", payload, authHeaders(cfg.Credential))
	if err != nil {
		return router.Completion{}, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return router.Completion{}, fmt.Errorf("decode messages response: %w", err)
	}
	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 && len(resp.Content) == 0 {
		return router.Completion{}, providers.ErrEmptyResponse
	}
	return router.Completion{
		Content:      text.String(),
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		FinishReason: resp.StopReason,
	}, nil
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
	return map[string]string{
		"x-api-key":         key,
		"anthropic-version": apiVersion,
	}
}
