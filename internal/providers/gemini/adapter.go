// Package gemini adapts the Google Gemini generateContent API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/providers"
	"github.com/jordanhubbard/routehub/internal/router"
)

// DefaultBaseURL is the public Gemini API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

var hints = providers.BodyHints{
	Quota:         []string{"billing", "quota exceeded for quota metric"},
	ModelNotFound: []string{"is not found for api version"},
	TooLarge:      []string{"exceeds the maximum number of tokens", "input token count"},
	Auth:          []string{"api_key_invalid", "api key not valid", "permission_denied"},
}

// Adapter implements router.Provider for Gemini.
type Adapter struct {
	providers.Base
	baseURL string
}

// New creates a Gemini adapter. An empty baseURL uses DefaultBaseURL.
func New(baseURL string, pricing cost.Table, opts ...providers.Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	a := &Adapter{
		Base:    providers.NewBase(router.ProviderGemini, pricing),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	a.Apply(opts...)
	return a
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (a *Adapter) RequiresCredential() bool { return true }

func (a *Adapter) Complete(ctx context.Context, messages []router.Message, cfg router.ModelConfig) (router.Completion, error) {
	req := mapRequest(messages, cfg)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, url.PathEscape(cfg.Model))

	body, err := providers.DoRequest(ctx, a.Client, endpoint, req, authHeaders(cfg.Credential))
	if err != nil {
		return router.Completion{}, err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return router.Completion{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return router.Completion{}, providers.ErrEmptyResponse
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return router.Completion{
		Content:      text.String(),
		Model:        resp.ModelVersion,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		TokensUsed:   resp.UsageMetadata.TotalTokenCount,
		FinishReason: resp.Candidates[0].FinishReason,
	}, nil
}

func mapRequest(messages []router.Message, cfg router.ModelConfig) generateRequest {
	req := generateRequest{
		GenerationConfig: generationConfig{
			MaxOutputTokens: cfg.MaxTokens,
			Temperature:     cfg.Temperature,
		},
	}
	var system []part
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, part{Text: m.Content})
		case "assistant":
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: system}
	}
	return req
}

// ValidateCredential lists models with key; any 200 means the key works.
func (a *Adapter) ValidateCredential(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	_, err := providers.DoGet(ctx, a.Client, a.baseURL+"/v1beta/models", authHeaders(key))
	return err == nil
}

func (a *Adapter) ClassifyError(err error) *router.ClassifiedError {
	return providers.Classify(err, hints)
}

// authHeaders sends the key in a header rather than the query string so it
// never shows up in URLs or trace attributes.
func authHeaders(key string) map[string]string {
	return map[string]string{"x-goog-api-key": key}
}
