package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jordanhubbard/routehub/internal/router"
)

// ChatRequest is the OpenAI-compatible chat completion payload, shared by the
// OpenAI adapter and self-hosted OpenAI-compatible servers.
type ChatRequest struct {
	Model       string           `json:"model"`
	Messages    []router.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// ChatResponse is the subset of an OpenAI-compatible response the router uses.
type ChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      router.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("provider returned no choices")

// CompleteChat posts an OpenAI-compatible chat request to url and converts the
// answer into a router.Completion.
func CompleteChat(ctx context.Context, client *http.Client, url string, messages []router.Message, cfg router.ModelConfig, headers map[string]string) (router.Completion, error) {
	payload := ChatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	body, err := DoRequest(ctx, client, url, payload, headers)
	if err != nil {
		return router.Completion{}, err
	}

	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return router.Completion{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return router.Completion{}, ErrEmptyResponse
	}
	return router.Completion{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
