package config

import (
	"github.com/jordanhubbard/routehub/internal/cost"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
)

const fallbackModel = "offline-canned"

// Default is the configuration used when no file exists: every provider in
// the standard fallback order, ending with the offline fallback.
func Default() *File {
	f := &File{
		DefaultProvider: "openai",
		FallbackOrder:   []string{"openai", "anthropic", "gemini", "local", "fallback"},
		DefaultLimits: ratelimit.Limits{
			RequestsPerMinute: 60,
			TokensPerMinute:   100000,
			MaxConcurrent:     10,
		},
		Providers: []Provider{
			{
				ID:                  "openai",
				DisplayName:         "OpenAI",
				DefaultModel:        "gpt-4o-mini",
				BaseURL:             "https://api.openai.com",
				TimeoutSeconds:      60,
				MaxTokensPerRequest: 128000,
				SupportsStreaming:   true,
				Pricing: cost.Table{
					"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
					"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
				},
			},
			{
				ID:                  "anthropic",
				DisplayName:         "Anthropic",
				DefaultModel:        "claude-3-5-haiku-20241022",
				BaseURL:             "https://api.anthropic.com",
				TimeoutSeconds:      60,
				MaxTokensPerRequest: 200000,
				SupportsStreaming:   true,
				Pricing: cost.Table{
					"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
					"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
				},
			},
			{
				ID:                  "gemini",
				DisplayName:         "Google Gemini",
				DefaultModel:        "gemini-1.5-flash",
				BaseURL:             "https://generativelanguage.googleapis.com",
				TimeoutSeconds:      60,
				MaxTokensPerRequest: 1000000,
				Pricing: cost.Table{
					"gemini-1.5-flash": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
					"gemini-1.5-pro":   {InputPer1K: 0.00125, OutputPer1K: 0.005},
				},
			},
			{
				ID:             "local",
				DisplayName:    "Local model",
				DefaultModel:   "local-model",
				Endpoints:      []string{"http://localhost:8000"},
				TimeoutSeconds: 120,
				Pricing:        cost.Table{"local-model": {}},
			},
			{
				ID:           "fallback",
				DisplayName:  "Offline fallback",
				DefaultModel: fallbackModel,
				Pricing:      cost.Table{fallbackModel: {}},
			},
		},
	}
	return f
}
