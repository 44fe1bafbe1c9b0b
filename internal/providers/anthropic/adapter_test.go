package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jordanhubbard/routehub/internal/router"
)

func TestComplete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ant-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != apiVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.System != "be brief" {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.MaxTokens != defaultMaxTokens {
			t.Errorf("max_tokens = %d, want default", req.MaxTokens)
		}
		_, _ = w.Write([]byte(`{
			"model": "claude-3-5-haiku",
			"content": [{"type": "text", "text": "Hi"}, {"type": "text", "text": " there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 100, "output_tokens": 50}
		}`))
	}))
	defer ts.Close()

	a := New(ts.URL, nil)
	comp, err := a.Complete(context.Background(), []router.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	}, router.ModelConfig{Model: "claude-3-5-haiku", Credential: "ant-key"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Content != "Hi there" {
		t.Errorf("Content = %q", comp.Content)
	}
	if comp.Total() != 150 {
		t.Errorf("Total() = %d, want 150", comp.Total())
	}
	if comp.FinishReason != "end_turn" {
		t.Errorf("FinishReason = %q", comp.FinishReason)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   router.ErrorClass
	}{
		{401, `{"type":"error","error":{"type":"authentication_error"}}`, router.ErrAuthRejected},
		{400, `{"error":{"message":"Your credit balance is too low"}}`, router.ErrQuotaOrBilling},
		{400, `{"error":{"message":"prompt is too long: 300000 tokens"}}`, router.ErrRequestTooLarge},
		{404, `{"error":{"type":"not_found_error"}}`, router.ErrModelNotFound},
		{429, `{"error":{"type":"rate_limit_error"}}`, router.ErrRateLimited},
		{529, `{"error":{"type":"overloaded_error"}}`, router.ErrGeneric},
	}
	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(tt.body))
		}))
		a := New(ts.URL, nil)
		_, err := a.Complete(context.Background(), []router.Message{{Role: "user", Content: "x"}}, router.ModelConfig{Credential: "k"})
		ts.Close()
		if got := a.ClassifyError(err).Class; got != tt.want {
			t.Errorf("status %d: class = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestValidateCredential(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	a := New(ts.URL, nil)
	if !a.ValidateCredential(context.Background(), "good") {
		t.Error("good key should validate")
	}
	if a.ValidateCredential(context.Background(), "bad") {
		t.Error("bad key should not validate")
	}
}
