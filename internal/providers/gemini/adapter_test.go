package gemini

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
		if r.URL.Path != "/v1beta/models/gemini-1.5-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("key must not be in the query string: %q", r.URL.RawQuery)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Errorf("x-goog-api-key = %q", r.Header.Get("x-goog-api-key"))
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.Contents) != 2 || req.Contents[1].Role != "model" {
			t.Errorf("contents = %+v", req.Contents)
		}
		if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "sys" {
			t.Errorf("systemInstruction = %+v", req.SystemInstruction)
		}
		if req.GenerationConfig.MaxOutputTokens != 64 {
			t.Errorf("maxOutputTokens = %d", req.GenerationConfig.MaxOutputTokens)
		}
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Bonjour"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 2, "totalTokenCount": 9},
			"modelVersion": "gemini-1.5-flash-002"
		}`))
	}))
	defer ts.Close()

	a := New(ts.URL, nil)
	comp, err := a.Complete(context.Background(), []router.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}, router.ModelConfig{Model: "gemini-1.5-flash", MaxTokens: 64, Credential: "g-key"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Content != "Bonjour" || comp.TokensUsed != 9 || comp.FinishReason != "STOP" {
		t.Errorf("completion = %+v", comp)
	}
	if comp.Model != "gemini-1.5-flash-002" {
		t.Errorf("Model = %q", comp.Model)
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer ts.Close()

	if _, err := New(ts.URL, nil).Complete(context.Background(), nil, router.ModelConfig{Model: "m", Credential: "k"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestClassifyError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"status":"INVALID_ARGUMENT","message":"API key not valid. Please pass a valid API key."}}`))
	}))
	defer ts.Close()

	a := New(ts.URL, nil)
	_, err := a.Complete(context.Background(), nil, router.ModelConfig{Model: "m", Credential: "bad"})
	if got := a.ClassifyError(err).Class; got != router.ErrAuthRejected {
		t.Errorf("class = %q, want AuthRejected", got)
	}
}

func TestValidateCredential(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" || r.Header.Get("x-goog-api-key") != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
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
