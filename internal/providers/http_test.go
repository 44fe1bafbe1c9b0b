package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jordanhubbard/routehub/internal/router"
)

func TestDoRequest_PostsJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["q"]})
	}))
	defer ts.Close()

	body, err := DoRequest(context.Background(), ts.Client(), ts.URL, map[string]string{"q": "ping"},
		map[string]string{"Authorization": "Bearer tok"})
	if err != nil {
		t.Fatalf("DoRequest: %v", err)
	}
	if !strings.Contains(string(body), `"echo":"ping"`) {
		t.Errorf("body = %s", body)
	}
}

func TestDoRequest_StatusErrorWithRetryAfter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`slow down`))
	}))
	defer ts.Close()

	_, err := DoRequest(context.Background(), ts.Client(), ts.URL, struct{}{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
	if se.RetryAfterSecs != 42 {
		t.Errorf("RetryAfterSecs = %d, want 42", se.RetryAfterSecs)
	}
	if se.Body != "slow down" {
		t.Errorf("Body = %q", se.Body)
	}
}

func TestDoRequest_ForwardsRequestID(t *testing.T) {
	var gotID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-ID")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	ctx := router.WithRequestID(context.Background(), "req-77")
	if _, err := DoRequest(ctx, ts.Client(), ts.URL, struct{}{}, nil); err != nil {
		t.Fatalf("DoRequest: %v", err)
	}
	if gotID != "req-77" {
		t.Errorf("X-Request-ID = %q, want req-77", gotID)
	}
}

func TestDoRequest_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := &http.Client{Timeout: 50 * time.Millisecond}
	_, err := DoRequest(context.Background(), client, ts.URL, struct{}{}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if c := Classify(err, BodyHints{}); c.Class != "NetworkTimeout" {
		t.Errorf("class = %q, want NetworkTimeout", c.Class)
	}
}

func TestDoRequest_MarshalError(t *testing.T) {
	_, err := DoRequest(context.Background(), http.DefaultClient, "http://localhost", make(chan int), nil)
	if err == nil || !strings.Contains(err.Error(), "marshal") {
		t.Fatalf("err = %v, want marshal error", err)
	}
}

func TestDoGet(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.Header.Get("x-api-key") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()

	if _, err := DoGet(context.Background(), ts.Client(), ts.URL, map[string]string{"x-api-key": "good"}); err != nil {
		t.Errorf("DoGet(good): %v", err)
	}
	_, err := DoGet(context.Background(), ts.Client(), ts.URL, map[string]string{"x-api-key": "bad"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Errorf("DoGet(bad) err = %v, want 401 StatusError", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"7", 7},
		{" 3 ", 3},
		{"-1", 0},
		{"soon", 0},
		{time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		se := &StatusError{}
		se.ParseRetryAfter(tt.in)
		if se.RetryAfterSecs != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %d, want %d", tt.in, se.RetryAfterSecs, tt.want)
		}
	}

	se := &StatusError{}
	se.ParseRetryAfter(time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat))
	if se.RetryAfterSecs < 25 || se.RetryAfterSecs > 31 {
		t.Errorf("HTTP-date Retry-After = %d, want about 30", se.RetryAfterSecs)
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	se := &StatusError{StatusCode: 500, Body: strings.Repeat("x", 2000)}
	if len(se.Error()) > 600 {
		t.Errorf("Error() length = %d, want truncated", len(se.Error()))
	}
}
