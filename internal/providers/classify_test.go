package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jordanhubbard/routehub/internal/router"
)

func TestClassify(t *testing.T) {
	hints := BodyHints{
		Quota:         []string{"insufficient_quota"},
		ModelNotFound: []string{"model_not_found"},
		TooLarge:      []string{"context_length_exceeded"},
		Auth:          []string{"invalid_api_key"},
	}
	tests := []struct {
		name       string
		err        error
		want       router.ErrorClass
		retryAfter int
	}{
		{"401", &StatusError{StatusCode: 401}, router.ErrAuthRejected, 0},
		{"403", &StatusError{StatusCode: 403}, router.ErrAuthRejected, 0},
		{"402", &StatusError{StatusCode: 402}, router.ErrQuotaOrBilling, 0},
		{"404", &StatusError{StatusCode: 404}, router.ErrModelNotFound, 0},
		{"413", &StatusError{StatusCode: 413}, router.ErrRequestTooLarge, 0},
		{"429", &StatusError{StatusCode: 429, RetryAfterSecs: 9}, router.ErrRateLimited, 9},
		{"429 quota body", &StatusError{StatusCode: 429, Body: `{"error":{"code":"insufficient_quota"}}`}, router.ErrQuotaOrBilling, 0},
		{"400 too long", &StatusError{StatusCode: 400, Body: `context_length_exceeded`}, router.ErrRequestTooLarge, 0},
		{"400 bad model", &StatusError{StatusCode: 400, Body: `The model_not_found here`}, router.ErrModelNotFound, 0},
		{"400 bad key", &StatusError{StatusCode: 400, Body: `INVALID_API_KEY`}, router.ErrAuthRejected, 0},
		{"504", &StatusError{StatusCode: 504}, router.ErrNetworkTimeout, 0},
		{"500", &StatusError{StatusCode: 500}, router.ErrGeneric, 0},
		{"deadline", fmt.Errorf("request failed: %w", context.DeadlineExceeded), router.ErrNetworkTimeout, 0},
		{"canceled", fmt.Errorf("request failed: %w", context.Canceled), router.ErrCancelled, 0},
		{"plain", errors.New("boom"), router.ErrGeneric, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, hints)
			if got.Class != tt.want {
				t.Errorf("Class = %q, want %q", got.Class, tt.want)
			}
			if got.RetryAfter != tt.retryAfter {
				t.Errorf("RetryAfter = %d, want %d", got.RetryAfter, tt.retryAfter)
			}
		})
	}

	if Classify(nil, hints) != nil {
		t.Error("Classify(nil) should be nil")
	}
}
