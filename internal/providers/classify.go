package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/jordanhubbard/routehub/internal/router"
)

// BodyHints are provider-specific substrings that refine classification of
// an error response body.
type BodyHints struct {
	Quota         []string
	ModelNotFound []string
	TooLarge      []string
	Auth          []string
}

// Classify maps transport and status errors onto router error classes.
// Adapters call it from their ClassifyError with their own hints.
func Classify(err error, hints BodyHints) *router.ClassifiedError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &router.ClassifiedError{Err: err, Class: router.ErrCancelled}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &router.ClassifiedError{Err: err, Class: router.ErrNetworkTimeout}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &router.ClassifiedError{Err: err, Class: router.ErrNetworkTimeout}
	}

	var se *StatusError
	if !errors.As(err, &se) {
		return &router.ClassifiedError{Err: err, Class: router.ErrGeneric}
	}

	// Body hints win over status codes: providers report quota exhaustion
	// with 429 and oversized prompts with 400.
	switch {
	case len(hints.Quota) > 0 && se.BodyContains(hints.Quota...):
		return &router.ClassifiedError{Err: err, Class: router.ErrQuotaOrBilling}
	case len(hints.TooLarge) > 0 && se.BodyContains(hints.TooLarge...):
		return &router.ClassifiedError{Err: err, Class: router.ErrRequestTooLarge}
	case len(hints.ModelNotFound) > 0 && se.BodyContains(hints.ModelNotFound...):
		return &router.ClassifiedError{Err: err, Class: router.ErrModelNotFound}
	case len(hints.Auth) > 0 && se.BodyContains(hints.Auth...):
		return &router.ClassifiedError{Err: err, Class: router.ErrAuthRejected}
	}

	switch se.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &router.ClassifiedError{Err: err, Class: router.ErrAuthRejected}
	case http.StatusPaymentRequired:
		return &router.ClassifiedError{Err: err, Class: router.ErrQuotaOrBilling}
	case http.StatusNotFound:
		return &router.ClassifiedError{Err: err, Class: router.ErrModelNotFound}
	case http.StatusRequestEntityTooLarge:
		return &router.ClassifiedError{Err: err, Class: router.ErrRequestTooLarge}
	case http.StatusTooManyRequests:
		return &router.ClassifiedError{Err: err, Class: router.ErrRateLimited, RetryAfter: se.RetryAfterSecs}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &router.ClassifiedError{Err: err, Class: router.ErrNetworkTimeout}
	}
	return &router.ClassifiedError{Err: err, Class: router.ErrGeneric}
}
