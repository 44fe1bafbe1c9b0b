package router

import (
	"fmt"
	"strings"
)

// ErrorClass is the machine-readable category of a routing failure. The class
// alone decides whether the router moves on to the next provider.
type ErrorClass string

const (
	ErrNoCredential        ErrorClass = "NoCredential"
	ErrRateLimited         ErrorClass = "RateLimited"
	ErrTokenBudgetExceeded ErrorClass = "TokenBudgetExceeded"
	ErrConcurrencyLimited  ErrorClass = "ConcurrencyLimited"
	ErrAuthRejected        ErrorClass = "AuthRejected"
	ErrQuotaOrBilling      ErrorClass = "QuotaOrBilling"
	ErrNetworkTimeout      ErrorClass = "NetworkTimeout"
	ErrModelNotFound       ErrorClass = "ModelNotFound"
	ErrRequestTooLarge     ErrorClass = "RequestTooLarge"
	ErrCancelled           ErrorClass = "Cancelled"
	ErrGeneric             ErrorClass = "Generic"
)

// AbortsRequest reports whether a failure of this class ends the whole request
// instead of falling through to the next candidate.
func (c ErrorClass) AbortsRequest() bool {
	switch c {
	case ErrRateLimited, ErrTokenBudgetExceeded, ErrCancelled:
		return true
	}
	return false
}

// ClassifiedError wraps a provider error with its routing classification.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

// AttemptFailure is a short summary of one failed attempt, safe to show callers.
type AttemptFailure struct {
	Provider ProviderID `json:"provider"`
	Class    ErrorClass `json:"error_class"`
}

// RoutingError is returned by Route when no provider produced a response.
type RoutingError struct {
	Class             ErrorClass
	RetryAfterSeconds int
	// Exhausted is true when every candidate was tried and failed.
	Exhausted bool
	Attempts  []AttemptFailure
	// Unreached lists candidates never tried because the request aborted.
	Unreached []ProviderID
	RequestID string

	cause error
}

func (e *RoutingError) Error() string {
	var b strings.Builder
	if e.Exhausted {
		b.WriteString("all providers failed")
	} else {
		fmt.Fprintf(&b, "request aborted: %s", e.Class)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = fmt.Sprintf("%s=%s", a.Provider, a.Class)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *RoutingError) Unwrap() error { return e.cause }

func (e *RoutingError) retryHint() string {
	if e.RetryAfterSeconds <= 0 {
		return ""
	}
	return fmt.Sprintf(" Retry after %d seconds.", e.RetryAfterSeconds)
}

// UserMessage is a caller-facing description that never includes provider
// response bodies or credentials.
func (e *RoutingError) UserMessage() string {
	switch e.Class {
	case ErrRateLimited:
		return "Rate limit reached." + e.retryHint()
	case ErrTokenBudgetExceeded:
		return "Token budget for this period is used up." + e.retryHint()
	case ErrCancelled:
		return "The request was cancelled."
	}
	if len(e.Attempts) == 0 {
		return "No providers are configured for this request."
	}
	allNoCred := true
	for _, a := range e.Attempts {
		if a.Class != ErrNoCredential {
			allNoCred = false
			break
		}
	}
	if allNoCred {
		return "No provider credentials are configured for this tenant."
	}
	return "No provider could complete the request."
}
