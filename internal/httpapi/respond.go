package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jordanhubbard/routehub/internal/router"
)

// jsonError writes {"error": msg} with the given status code.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// warnOnErr logs a failed background operation without failing the request.
func warnOnErr(op string, err error) {
	if err != nil {
		slog.Warn("store operation failed", slog.String("op", op), slog.String("error", err.Error()))
	}
}

// routeErrorBody is the JSON shape of a failed /v1/route call.
type routeErrorBody struct {
	Error             string            `json:"error"`
	ErrorClass        router.ErrorClass `json:"error_class"`
	RetryAfterSeconds int               `json:"retry_after_seconds,omitempty"`
	RequestID         string            `json:"request_id,omitempty"`
	// Attempts lists each failed provider with its error class only.
	Attempts []router.AttemptFailure `json:"attempts,omitempty"`
}

// statusForClass maps a routing failure to an HTTP status.
func statusForClass(re *router.RoutingError) int {
	switch re.Class {
	case router.ErrRateLimited, router.ErrTokenBudgetExceeded:
		return http.StatusTooManyRequests
	case router.ErrCancelled:
		return http.StatusRequestTimeout
	}
	if re.Exhausted && len(re.Attempts) == 0 {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

// writeRouteError renders err without leaking provider detail.
func writeRouteError(w http.ResponseWriter, err error) {
	var re *router.RoutingError
	if !errors.As(err, &re) {
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	code := statusForClass(re)
	if code == http.StatusTooManyRequests && re.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(re.RetryAfterSeconds))
	}
	writeJSON(w, code, routeErrorBody{
		Error:             re.UserMessage(),
		ErrorClass:        re.Class,
		RetryAfterSeconds: re.RetryAfterSeconds,
		RequestID:         re.RequestID,
		Attempts:          re.Attempts,
	})
}
