package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError captures a non-200 response from a provider. Adapters inspect
// it in ClassifyError.
type StatusError struct {
	StatusCode int
	Body       string
	// RetryAfterSecs is parsed from the Retry-After header; zero when absent.
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, truncate(e.Body, 512))
}

// ParseRetryAfter accepts either delta-seconds or an HTTP date.
func (e *StatusError) ParseRetryAfter(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs > 0 {
			e.RetryAfterSecs = secs
		}
		return
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			e.RetryAfterSecs = int(d.Round(time.Second).Seconds())
			if e.RetryAfterSecs == 0 {
				e.RetryAfterSecs = 1
			}
		}
	}
}

// BodyContains reports whether the lowercased body contains any of needles.
func (e *StatusError) BodyContains(needles ...string) bool {
	body := strings.ToLower(e.Body)
	for _, n := range needles {
		if strings.Contains(body, n) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
