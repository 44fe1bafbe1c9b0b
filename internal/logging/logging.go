package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const redacted = "[REDACTED]"

// sensitiveHeaders are HTTP headers that must never appear in logs.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"x-goog-api-key":      true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
}

// contentKeys carry prompt or completion text.
var contentKeys = map[string]bool{
	"body":         true,
	"request_body": true,
	"req_body":     true,
	"prompt":       true,
	"messages":     true,
	"content":      true,
	"completion":   true,
}

// globalLevel is the dynamic level variable used by the JSON handler.
var globalLevel = new(slog.LevelVar)

// Setup initializes the global slog logger writing JSON to stdout.
func Setup(level string) *slog.Logger {
	return SetupWriter(os.Stdout, level)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string) *slog.Logger {
	SetLevel(level)
	base := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: globalLevel})
	logger := slog.New(&RedactingHandler{base: base})
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the global log level at runtime.
// Valid values are "debug", "warn", "error"; anything else defaults to "info".
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		globalLevel.Set(slog.LevelDebug)
	case "warn":
		globalLevel.Set(slog.LevelWarn)
	case "error":
		globalLevel.Set(slog.LevelError)
	default:
		globalLevel.Set(slog.LevelInfo)
	}
}

// RedactingHandler wraps an slog.Handler and replaces credential and prompt
// values before they reach the underlying handler.
type RedactingHandler struct {
	base slog.Handler
}

// NewRedactingHandler wraps base.
func NewRedactingHandler(base slog.Handler) *RedactingHandler {
	return &RedactingHandler{base: base}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redactAttr(a))
		return true
	})
	return h.base.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, redactAttr(a))
	}
	return &RedactingHandler{base: h.base.WithAttrs(out)}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{base: h.base.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		out := make([]any, 0, len(group))
		for _, g := range group {
			out = append(out, redactAttr(g))
		}
		return slog.Group(a.Key, out...)
	}
	if isSensitive(strings.ToLower(a.Key)) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSensitive(key string) bool {
	if sensitiveHeaders[key] || contentKeys[key] {
		return true
	}
	if strings.Contains(key, "secret") || strings.Contains(key, "password") ||
		strings.Contains(key, "credential") || strings.Contains(key, "api_key") || strings.Contains(key, "apikey") {
		return true
	}
	// Token counts ("tokens_used", "max_tokens") are fine; bearer tokens are not.
	return key == "token" || strings.HasSuffix(key, "_token")
}

// RequestLogger returns chi middleware that logs HTTP requests using slog.
// Request bodies and auth headers are never logged.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = middleware.GetReqID(r.Context())
			}

			next.ServeHTTP(ww, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", reqID),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if tenant := r.Header.Get("X-Tenant-ID"); tenant != "" {
				attrs = append(attrs, slog.String("tenant_id", tenant))
			}
			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", attrs...)
		})
	}
}
