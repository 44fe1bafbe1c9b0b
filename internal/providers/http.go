package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordanhubbard/routehub/internal/router"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 8 << 20

// DoRequest sends a POST request with a JSON payload and returns the response
// body bytes. Non-200 responses come back as *StatusError with Retry-After
// parsed.
func DoRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	ctx, span := otel.Tracer("routehub.providers").Start(ctx, "provider.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)
	defer span.End()

	jsonData, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return do(ctx, span, client, req, headers)
}

// DoGet sends a GET request and returns the response body. It is used for
// lightweight credential checks against model listing endpoints.
func DoGet(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	ctx, span := otel.Tracer("routehub.providers").Start(ctx, "provider.get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return do(ctx, span, client, req, headers)
}

func do(ctx context.Context, span trace.Span, client *http.Client, req *http.Request, headers map[string]string) ([]byte, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if reqID := router.RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return nil, se
	}

	span.SetStatus(codes.Ok, "")
	return body, nil
}
