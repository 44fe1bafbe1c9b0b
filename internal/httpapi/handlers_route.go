package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jordanhubbard/routehub/internal/router"
)

const (
	tenantHeader = "X-Tenant-ID"
	callerHeader = "X-Caller-ID"

	maxRouteBody = 4 << 20
)

var validate = validator.New()

// RouteRequest is the JSON body for POST /v1/route.
type RouteRequest struct {
	Messages    []RouteMessage `json:"messages" validate:"required,min=1,dive"`
	Provider    string         `json:"provider,omitempty" validate:"omitempty,oneof=openai anthropic gemini local fallback"`
	Model       string         `json:"model,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature *float64       `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	RequestID   string         `json:"request_id,omitempty" validate:"omitempty,max=128"`
}

// RouteMessage is one chat turn in a RouteRequest.
type RouteMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// RouteHandler serves POST /v1/route. The tenant and caller are taken from
// headers set by the upstream authentication layer.
func RouteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
		if tenantID == "" {
			jsonError(w, tenantHeader+" header is required", http.StatusBadRequest)
			return
		}
		callerID := strings.TrimSpace(r.Header.Get(callerHeader))

		var req RouteRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRouteBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			jsonError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			jsonError(w, validationMessage(err), http.StatusBadRequest)
			return
		}

		opts := router.Options{
			RequestID:   req.RequestID,
			Provider:    router.ProviderID(req.Provider),
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}
		if opts.RequestID == "" {
			opts.RequestID = r.Header.Get("X-Request-ID")
		}

		messages := make([]router.Message, len(req.Messages))
		for i, m := range req.Messages {
			messages[i] = router.Message{Role: m.Role, Content: m.Content}
		}

		resp, err := d.Router.Route(r.Context(), tenantID, callerID, messages, opts)
		if err != nil {
			slog.Info("route failed",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()),
			)
			writeRouteError(w, err)
			return
		}
		w.Header().Set("X-Request-ID", resp.RequestID)
		writeJSON(w, http.StatusOK, resp)
	}
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return "invalid request"
	}
	fe := ve[0]
	field := strings.TrimPrefix(fe.Namespace(), "RouteRequest.")
	switch fe.Tag() {
	case "required", "min":
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}
