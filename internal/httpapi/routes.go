package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/routehub/internal/credentials"
	"github.com/jordanhubbard/routehub/internal/idempotency"
	"github.com/jordanhubbard/routehub/internal/metrics"
	"github.com/jordanhubbard/routehub/internal/ratelimit"
	"github.com/jordanhubbard/routehub/internal/router"
	"github.com/jordanhubbard/routehub/internal/store"
)

type Dependencies struct {
	Router      *router.Router
	Limiter     *ratelimit.Registry
	Credentials router.CredentialSource
	Metrics     *metrics.Registry

	// Store serves audit queries; nil disables the audit endpoints.
	Store store.Store

	// Vault and VaultStore back the credential admin endpoints. VaultStore
	// may be nil, in which case vault changes are not persisted.
	Vault      *credentials.Vault
	VaultStore store.VaultStore

	// AdminToken guards /admin/v1; nil leaves it open.
	AdminToken *AdminTokenHolder

	// Idempotency replays successful /v1/route responses that carry an
	// Idempotency-Key header. Nil disables replay.
	Idempotency *idempotency.Cache
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", HealthHandler(d))

	r.Route("/v1", func(r chi.Router) {
		if d.Idempotency != nil {
			r.With(idempotency.Middleware(d.Idempotency, tenantScope)).Post("/route", RouteHandler(d))
		} else {
			r.Post("/route", RouteHandler(d))
		}
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != nil {
			r.Use(AdminAuth(d.AdminToken))
		}
		r.Get("/providers", ProvidersListHandler(d))
		r.Post("/providers/{id}/validate", ProviderValidateHandler(d))
		r.Get("/ratelimits/{tenant}", RateLimitsHandler(d))

		if d.Store != nil {
			r.Get("/audit", AuditListHandler(d))
			r.Get("/audit/{id}", AuditGetHandler(d))
			r.Get("/usage/{tenant}", UsageHandler(d))
		}

		if d.Vault != nil {
			r.Post("/vault/unlock", VaultUnlockHandler(d))
			r.Post("/vault/lock", VaultLockHandler(d))
			r.Post("/vault/rotate", VaultRotateHandler(d))
			r.Get("/credentials/{tenant}", CredentialsListHandler(d))
			r.Put("/credentials/{tenant}/{provider}", CredentialsPutHandler(d))
			r.Delete("/credentials/{tenant}/{provider}", CredentialsDeleteHandler(d))
		}
	})

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
}

func tenantScope(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(tenantHeader))
}

// HealthHandler reports unhealthy when no provider is registered.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		n := len(d.Router.Descriptors())
		if n == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "providers": 0})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "providers": n})
	}
}
