package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jordanhubbard/routehub/internal/credentials"
	"github.com/jordanhubbard/routehub/internal/router"
	"github.com/jordanhubbard/routehub/internal/store"
)

const validateTimeout = 10 * time.Second

type providerView struct {
	router.ProviderDescriptor
	TimeoutSeconds     int  `json:"timeout_seconds"`
	RequiresCredential bool `json:"requires_credential"`
}

func ProvidersListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		descs := d.Router.Descriptors()
		out := make([]providerView, 0, len(descs))
		for _, desc := range descs {
			v := providerView{ProviderDescriptor: desc, TimeoutSeconds: int(desc.Timeout / time.Second)}
			if p, ok := d.Router.Adapter(desc.ID); ok {
				v.RequiresCredential = p.RequiresCredential()
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, map[string]any{"providers": out})
	}
}

// ProviderValidateHandler checks the credential the router would use for a
// tenant and caller against the provider.
func ProviderValidateHandler(d Dependencies) http.HandlerFunc {
	type validateReq struct {
		TenantID string `json:"tenant_id"`
		CallerID string `json:"caller_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := router.ProviderID(chi.URLParam(r, "id"))
		adapter, ok := d.Router.Adapter(id)
		if !ok {
			jsonError(w, "unknown provider", http.StatusNotFound)
			return
		}
		var req validateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" {
			jsonError(w, "tenant_id required", http.StatusBadRequest)
			return
		}
		if !adapter.RequiresCredential() {
			writeJSON(w, http.StatusOK, map[string]any{"provider": id, "valid": true})
			return
		}
		var cred string
		var found bool
		if d.Credentials != nil {
			cred, found = d.Credentials.GetCredential(r.Context(), id, req.TenantID, req.CallerID)
		}
		if !found {
			writeJSON(w, http.StatusOK, map[string]any{"provider": id, "valid": false, "reason": "no credential"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), validateTimeout)
		defer cancel()
		writeJSON(w, http.StatusOK, map[string]any{"provider": id, "valid": adapter.ValidateCredential(ctx, cred)})
	}
}

func RateLimitsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		snaps := d.Limiter.TenantSnapshots(tenant)
		writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "windows": snaps})
	}
}

func AuditListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := intParam(q.Get("limit"), 100)
		if err != nil {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		offset, err := intParam(q.Get("offset"), 0)
		if err != nil {
			jsonError(w, "invalid offset", http.StatusBadRequest)
			return
		}
		filter := store.AuditFilter{TenantID: q.Get("tenant"), Outcome: q.Get("outcome")}
		recs, err := d.Store.ListAudit(r.Context(), filter, limit, offset)
		if err != nil {
			slog.Error("list audit failed", slog.String("error", err.Error()))
			jsonError(w, "failed to list audit log", http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []store.AuditRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": recs, "limit": limit, "offset": offset})
	}
}

func AuditGetHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := d.Store.GetAudit(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			slog.Error("get audit failed", slog.String("error", err.Error()))
			jsonError(w, "failed to read audit log", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			jsonError(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// UsageHandler totals a tenant's attempts per provider. The since parameter
// accepts RFC 3339 or a duration such as "24h" (the default).
func UsageHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		since, err := sinceParam(r.URL.Query().Get("since"), time.Now())
		if err != nil {
			jsonError(w, "invalid since", http.StatusBadRequest)
			return
		}
		sum, err := d.Store.SummarizeUsage(r.Context(), tenant, since)
		if err != nil {
			slog.Error("summarize usage failed", slog.String("error", err.Error()))
			jsonError(w, "failed to summarize usage", http.StatusInternalServerError)
			return
		}
		if sum == nil {
			sum = []store.UsageSummary{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "since": since.UTC(), "providers": sum})
	}
}

func VaultUnlockHandler(d Dependencies) http.HandlerFunc {
	type unlockReq struct {
		Password string `json:"password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req unlockReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Vault.Unlock([]byte(req.Password)); err != nil {
			if errors.Is(err, credentials.ErrPasswordTooShort) {
				jsonError(w, err.Error(), http.StatusBadRequest)
				return
			}
			jsonError(w, "unlock failed", http.StatusUnauthorized)
			return
		}
		persistVault(r.Context(), d)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func VaultLockHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if d.Vault.IsLocked() {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "already_locked": true})
			return
		}
		d.Vault.Lock()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func VaultRotateHandler(d Dependencies) http.HandlerFunc {
	type rotateReq struct {
		NewPassword string `json:"new_password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req rotateReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := d.Vault.Rotate([]byte(req.NewPassword)); err != nil {
			switch {
			case errors.Is(err, credentials.ErrLocked):
				jsonError(w, "vault is locked", http.StatusConflict)
			case errors.Is(err, credentials.ErrPasswordTooShort):
				jsonError(w, err.Error(), http.StatusBadRequest)
			default:
				slog.Error("vault rotate failed", slog.String("error", err.Error()))
				jsonError(w, "rotate failed", http.StatusInternalServerError)
			}
			return
		}
		persistVault(r.Context(), d)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// CredentialsListHandler lists the names of stored secrets for a tenant.
// Secret values are never returned.
func CredentialsListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		names := append(d.Vault.Names("tenant/"+tenant+"/"), d.Vault.Names("caller/"+tenant+"/")...)
		if names == nil {
			names = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "credentials": names, "vault_locked": d.Vault.IsLocked()})
	}
}

func CredentialsPutHandler(d Dependencies) http.HandlerFunc {
	type putReq struct {
		Secret   string `json:"secret"`
		CallerID string `json:"caller_id,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, provider, ok := credentialPath(w, r)
		if !ok {
			return
		}
		var req putReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Secret) == "" {
			jsonError(w, "secret required", http.StatusBadRequest)
			return
		}
		name := credentials.TenantKey(tenant, provider)
		if req.CallerID != "" {
			name = credentials.CallerKey(tenant, req.CallerID, provider)
		}
		if err := d.Vault.Set(name, req.Secret); err != nil {
			if errors.Is(err, credentials.ErrLocked) {
				jsonError(w, "vault is locked", http.StatusConflict)
				return
			}
			slog.Error("store credential failed", slog.String("error", err.Error()))
			jsonError(w, "failed to store credential", http.StatusInternalServerError)
			return
		}
		persistVault(r.Context(), d)
		slog.Info("credential stored", slog.String("tenant_id", tenant), slog.String("provider", string(provider)))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "name": name})
	}
}

func CredentialsDeleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, provider, ok := credentialPath(w, r)
		if !ok {
			return
		}
		name := credentials.TenantKey(tenant, provider)
		if caller := r.URL.Query().Get("caller_id"); caller != "" {
			name = credentials.CallerKey(tenant, caller, provider)
		}
		d.Vault.Delete(name)
		persistVault(r.Context(), d)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func credentialPath(w http.ResponseWriter, r *http.Request) (string, router.ProviderID, bool) {
	tenant := chi.URLParam(r, "tenant")
	provider := router.ProviderID(chi.URLParam(r, "provider"))
	if !slices.Contains(router.KnownProviders, provider) {
		jsonError(w, "unknown provider", http.StatusBadRequest)
		return "", "", false
	}
	return tenant, provider, true
}

func persistVault(ctx context.Context, d Dependencies) {
	if d.VaultStore != nil {
		warnOnErr("save_vault", d.Vault.Save(ctx, d.VaultStore))
	}
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func sinceParam(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil || dur < 0 {
		return time.Time{}, errors.New("invalid since")
	}
	return now.Add(-dur), nil
}
