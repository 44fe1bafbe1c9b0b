package credentials

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jordanhubbard/routehub/internal/router"
)

// TenantKey names a tenant-wide secret for provider.
func TenantKey(tenantID string, provider router.ProviderID) string {
	return "tenant/" + tenantID + "/" + string(provider)
}

// CallerKey names a caller-scoped secret for provider.
func CallerKey(tenantID, callerID string, provider router.ProviderID) string {
	return "caller/" + tenantID + "/" + callerID + "/" + string(provider)
}

// EnvVar is the platform-default variable for provider, e.g. ROUTEHUB_OPENAI_API_KEY.
func EnvVar(provider router.ProviderID) string {
	return "ROUTEHUB_" + strings.ToUpper(string(provider)) + "_API_KEY"
}

// PlatformFromEnv collects platform-default keys for ids using getenv.
func PlatformFromEnv(getenv func(string) string, ids []router.ProviderID) map[router.ProviderID]string {
	out := make(map[router.ProviderID]string)
	for _, id := range ids {
		if v := getenv(EnvVar(id)); v != "" {
			out[id] = v
		}
	}
	return out
}

// Resolver implements router.CredentialSource. Lookup order is tenant, then
// caller, then the platform default. A locked vault falls through to the
// platform default.
type Resolver struct {
	vault    *Vault
	platform map[router.ProviderID]string
}

func NewResolver(v *Vault, platform map[router.ProviderID]string) *Resolver {
	if platform == nil {
		platform = map[router.ProviderID]string{}
	}
	return &Resolver{vault: v, platform: platform}
}

func (r *Resolver) GetCredential(_ context.Context, provider router.ProviderID, tenantID, callerID string) (string, bool) {
	if r.vault != nil && !r.vault.IsLocked() {
		names := []string{TenantKey(tenantID, provider)}
		if callerID != "" {
			names = append(names, CallerKey(tenantID, callerID, provider))
		}
		for _, name := range names {
			secret, err := r.vault.Get(name)
			if err == nil && secret != "" {
				return secret, true
			}
			if err != nil && !errors.Is(err, ErrNotFound) {
				slog.Warn("credential lookup failed",
					slog.String("provider", string(provider)),
					slog.String("tenant_id", tenantID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if secret, ok := r.platform[provider]; ok && secret != "" {
		return secret, true
	}
	return "", false
}
