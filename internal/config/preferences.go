package config

import (
	"context"

	"github.com/jordanhubbard/routehub/internal/router"
)

// Preferences serves router.Preferences from the tenants section. It is
// built once and only read afterwards.
type Preferences struct {
	tenants map[string]Tenant
}

func NewPreferences(f *File) *Preferences {
	p := &Preferences{tenants: make(map[string]Tenant, len(f.Tenants))}
	for _, t := range f.Tenants {
		p.tenants[t.ID] = t
	}
	return p
}

// GetPreferences returns the stored preferences for a tenant and caller.
// Unknown tenants and callers get zero preferences.
func (p *Preferences) GetPreferences(_ context.Context, tenantID, callerID string) (router.Preferences, error) {
	t, ok := p.tenants[tenantID]
	if !ok {
		return router.Preferences{}, nil
	}
	prefs := router.Preferences{
		Tenant: router.ProviderPreference{
			Provider: router.ProviderID(t.PreferredProvider),
			Model:    t.PreferredModel,
		},
		MaxTokensPerRequest: t.MaxTokensPerRequest,
		Limits:              t.Limits,
	}
	for _, c := range t.Callers {
		if c.ID != callerID {
			continue
		}
		prefs.Caller = router.ProviderPreference{
			Provider: router.ProviderID(c.PreferredProvider),
			Model:    c.PreferredModel,
		}
		if c.MaxTokensPerRequest > 0 {
			prefs.MaxTokensPerRequest = c.MaxTokensPerRequest
		}
		break
	}
	return prefs, nil
}

// Tenants lists the configured tenant ids.
func (p *Preferences) Tenants() []string {
	out := make([]string, 0, len(p.tenants))
	for id := range p.tenants {
		out = append(out, id)
	}
	return out
}
