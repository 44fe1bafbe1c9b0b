package router

import (
	"slices"
	"testing"
)

var order = []ProviderID{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderLocal, ProviderFallback}

func TestResolve(t *testing.T) {
	tests := []struct {
		name                                string
		explicit, caller, tenant, sysDefault ProviderID
		order                               []ProviderID
		want                                []ProviderID
	}{
		{
			name:       "no preferences uses default then fallback order",
			sysDefault: ProviderOpenAI,
			order:      order,
			want:       order,
		},
		{
			name:       "explicit first",
			explicit:   ProviderGemini,
			sysDefault: ProviderOpenAI,
			order:      order,
			want:       []ProviderID{ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderLocal, ProviderFallback},
		},
		{
			name:       "full precedence chain",
			explicit:   ProviderLocal,
			caller:     ProviderGemini,
			tenant:     ProviderAnthropic,
			sysDefault: ProviderOpenAI,
			order:      order,
			want:       []ProviderID{ProviderLocal, ProviderGemini, ProviderAnthropic, ProviderOpenAI, ProviderFallback},
		},
		{
			name:       "unknown explicit is ignored",
			explicit:   "nope",
			tenant:     ProviderAnthropic,
			sysDefault: ProviderOpenAI,
			order:      order,
			want:       []ProviderID{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderLocal, ProviderFallback},
		},
		{
			name:       "duplicates collapse",
			explicit:   ProviderAnthropic,
			caller:     ProviderAnthropic,
			tenant:     ProviderAnthropic,
			sysDefault: ProviderAnthropic,
			order:      []ProviderID{ProviderAnthropic, ProviderFallback},
			want:       []ProviderID{ProviderAnthropic, ProviderFallback},
		},
		{
			name:       "unconfigured default is skipped",
			sysDefault: ProviderOpenAI,
			order:      []ProviderID{ProviderFallback},
			want:       []ProviderID{ProviderFallback},
		},
		{
			name:  "nothing configured",
			order: nil,
			want:  []ProviderID{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.explicit, tt.caller, tt.tenant, tt.sysDefault, tt.order)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolve_CoversEveryConfiguredProviderOnce(t *testing.T) {
	got := Resolve(ProviderFallback, ProviderGemini, ProviderGemini, ProviderLocal, order)
	if len(got) != len(order) {
		t.Fatalf("len = %d, want %d", len(got), len(order))
	}
	seen := map[ProviderID]bool{}
	for _, id := range got {
		if seen[id] {
			t.Errorf("duplicate %q", id)
		}
		seen[id] = true
	}
	for _, id := range order {
		if !seen[id] {
			t.Errorf("missing %q", id)
		}
	}
}
