package router

// Resolve builds the ordered candidate list for a request. Preferences are
// taken in precedence order (explicit override, caller preference, tenant
// preference, system default) followed by every configured provider in
// fallback order. Ids that are empty or not configured are skipped, and each
// provider appears at most once.
func Resolve(explicit, callerPref, tenantPref, systemDefault ProviderID, fallbackOrder []ProviderID) []ProviderID {
	configured := make(map[ProviderID]bool, len(fallbackOrder))
	for _, id := range fallbackOrder {
		configured[id] = true
	}

	out := make([]ProviderID, 0, len(fallbackOrder))
	seen := make(map[ProviderID]bool, len(fallbackOrder))
	add := func(id ProviderID) {
		if id == "" || !configured[id] || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	add(explicit)
	add(callerPref)
	add(tenantPref)
	add(systemDefault)
	for _, id := range fallbackOrder {
		add(id)
	}
	return out
}
