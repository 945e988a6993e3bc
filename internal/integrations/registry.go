package integrations

// strategyBySlug is the closed set of integrations homepage knows how to
// drive. A service whose integration column is not here gets StrategyNone.
var strategyBySlug = map[string]Strategy{
	"basic":      StrategyBasic,
	"ombi":       StrategyTokenInjection,
	"jellyfin":   StrategyTokenInjection,
	"overseerr":  StrategyCookieProxy,
	"mattermost": StrategyCookieProxy,
	"nextcloud":  StrategyCredentialDisplay,
	"plex":       StrategyExternalPin,
	"jitsi":      StrategyNone,
}

// StrategyOf resolves the strategy for an integration slug regardless of
// whether an adapter is configured.
func StrategyOf(slug string) Strategy {
	if s, ok := strategyBySlug[slug]; ok {
		return s
	}
	return StrategyNone
}

// Slugs returns every known integration slug (stable order not guaranteed).
func Slugs() []string {
	out := make([]string, 0, len(strategyBySlug))
	for s := range strategyBySlug {
		out = append(out, s)
	}
	return out
}

// Registry holds the adapters that were actually configured at startup.
// It is built once and never mutated afterwards, so it is safe to share.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the configured adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			m[a.Slug()] = a
		}
	}
	return &Registry{adapters: m}
}

// AdapterFor returns the configured adapter for a slug.
func (r *Registry) AdapterFor(slug string) (Adapter, bool) {
	a, ok := r.adapters[slug]
	return a, ok
}

// Available reports whether the slug has a configured adapter behind it.
func (r *Registry) Available(slug string) bool {
	_, ok := r.adapters[slug]
	return ok
}

// StrategyFor resolves the effective strategy for a service's integration
// slug. Slugs that manage accounts but lack a configured adapter degrade to
// the strategy itself being reported; callers must still check Available
// before driving the adapter.
func (r *Registry) StrategyFor(slug string) Strategy {
	return StrategyOf(slug)
}

// CapabilitiesOf is CapabilitiesFor keyed by slug, with availability folded
// in: an unconfigured adapter cannot auto-login or manage users.
func (r *Registry) CapabilitiesOf(slug string) Capabilities {
	c := CapabilitiesFor(StrategyOf(slug))
	if needsAdapter(StrategyOf(slug)) && !r.Available(slug) {
		c.AutoLogin = false
		c.ManagesUsers = false
	}
	return c
}

// Slugs lists the adapters that are actually configured.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	return out
}

func needsAdapter(s Strategy) bool {
	switch s {
	case StrategyTokenInjection, StrategyCookieProxy, StrategyCredentialDisplay, StrategyExternalPin:
		return true
	}
	return false
}
