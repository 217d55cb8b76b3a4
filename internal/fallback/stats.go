package fallback

import "github.com/sells-group/multiscrape/internal/ratelimit"

// ProviderStats is a point-in-time view of one provider.
type ProviderStats struct {
	Configured bool `json:"configured"`
	ratelimit.Stats
	Breaker string `json:"breaker,omitempty"`
}

// Stats returns the configured flag, limiter counters, and breaker state
// of every provider.
func (o *Orchestrator) Stats() map[string]ProviderStats {
	out := make(map[string]ProviderStats, len(o.entries))
	for _, e := range o.entries {
		ps := ProviderStats{
			Configured: e.adapter.Configured(),
			Stats:      e.limiter.Stats(),
		}
		if e.breaker != nil {
			ps.Breaker = e.breaker.State().String()
		}
		out[e.name] = ps
	}
	return out
}
