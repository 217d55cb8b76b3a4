package fallback

import (
	"time"

	"github.com/sells-group/multiscrape/internal/normalize"
	"github.com/sells-group/multiscrape/internal/ratelimit"
	"github.com/sells-group/multiscrape/internal/resilience"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLimiters shares a limiter registry across orchestrators so each
// provider has one budget per process.
func WithLimiters(r *ratelimit.Registry) Option {
	return func(o *Orchestrator) { o.limiters = r }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(o *Orchestrator) { o.normalizer = n }
}

// WithCallTimeout sets the per-call timeout for entries that do not set
// their own.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.callTimeout = d }
}

// WithDeadline bounds a whole run. Zero disables the deadline.
func WithDeadline(d time.Duration) Option {
	return func(o *Orchestrator) { o.deadline = d }
}

// WithBreakers enables per-provider circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// WithRecorder reports provider and run outcomes, typically to metrics.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock sets the time source for run timestamps and elapsed times.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}
