// Package fallback runs a query across providers in priority order and
// returns the first provider's normalized results.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/normalize"
	"github.com/sells-group/multiscrape/internal/provider"
	"github.com/sells-group/multiscrape/internal/ratelimit"
	"github.com/sells-group/multiscrape/internal/resilience"
)

// DefaultCallTimeout bounds a single adapter call when neither the entry
// nor the orchestrator sets one.
const DefaultCallTimeout = 30 * time.Second

// Failure reasons recorded without an underlying error.
const (
	ReasonNoResults        = "no results found"
	ReasonBreakerOpen      = "circuit breaker open"
	ReasonDeadlineExceeded = "deadline exceeded"
	ReasonCanceled         = "canceled"
)

// ProviderConfig holds one provider's tunables. Zero values take defaults.
type ProviderConfig struct {
	Rate    ratelimit.Config
	Retry   resilience.RetryConfig
	Timeout time.Duration
}

// Entry is one provider in the priority list.
type Entry struct {
	Adapter provider.Adapter
	Config  ProviderConfig
}

type entry struct {
	name    string
	adapter provider.Adapter
	limiter *ratelimit.Limiter
	retry   resilience.RetryConfig
	timeout time.Duration
	breaker *resilience.Breaker
}

// Orchestrator tries providers one at a time in a fixed order. It is safe
// for concurrent use; the only state shared between runs is each
// provider's limiter.
type Orchestrator struct {
	entries     []*entry
	limiters    *ratelimit.Registry
	normalizer  *normalize.Normalizer
	callTimeout time.Duration
	deadline    time.Duration
	breakers    *resilience.Breakers
	recorder    Recorder
	now         func() time.Time
}

// New builds an orchestrator over entries in priority order. It returns a
// ConfigurationError when the list is empty, an id repeats, or a tunable
// is invalid.
func New(entries []Entry, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		callTimeout: DefaultCallTimeout,
		recorder:    nopRecorder{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if len(entries) == 0 {
		return nil, resilience.NewConfigurationError("providers", "at least one provider is required")
	}
	if o.callTimeout <= 0 {
		return nil, resilience.NewConfigurationError("engine.call_timeout", "must be positive")
	}
	if o.deadline < 0 {
		return nil, resilience.NewConfigurationError("engine.deadline", "must not be negative")
	}
	if o.limiters == nil {
		o.limiters = ratelimit.NewRegistry()
	}
	if o.normalizer == nil {
		o.normalizer = normalize.New(normalize.WithClock(o.now))
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Adapter == nil {
			return nil, resilience.NewConfigurationError(fmt.Sprintf("providers[%d]", i), "adapter is nil")
		}
		name := e.Adapter.Name()
		field := "providers." + name
		if name == "" {
			return nil, resilience.NewConfigurationError(fmt.Sprintf("providers[%d]", i), "provider id is empty")
		}
		if seen[name] {
			return nil, resilience.NewConfigurationError(field, "duplicate provider")
		}
		seen[name] = true

		rate := e.Config.Rate
		if rate == (ratelimit.Config{}) {
			rate = ratelimit.DefaultConfig()
		}
		limiter, err := o.limiters.Get(name, rate)
		if err != nil {
			return nil, err
		}

		if err := resilience.ValidateRetry(field+".retry", e.Config.Retry); err != nil {
			return nil, err
		}
		retry := e.Config.Retry
		if retry.OnRetry == nil {
			retry.OnRetry = resilience.RetryLogger(name, "execute")
		}

		timeout := e.Config.Timeout
		if timeout < 0 {
			return nil, resilience.NewConfigurationError(field+".timeout", "must not be negative")
		}
		if timeout == 0 {
			timeout = o.callTimeout
		}

		ent := &entry{
			name:    name,
			adapter: e.Adapter,
			limiter: limiter,
			retry:   retry,
			timeout: timeout,
		}
		if o.breakers != nil {
			ent.breaker = o.breakers.Get(name)
		}
		o.entries = append(o.entries, ent)
	}

	return o, nil
}

// Providers returns the provider ids in priority order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, len(o.entries))
	for i, e := range o.entries {
		names[i] = e.name
	}
	return names
}

// Run executes q against each configured provider in order until one
// yields at least one record. It never returns an error: every provider
// failure is reported in the result's Failures.
func (o *Orchestrator) Run(ctx context.Context, q model.Query) model.RunResult {
	start := o.now()
	res := model.RunResult{
		Provider: model.NoProvider,
		Records:  []model.Record{},
		Meta:     model.Meta{Query: q.Text, Timestamp: start.UTC()},
	}

	if err := q.Validate(); err != nil {
		res.Failures = []model.Failure{{Provider: model.NoProvider, Reason: err.Error()}}
		return o.finish(res, start)
	}

	if o.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	zap.L().Info("fallback: run started",
		zap.String("query", q.Text),
		zap.String("kind", string(q.Kind)),
		zap.Strings("providers", o.Providers()),
	)

	for _, e := range o.entries {
		if !e.adapter.Configured() {
			zap.L().Debug("fallback: provider not configured, skipping", zap.String("provider", e.name))
			o.recorder.ObserveProvider(e.name, OutcomeSkipped, 0)
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, model.Failure{Provider: model.NoProvider, Reason: ctxReason(err)})
			break
		}
		if e.breaker != nil {
			if err := e.breaker.Allow(); err != nil {
				zap.L().Warn("fallback: circuit breaker open, skipping", zap.String("provider", e.name))
				res.Failures = append(res.Failures, model.Failure{Provider: e.name, Reason: ReasonBreakerOpen})
				o.recorder.ObserveProvider(e.name, OutcomeBreakerOpen, 0)
				continue
			}
		}

		pStart := o.now()
		records, attempts, err := o.try(ctx, e, q)
		elapsed := o.now().Sub(pStart)
		res.Attempts = append(res.Attempts, attempts...)

		if err != nil {
			if e.breaker != nil && ctx.Err() == nil {
				e.breaker.Record(err)
			}
			reason := failureReason(err)
			zap.L().Warn("fallback: provider failed",
				zap.String("provider", e.name),
				zap.Int("attempts", len(attempts)),
				zap.String("reason", reason),
			)
			res.Failures = append(res.Failures, model.Failure{Provider: e.name, Reason: reason})
			o.recorder.ObserveProvider(e.name, OutcomeError, elapsed)

			if cerr := ctx.Err(); cerr != nil {
				res.Failures = append(res.Failures, model.Failure{Provider: model.NoProvider, Reason: ctxReason(cerr)})
				break
			}
			continue
		}
		if e.breaker != nil {
			e.breaker.Record(nil)
		}

		if len(records) == 0 {
			zap.L().Info("fallback: provider returned no results", zap.String("provider", e.name))
			res.Failures = append(res.Failures, model.Failure{Provider: e.name, Reason: ReasonNoResults})
			o.recorder.ObserveProvider(e.name, OutcomeEmpty, elapsed)
			continue
		}

		o.recorder.ObserveProvider(e.name, OutcomeSuccess, elapsed)
		res.Success = true
		res.Provider = e.name
		res.Records = records
		res.Failures = nil
		break
	}

	res = o.finish(res, start)
	if res.Success {
		zap.L().Info("fallback: run succeeded",
			zap.String("provider", res.Provider),
			zap.Int("results", res.Meta.ResultCount),
			zap.Int64("elapsed_ms", res.Meta.ElapsedMs),
		)
	} else {
		zap.L().Error("fallback: all providers failed",
			zap.String("query", q.Text),
			zap.Int("failures", len(res.Failures)),
		)
	}
	return res
}

func (o *Orchestrator) finish(res model.RunResult, start time.Time) model.RunResult {
	if !res.Success && res.Failures == nil {
		res.Failures = []model.Failure{}
	}
	res.Meta.ElapsedMs = o.now().Sub(start).Milliseconds()
	res.Meta.ResultCount = len(res.Records)
	o.recorder.ObserveRun(res)
	return res
}

// try runs one provider's full retry cycle inside a single limiter slot
// and normalizes the results.
func (o *Orchestrator) try(ctx context.Context, e *entry, q model.Query) ([]model.Record, []model.Attempt, error) {
	var attempts []model.Attempt
	raws, err := ratelimit.Do(ctx, e.limiter, func(ctx context.Context) ([]model.RawResult, error) {
		raws, atts, err := resilience.Tracked(ctx, e.name, e.retry, func(ctx context.Context, _ int) ([]model.RawResult, error) {
			return o.call(ctx, e, q)
		})
		attempts = atts
		return raws, err
	})
	for _, a := range attempts {
		o.recorder.ObserveAttempt(a)
	}
	if err != nil {
		return nil, attempts, err
	}
	return o.normalizer.Normalize(e.name, raws, q.Kind), attempts, nil
}

type callResult struct {
	raws []model.RawResult
	err  error
}

// call makes one adapter call bounded by the entry's timeout. The call
// runs in its own goroutine so an adapter that ignores ctx still cannot
// hold the run past the timeout.
func (o *Orchestrator) call(ctx context.Context, e *entry, q model.Query) ([]model.RawResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		raws, err := e.adapter.Execute(callCtx, q)
		done <- callResult{raws: raws, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, timeoutErr(e)
		}
		return r.raws, classify(e.name, r.err)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timeoutErr(e)
	}
}

func timeoutErr(e *entry) error {
	return resilience.NewTransportError(e.name, 0, eris.Errorf("call timed out after %s", e.timeout))
}

// classify makes every adapter failure retryable unless it is already
// typed or is a context error.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var (
		te *resilience.TransportError
		pe *resilience.ParseError
		ce *resilience.ConfigurationError
	)
	if errors.As(err, &te) || errors.As(err, &pe) || errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return resilience.NewTransportError(provider, 0, err)
}

func failureReason(err error) string {
	var ex *resilience.ExhaustedError
	if errors.As(err, &ex) && ex.Err != nil {
		return ex.Err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	return err.Error()
}

func ctxReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	return ReasonCanceled
}
