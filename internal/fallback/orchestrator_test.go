package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/provider"
	"github.com/sells-group/multiscrape/internal/ratelimit"
	"github.com/sells-group/multiscrape/internal/resilience"
)

func fastConfig(attempts int) ProviderConfig {
	return ProviderConfig{
		Rate: ratelimit.Config{WindowSize: 1000, Window: time.Second, MaxConcurrent: 10},
		Retry: resilience.RetryConfig{
			MaxAttempts:    attempts,
			BaseDelay:      time.Millisecond,
			MaxDelay:       2 * time.Millisecond,
			JitterFraction: -1,
		},
	}
}

func entries(attempts int, adapters ...provider.Adapter) []Entry {
	out := make([]Entry, len(adapters))
	for i, a := range adapters {
		out[i] = Entry{Adapter: a, Config: fastConfig(attempts)}
	}
	return out
}

func results(n int) []model.RawResult {
	out := make([]model.RawResult, n)
	for i := range out {
		out[i] = model.RawResult{
			"title": "1969 Camaro SS",
			"url":   "https://classiccars.example.com/listing/" + string(rune('a'+i)),
		}
	}
	return out
}

func transport(id string) error {
	return resilience.NewTransportError(id, 503, errors.New("service unavailable"))
}

func newOrchestrator(t *testing.T, es []Entry, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(es, opts...)
	require.NoError(t, err)
	return o
}

func TestRun_FirstSuccessWins(t *testing.T) {
	a := &provider.Static{ID: "a", Err: transport("a")}
	b := &provider.Static{ID: "b", Results: results(2)}
	c := &provider.Static{ID: "c", Results: results(5)}
	o := newOrchestrator(t, entries(1, a, b, c))

	res := o.Run(context.Background(), model.NewQuery("1969 Camaro", model.KindVehicle))

	assert.True(t, res.Success)
	assert.Equal(t, "b", res.Provider)
	assert.Len(t, res.Records, 2)
	assert.Nil(t, res.Failures)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
	assert.Zero(t, c.Calls())
	assert.Equal(t, 2, res.Meta.ResultCount)
	assert.Equal(t, "1969 Camaro", res.Meta.Query)
	for _, r := range res.Records {
		assert.Equal(t, "b", r.Provider)
		assert.Equal(t, model.KindVehicle, r.Kind)
	}
}

func TestRun_AllFail(t *testing.T) {
	a := &provider.Static{ID: "a", Err: transport("a")}
	b := &provider.Static{ID: "b", Results: []model.RawResult{}}
	c := &provider.Static{ID: "c", Err: resilience.NewParseError("c", errors.New("bad json"))}
	o := newOrchestrator(t, entries(2, a, b, c))

	res := o.Run(context.Background(), model.NewQuery("1969 Camaro", model.KindVehicle))

	assert.False(t, res.Success)
	assert.Equal(t, model.NoProvider, res.Provider)
	assert.NotNil(t, res.Records)
	assert.Empty(t, res.Records)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, "a", res.Failures[0].Provider)
	assert.Contains(t, res.Failures[0].Reason, "service unavailable")
	assert.Equal(t, model.Failure{Provider: "b", Reason: ReasonNoResults}, res.Failures[1])
	assert.Equal(t, "c", res.Failures[2].Provider)
	assert.Contains(t, res.Failures[2].Reason, "bad json")
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, 2, c.Calls())
}

func TestRun_UnconfiguredSkipped(t *testing.T) {
	a := &provider.Static{ID: "a", Unconfigured: true, Results: results(1)}
	b := &provider.Static{ID: "b", Err: transport("b")}
	o := newOrchestrator(t, entries(1, a, b))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.False(t, res.Success)
	assert.Zero(t, a.Calls())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].Provider)
	assert.Empty(t, res.AttemptsFor("a"))
}

func TestRun_NoneConfigured(t *testing.T) {
	a := &provider.Static{ID: "a", Unconfigured: true}
	o := newOrchestrator(t, entries(1, a))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.False(t, res.Success)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Attempts)
}

func TestRun_FailuresKeyPresentOnlyOnFailure(t *testing.T) {
	none := newOrchestrator(t, entries(1, &provider.Static{ID: "a", Unconfigured: true}))
	body, err := json.Marshal(none.Run(context.Background(), model.NewQuery("q", model.KindGeneral)))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"success":false`)
	assert.Contains(t, string(body), `"failures":[]`)

	ok := newOrchestrator(t, entries(1, &provider.Static{ID: "a", Results: results(1)}))
	body, err = json.Marshal(ok.Run(context.Background(), model.NewQuery("q", model.KindGeneral)))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"success":true`)
	assert.NotContains(t, string(body), `"failures"`)
}

func TestRun_RetriesUpToMaxAttempts(t *testing.T) {
	a := &provider.Static{ID: "a", Err: transport("a")}
	o := newOrchestrator(t, entries(4, a))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.False(t, res.Success)
	assert.Equal(t, 4, a.Calls())
	attempts := res.AttemptsFor("a")
	require.Len(t, attempts, 4)
	for i, at := range attempts {
		assert.Equal(t, i+1, at.Number)
		assert.Equal(t, model.OutcomeFailure, at.Outcome)
	}
}

func TestRun_RetryThenSuccess(t *testing.T) {
	var calls atomic.Int32
	a := &provider.Func{ID: "a", Fn: func(ctx context.Context, q model.Query) ([]model.RawResult, error) {
		if calls.Add(1) < 3 {
			return nil, transport("a")
		}
		return results(1), nil
	}}
	o := newOrchestrator(t, entries(4, a))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	require.True(t, res.Success)
	assert.Equal(t, int32(3), calls.Load())
	attempts := res.AttemptsFor("a")
	require.Len(t, attempts, 3)
	assert.Equal(t, model.OutcomeSuccess, attempts[2].Outcome)
}

func TestRun_UntypedErrorsAreRetried(t *testing.T) {
	a := &provider.Static{ID: "a", Err: errors.New("connection reset")}
	o := newOrchestrator(t, entries(3, a))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, 3, a.Calls())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a: transport error: connection reset", res.Failures[0].Reason)
}

func TestRun_ConfigurationErrorNotRetried(t *testing.T) {
	a := &provider.Static{ID: "a", Err: resilience.NewConfigurationError("providers.a.api_key", "missing")}
	o := newOrchestrator(t, entries(3, a))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, 1, a.Calls())
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Reason, "missing")
}

func TestRun_ClassicCarScenario(t *testing.T) {
	a := &provider.Static{ID: "a", Unconfigured: true}
	b := &provider.Static{ID: "b", Results: []model.RawResult{}}
	c := &provider.Static{ID: "c", Results: results(3)}
	o := newOrchestrator(t, entries(3, a, b, c))

	res := o.Run(context.Background(), model.NewQuery("1969 Camaro", model.KindVehicle))

	assert.True(t, res.Success)
	assert.Equal(t, "c", res.Provider)
	assert.Len(t, res.Records, 3)
	assert.Nil(t, res.Failures)
	assert.Len(t, res.AttemptsFor("b"), 1)
	assert.Zero(t, a.Calls())
}

func TestRun_EveryProviderDown(t *testing.T) {
	var ps []provider.Adapter
	for _, id := range []string{"a", "b", "c"} {
		ps = append(ps, &provider.Static{ID: id, Err: transport(id)})
	}
	o := newOrchestrator(t, entries(2, ps...))

	res := o.Run(context.Background(), model.NewQuery("1969 Camaro", model.KindVehicle))

	assert.False(t, res.Success)
	require.Len(t, res.Failures, 3)
	for _, id := range []string{"a", "b", "c"} {
		assert.Len(t, res.AttemptsFor(id), 2, id)
	}
}

func TestRun_DropsRecordsWithoutTitleOrURL(t *testing.T) {
	a := &provider.Static{ID: "a", Results: []model.RawResult{{"score": 0.4}}}
	b := &provider.Static{ID: "b", Results: results(1)}
	o := newOrchestrator(t, entries(1, a, b))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, "b", res.Provider)
	assert.Equal(t, []model.Failure(nil), res.Failures)
}

func TestRun_InvalidQuery(t *testing.T) {
	a := &provider.Static{ID: "a", Results: results(1)}
	o := newOrchestrator(t, entries(1, a))

	res := o.Run(context.Background(), model.NewQuery("   ", model.KindGeneral))

	assert.False(t, res.Success)
	assert.Zero(t, a.Calls())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, model.NoProvider, res.Failures[0].Provider)
	assert.Contains(t, res.Failures[0].Reason, "query text is required")
}

func TestRun_CallTimeout(t *testing.T) {
	slow := &provider.Func{ID: "slow", Fn: func(ctx context.Context, q model.Query) ([]model.RawResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := &provider.Static{ID: "fast", Results: results(1)}
	es := entries(2, slow, fast)
	es[0].Config.Timeout = 20 * time.Millisecond
	o := newOrchestrator(t, es)

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.True(t, res.Success)
	assert.Equal(t, "fast", res.Provider)
	attempts := res.AttemptsFor("slow")
	require.Len(t, attempts, 2)
	assert.Contains(t, attempts[0].Error, "call timed out after 20ms")
}

func TestRun_Deadline(t *testing.T) {
	slow := &provider.Func{ID: "slow", Fn: func(ctx context.Context, q model.Query) ([]model.RawResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	next := &provider.Static{ID: "next", Results: results(1)}
	o := newOrchestrator(t, entries(3, slow, next), WithDeadline(30*time.Millisecond))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.False(t, res.Success)
	assert.Zero(t, next.Calls())
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "slow", res.Failures[0].Provider)
	assert.Equal(t, model.Failure{Provider: model.NoProvider, Reason: ReasonDeadlineExceeded}, res.Failures[1])
}

func TestRun_CanceledContext(t *testing.T) {
	a := &provider.Static{ID: "a", Results: results(1)}
	o := newOrchestrator(t, entries(1, a))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Run(ctx, model.NewQuery("q", model.KindGeneral))

	assert.False(t, res.Success)
	assert.Zero(t, a.Calls())
	assert.Equal(t, []model.Failure{{Provider: model.NoProvider, Reason: ReasonCanceled}}, res.Failures)
}

func TestRun_BreakerOpens(t *testing.T) {
	a := &provider.Static{ID: "a", Err: transport("a")}
	b := &provider.Static{ID: "b", Results: results(1)}
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	o := newOrchestrator(t, entries(1, a, b), WithBreakers(breakers))

	first := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))
	assert.True(t, first.Success)
	assert.Equal(t, 1, a.Calls())

	second := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))
	assert.True(t, second.Success)
	assert.Equal(t, 1, a.Calls(), "open breaker must skip the provider")
	assert.Equal(t, "open", o.Stats()["a"].Breaker)
	assert.Equal(t, "closed", o.Stats()["b"].Breaker)
}

func TestRun_BreakerOpenRecordedAsFailure(t *testing.T) {
	a := &provider.Static{ID: "a", Err: transport("a")}
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	o := newOrchestrator(t, entries(1, a), WithBreakers(breakers))

	o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))
	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, []model.Failure{{Provider: "a", Reason: ReasonBreakerOpen}}, res.Failures)
}

func TestRun_FixedClock(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a := &provider.Static{ID: "a", Results: results(2)}
	o := newOrchestrator(t, entries(1, a), WithClock(func() time.Time { return at }))

	res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, at, res.Meta.Timestamp)
	assert.Zero(t, res.Meta.ElapsedMs)
	for _, r := range res.Records {
		assert.Equal(t, at, r.ScrapedAt)
	}
}

func TestRun_ConcurrentRunsShareLimiter(t *testing.T) {
	var running, peak atomic.Int32
	a := &provider.Func{ID: "a", Fn: func(ctx context.Context, q model.Query) ([]model.RawResult, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return results(1), nil
	}}
	es := entries(1, a)
	es[0].Config.Rate.MaxConcurrent = 2
	o := newOrchestrator(t, es)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestNew_Validation(t *testing.T) {
	ok := &provider.Static{ID: "a"}
	tests := []struct {
		name    string
		entries []Entry
		opts    []Option
		field   string
	}{
		{name: "empty", entries: nil, field: "providers"},
		{name: "nil adapter", entries: []Entry{{}}, field: "providers[0]"},
		{name: "empty id", entries: []Entry{{Adapter: &provider.Static{}}}, field: "providers[0]"},
		{name: "duplicate", entries: entries(1, ok, &provider.Static{ID: "a"}), field: "providers.a"},
		{
			name:    "bad retry",
			entries: []Entry{{Adapter: ok, Config: ProviderConfig{Retry: resilience.RetryConfig{MaxAttempts: -1}}}},
			field:   "providers.a.retry.max_attempts",
		},
		{
			name:    "bad rate",
			entries: []Entry{{Adapter: ok, Config: ProviderConfig{Rate: ratelimit.Config{WindowSize: 5}}}},
			field:   "ratelimit.a.window",
		},
		{
			name:    "negative timeout",
			entries: []Entry{{Adapter: ok, Config: ProviderConfig{Timeout: -time.Second}}},
			field:   "providers.a.timeout",
		},
		{name: "bad call timeout", entries: entries(1, ok), opts: []Option{WithCallTimeout(0)}, field: "engine.call_timeout"},
		{name: "negative deadline", entries: entries(1, ok), opts: []Option{WithDeadline(-1)}, field: "engine.deadline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.entries, tt.opts...)
			require.Error(t, err)
			var ce *resilience.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestProvidersAndStats(t *testing.T) {
	a := &provider.Static{ID: "a", Unconfigured: true}
	b := &provider.Static{ID: "b"}
	o := newOrchestrator(t, []Entry{{Adapter: a}, {Adapter: b, Config: fastConfig(1)}})

	assert.Equal(t, []string{"a", "b"}, o.Providers())

	stats := o.Stats()
	require.Len(t, stats, 2)
	assert.False(t, stats["a"].Configured)
	assert.Equal(t, ratelimit.DefaultConfig().WindowSize, stats["a"].Reservoir)
	assert.True(t, stats["b"].Configured)
	assert.Equal(t, 1000, stats["b"].Reservoir)
	assert.Empty(t, stats["b"].Breaker)
}

func TestWithLimiters_SharedAcrossOrchestrators(t *testing.T) {
	reg := ratelimit.NewRegistry()
	a := &provider.Static{ID: "a", Results: results(1)}
	o1 := newOrchestrator(t, entries(1, a), WithLimiters(reg))
	o2 := newOrchestrator(t, entries(1, a), WithLimiters(reg))

	o1.Run(context.Background(), model.NewQuery("q", model.KindGeneral))
	o2.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, 998, reg.Stats()["a"].Reservoir)
}

type countingRecorder struct {
	mu       sync.Mutex
	attempts int
	outcomes []string
	runs     int
}

func (r *countingRecorder) ObserveAttempt(model.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
}

func (r *countingRecorder) ObserveProvider(p, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, p+":"+outcome)
}

func (r *countingRecorder) ObserveRun(model.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func TestWithRecorder(t *testing.T) {
	rec := &countingRecorder{}
	a := &provider.Static{ID: "a", Unconfigured: true}
	b := &provider.Static{ID: "b", Err: transport("b")}
	c := &provider.Static{ID: "c", Results: []model.RawResult{}}
	d := &provider.Static{ID: "d", Results: results(1)}
	o := newOrchestrator(t, entries(2, a, b, c, d), WithRecorder(rec))

	o.Run(context.Background(), model.NewQuery("q", model.KindGeneral))

	assert.Equal(t, 4, rec.attempts)
	assert.Equal(t, []string{"a:skipped", "b:error", "c:empty", "d:success"}, rec.outcomes)
	assert.Equal(t, 1, rec.runs)
}
