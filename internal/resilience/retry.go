package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/multiscrape/internal/model"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 4.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Default: 2s.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff before jitter. Default: 32s.
	MaxDelay time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds up to JitterFraction*delay of random extra wait.
	// Default: 0.25. Negative disables jitter.
	JitterFraction float64

	// ShouldRetry optionally overrides the default transient-error check.
	// If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	// now allows test injection of time.
	now func() time.Time
}

// DefaultRetryConfig returns the retry policy used for provider calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		BaseDelay:      2 * time.Second,
		MaxDelay:       32 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Tracked runs fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Every attempt is recorded against provider. When
// all attempts fail with retryable errors the returned error is an
// *ExhaustedError. Parent context cancellation stops retries immediately.
func Tracked[T any](ctx context.Context, provider string, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, []model.Attempt, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var (
		zero     T
		attempts []model.Attempt
		lastErr  error
	)
	for n := 1; n <= cfg.MaxAttempts; n++ {
		start := cfg.now()
		val, err := fn(ctx, n)
		a := model.Attempt{
			Provider:  provider,
			Number:    n,
			StartedAt: start,
			Elapsed:   cfg.now().Sub(start),
		}
		if err == nil {
			a.Outcome = model.OutcomeSuccess
			attempts = append(attempts, a)
			return val, attempts, nil
		}
		a.Outcome = model.OutcomeFailure
		a.Error = err.Error()
		attempts = append(attempts, a)
		lastErr = err

		if ctx.Err() != nil {
			return zero, attempts, lastErr
		}
		if !shouldRetry(lastErr) {
			return zero, attempts, lastErr
		}
		if n == cfg.MaxAttempts {
			break
		}

		delay := computeBackoff(n, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(n, delay, lastErr)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempts, lastErr
		case <-timer.C:
		}
	}

	return zero, attempts, &ExhaustedError{Provider: provider, Attempts: attempts, Err: lastErr}
}

// DoVal is Tracked without the attempt history.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	val, _, err := Tracked(ctx, "", cfg, func(ctx context.Context, _ int) (T, error) {
		return fn(ctx)
	})
	return val, err
}

// Do is DoVal for functions that return only an error.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return cfg
}

// computeBackoff returns the wait after the given 1-based failed attempt:
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay) plus jitter in
// [0, delay*JitterFraction].
func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterFraction > 0 {
		delay += rand.Float64() * delay * cfg.JitterFraction
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(provider, operation string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("retrying provider call",
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
}
