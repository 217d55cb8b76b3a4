// Package ratelimit bounds the call rate and concurrency of one provider
// using a fixed-window reservoir, a running-slot cap, and a FIFO queue.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/multiscrape/internal/resilience"
)

// Config holds one provider's published limits.
type Config struct {
	// WindowSize is the number of calls admitted per window.
	WindowSize int
	// Window is the reservoir refill period.
	Window time.Duration
	// MaxConcurrent caps calls running at once.
	MaxConcurrent int
	// MinTime is the minimum spacing between call starts. Zero disables it.
	MinTime time.Duration
}

// DefaultConfig returns a conservative budget: 10 calls per minute, one at
// a time.
func DefaultConfig() Config {
	return Config{
		WindowSize:    10,
		Window:        time.Minute,
		MaxConcurrent: 1,
	}
}

// Validate rejects budgets that could never admit a call.
func (c Config) Validate(field string) error {
	switch {
	case c.WindowSize <= 0:
		return resilience.NewConfigurationError(field+".window_size", "must be positive")
	case c.Window <= 0:
		return resilience.NewConfigurationError(field+".window", "must be positive")
	case c.MaxConcurrent <= 0:
		return resilience.NewConfigurationError(field+".max_concurrent", "must be positive")
	case c.MinTime < 0:
		return resilience.NewConfigurationError(field+".min_time", "must not be negative")
	}
	return nil
}

// Stats is a point-in-time view of a limiter.
type Stats struct {
	Running   int `json:"running"`
	Queued    int `json:"queued"`
	Reservoir int `json:"reservoir"`
}

type waiter struct {
	ready chan struct{}
	// delay is the start spacing assigned at admission.
	delay time.Duration
}

// Limiter admits calls to one provider. Calls are never rejected for being
// over budget; they wait in arrival order until a reservoir slot and a
// running slot are both free.
type Limiter struct {
	name    string
	cfg     Config
	spacing *rate.Limiter

	mu          sync.Mutex
	reservoir   int
	running     int
	queue       []*waiter
	windowStart time.Time
	refill      *time.Timer
}

// New creates a limiter with a full reservoir.
func New(name string, cfg Config) (*Limiter, error) {
	if err := cfg.Validate("ratelimit." + name); err != nil {
		return nil, err
	}
	l := &Limiter{
		name:        name,
		cfg:         cfg,
		reservoir:   cfg.WindowSize,
		windowStart: time.Now(),
	}
	if cfg.MinTime > 0 {
		l.spacing = rate.NewLimiter(rate.Every(cfg.MinTime), 1)
	}
	return l, nil
}

// Name returns the provider id this limiter guards.
func (l *Limiter) Name() string { return l.name }

// Config returns the limiter's budget.
func (l *Limiter) Config() Config { return l.cfg }

// Schedule runs fn once it is admitted. It returns ctx.Err() without
// running fn if ctx ends while the call is queued.
func (l *Limiter) Schedule(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Schedule for functions that return a value.
func Do[T any](ctx context.Context, l *Limiter, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := l.acquire(ctx); err != nil {
		return zero, err
	}
	defer l.release()
	return fn(ctx)
}

// Stats returns the current running, queued, and reservoir counts.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillIfDue(time.Now())
	return Stats{
		Running:   l.running,
		Queued:    len(l.queue),
		Reservoir: l.reservoir,
	}
}

func (l *Limiter) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w := &waiter{ready: make(chan struct{})}

	l.mu.Lock()
	l.queue = append(l.queue, w)
	l.dispatch()
	l.mu.Unlock()

	select {
	case <-w.ready:
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// Admitted while cancelling; give the running slot back.
			l.running--
			l.dispatch()
		default:
			l.remove(w)
		}
		l.mu.Unlock()
		return ctx.Err()
	}

	if w.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(w.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.release()
		return ctx.Err()
	}
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running--
	l.dispatch()
}

// dispatch admits queued waiters from the head while both budgets allow.
// Must be called with l.mu held.
func (l *Limiter) dispatch() {
	now := time.Now()
	l.refillIfDue(now)

	for len(l.queue) > 0 && l.reservoir > 0 && l.running < l.cfg.MaxConcurrent {
		w := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.reservoir--
		l.running++
		if l.spacing != nil {
			w.delay = l.spacing.ReserveN(now, 1).DelayFrom(now)
		}
		close(w.ready)
	}

	if len(l.queue) > 0 && l.reservoir == 0 && l.refill == nil {
		wait := l.windowStart.Add(l.cfg.Window).Sub(now)
		l.refill = time.AfterFunc(wait, l.onRefill)
	}
}

func (l *Limiter) onRefill() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill = nil
	l.dispatch()
}

// refillIfDue resets the reservoir once per elapsed window, keeping window
// boundaries aligned to the first window start.
func (l *Limiter) refillIfDue(now time.Time) {
	elapsed := now.Sub(l.windowStart)
	if elapsed < l.cfg.Window {
		return
	}
	windows := elapsed / l.cfg.Window
	l.windowStart = l.windowStart.Add(windows * l.cfg.Window)
	l.reservoir = l.cfg.WindowSize
}

func (l *Limiter) remove(w *waiter) {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}
