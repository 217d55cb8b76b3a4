package provider

import (
	"context"
	"sync/atomic"

	"github.com/sells-group/multiscrape/internal/model"
)

// Static is an adapter that returns fixed results or a fixed error. It is
// used for dry runs and tests.
type Static struct {
	ID      string
	Results []model.RawResult
	Err     error
	// Unconfigured makes Configured report false.
	Unconfigured bool

	calls atomic.Int64
}

// Name returns the provider id.
func (s *Static) Name() string { return s.ID }

// Configured reports whether the stub is enabled.
func (s *Static) Configured() bool { return !s.Unconfigured }

// Execute returns the configured results or error.
func (s *Static) Execute(ctx context.Context, _ model.Query) ([]model.RawResult, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Results, nil
}

// Calls returns the number of Execute calls made.
func (s *Static) Calls() int { return int(s.calls.Load()) }

// Func adapts a function to the Adapter interface.
type Func struct {
	ID string
	Fn func(ctx context.Context, q model.Query) ([]model.RawResult, error)
	// Unconfigured makes Configured report false.
	Unconfigured bool
}

// Name returns the provider id.
func (f *Func) Name() string { return f.ID }

// Configured reports whether the adapter is enabled.
func (f *Func) Configured() bool { return !f.Unconfigured }

// Execute calls Fn.
func (f *Func) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	return f.Fn(ctx, q)
}
