// Package store persists run summaries. Records are never stored; only
// the outcome of each run.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/multiscrape/internal/model"
)

// Run sources.
const (
	SourceCLI   = "cli"
	SourceAPI   = "api"
	SourceBatch = "batch"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = eris.New("store: run not found")

// Run is the persisted summary of one fallback run.
type Run struct {
	ID          string          `json:"id" yaml:"id"`
	Query       string          `json:"query" yaml:"query"`
	Kind        model.Kind      `json:"type" yaml:"type"`
	Success     bool            `json:"success" yaml:"success"`
	Provider    string          `json:"tool" yaml:"tool"`
	ResultCount int             `json:"resultCount" yaml:"result_count"`
	ElapsedMs   int64           `json:"elapsedMs" yaml:"elapsed_ms"`
	Failures    []model.Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Source      string          `json:"source" yaml:"source"`
	JobID       string          `json:"jobId,omitempty" yaml:"job_id,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"created_at"`
}

// NewRun summarizes res for q.
func NewRun(q model.Query, res model.RunResult, source string) Run {
	return Run{
		Query:       q.Text,
		Kind:        q.Kind,
		Success:     res.Success,
		Provider:    res.Provider,
		ResultCount: res.Meta.ResultCount,
		ElapsedMs:   res.Meta.ElapsedMs,
		Failures:    res.Failures,
		Source:      source,
		CreatedAt:   res.Meta.Timestamp,
	}
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Provider     string    `json:"provider,omitempty"`
	Success      *bool     `json:"success,omitempty"`
	Source       string    `json:"source,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// RunLog is the append-only history of fallback runs.
type RunLog interface {
	// AppendRun stores r, assigning ID and CreatedAt when they are empty.
	AppendRun(ctx context.Context, r *Run) error
	// AppendRuns stores a batch of runs.
	AppendRuns(ctx context.Context, runs []Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the run log for driver. "none" yields a Discard log.
func Open(ctx context.Context, driver, dsn string) (RunLog, error) {
	switch driver {
	case "sqlite", "":
		if dsn == "" {
			dsn = "multiscrape.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	case "none":
		return Discard{}, nil
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
}

func prepare(r *Run) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.CreatedAt = r.CreatedAt.UTC()
}

// Discard is a RunLog that stores nothing.
type Discard struct{}

func (Discard) AppendRun(_ context.Context, r *Run) error {
	prepare(r)
	return nil
}
func (Discard) AppendRuns(context.Context, []Run) error             { return nil }
func (Discard) GetRun(context.Context, string) (*Run, error)        { return nil, ErrNotFound }
func (Discard) ListRuns(context.Context, RunFilter) ([]Run, error) { return nil, nil }
func (Discard) Migrate(context.Context) error                       { return nil }
func (Discard) Close() error                                        { return nil }
