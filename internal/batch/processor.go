// Package batch runs many queries through the fallback engine as a tracked
// job with bounded concurrency.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/store"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultConcurrency is used when the processor is built with a
// non-positive limit.
const DefaultConcurrency = 3

// Runner executes one query. *fallback.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, q model.Query) model.RunResult
}

// QueryResult summarizes the outcome of one query within a job.
type QueryResult struct {
	Query       string          `json:"query" yaml:"query"`
	Kind        model.Kind      `json:"type" yaml:"type"`
	Success     bool            `json:"success" yaml:"success"`
	Provider    string          `json:"tool" yaml:"tool"`
	ResultCount int             `json:"resultCount" yaml:"result_count"`
	Failures    []model.Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Job is a batch of queries and its progress.
type Job struct {
	ID         string         `json:"id" yaml:"id"`
	Status     Status         `json:"status" yaml:"status"`
	Total      int            `json:"total" yaml:"total"`
	Succeeded  int            `json:"succeeded" yaml:"succeeded"`
	Failed     int            `json:"failed" yaml:"failed"`
	Results    []QueryResult  `json:"results" yaml:"results"`
	Records    []model.Record `json:"data" yaml:"data"`
	Errors     []string       `json:"errors,omitempty" yaml:"errors,omitempty"`
	CreatedAt  time.Time      `json:"createdAt" yaml:"created_at"`
	StartedAt  *time.Time     `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`

	queries []model.Query
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) clone() Job {
	c := *j
	c.Results = append([]QueryResult(nil), j.Results...)
	c.Records = append([]model.Record(nil), j.Records...)
	c.Errors = append([]string(nil), j.Errors...)
	c.queries = nil
	return c
}

// Processor owns the in-memory job table. Jobs are not persisted; the run
// log receives one summary per query.
type Processor struct {
	runner      Runner
	runs        store.RunLog
	concurrency int
	now         func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewProcessor creates a Processor. A nil runs disables run logging.
func NewProcessor(runner Runner, runs store.RunLog, concurrency int) *Processor {
	if runs == nil {
		runs = store.Discard{}
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Processor{
		runner:      runner,
		runs:        runs,
		concurrency: concurrency,
		now:         time.Now,
		jobs:        make(map[string]*Job),
	}
}

// Submit registers a job and runs it in the background. The job outlives
// ctx's cancellation but keeps its values.
func (p *Processor) Submit(ctx context.Context, queries []model.Query) (Job, error) {
	job, err := p.create(queries)
	if err != nil {
		return Job{}, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.execute(context.WithoutCancel(ctx), job.ID)
	}()
	return job, nil
}

// Process registers a job and runs it to completion.
func (p *Processor) Process(ctx context.Context, queries []model.Query) (Job, error) {
	job, err := p.create(queries)
	if err != nil {
		return Job{}, err
	}
	p.execute(ctx, job.ID)
	got, _ := p.Get(job.ID)
	return got, nil
}

// Wait blocks until every submitted job has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Get returns a snapshot of the job with the given id.
func (p *Processor) Get(id string) (Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.clone(), true
}

// List returns snapshots of all jobs, newest first.
func (p *Processor) List() []Job {
	p.mu.RLock()
	out := make([]Job, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, j.clone())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

func (p *Processor) create(queries []model.Query) (Job, error) {
	if len(queries) == 0 {
		return Job{}, eris.New("batch: at least one query is required")
	}
	for i, q := range queries {
		if err := q.Validate(); err != nil {
			return Job{}, eris.Wrapf(err, "batch: query %d", i)
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Total:     len(queries),
		Results:   make([]QueryResult, len(queries)),
		CreatedAt: p.now().UTC(),
		queries:   append([]model.Query(nil), queries...),
	}

	p.mu.Lock()
	p.jobs[job.ID] = job
	snap := job.clone()
	p.mu.Unlock()
	return snap, nil
}

func (p *Processor) execute(ctx context.Context, id string) {
	p.mu.Lock()
	job := p.jobs[id]
	started := p.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	queries := job.queries
	p.mu.Unlock()

	log := zap.L().With(zap.String("job_id", id))
	log.Info("batch: job started",
		zap.Int("queries", len(queries)),
		zap.Int("concurrency", p.concurrency),
	)

	runs := make([]store.Run, len(queries))
	done := make([]bool, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, q := range queries {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := p.runner.Run(gctx, q)

			run := store.NewRun(q, res, store.SourceBatch)
			run.JobID = id

			p.mu.Lock()
			job.Results[i] = QueryResult{
				Query:       q.Text,
				Kind:        q.Kind,
				Success:     res.Success,
				Provider:    res.Provider,
				ResultCount: res.Meta.ResultCount,
				Failures:    res.Failures,
			}
			if res.Success {
				job.Succeeded++
				job.Records = append(job.Records, res.Records...)
			} else {
				job.Failed++
			}
			p.mu.Unlock()

			runs[i] = run
			done[i] = true
			return nil
		})
	}
	// Workers never return errors; a failed query is counted, not fatal.
	_ = g.Wait()

	finished := make([]store.Run, 0, len(runs))
	for i, ok := range done {
		if ok {
			finished = append(finished, runs[i])
		}
	}

	var logErr error
	if len(finished) > 0 {
		logErr = p.runs.AppendRuns(context.WithoutCancel(ctx), finished)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	end := p.now().UTC()
	job.FinishedAt = &end
	job.queries = nil

	if logErr != nil {
		log.Error("batch: failed to append runs", zap.Error(logErr))
		job.Errors = append(job.Errors, logErr.Error())
	}

	switch {
	case ctx.Err() != nil && len(finished) < job.Total:
		job.Status = StatusFailed
		job.Errors = append(job.Errors, eris.Wrap(ctx.Err(), "batch: job interrupted").Error())
	case job.Succeeded == 0:
		job.Status = StatusFailed
	default:
		job.Status = StatusCompleted
	}

	log.Info("batch: job finished",
		zap.String("status", string(job.Status)),
		zap.Int("succeeded", job.Succeeded),
		zap.Int("failed", job.Failed),
		zap.Int("records", len(job.Records)),
		zap.Duration("elapsed", end.Sub(started)),
	)
}
