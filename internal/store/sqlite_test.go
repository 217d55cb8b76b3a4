package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/multiscrape/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRun(query string, success bool, provider string, at time.Time) Run {
	r := Run{
		Query:       query,
		Kind:        model.KindVehicle,
		Success:     success,
		Provider:    provider,
		ResultCount: 3,
		ElapsedMs:   1250,
		Source:      SourceCLI,
		CreatedAt:   at,
	}
	if !success {
		r.Provider = model.NoProvider
		r.ResultCount = 0
		r.Failures = []model.Failure{
			{Provider: "firecrawl", Reason: "no results found"},
			{Provider: "brave", Reason: "brave: transport error (status 429): rate limited"},
		}
	}
	return r
}

func TestSQLite_AppendAndGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	r := sampleRun("1969 Camaro", false, "", at)
	require.NoError(t, s.AppendRun(ctx, &r))
	assert.NotEmpty(t, r.ID)

	got, err := s.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "1969 Camaro", got.Query)
	assert.Equal(t, model.KindVehicle, got.Kind)
	assert.False(t, got.Success)
	assert.Equal(t, model.NoProvider, got.Provider)
	assert.Equal(t, int64(1250), got.ElapsedMs)
	assert.Equal(t, r.Failures, got.Failures)
	assert.Equal(t, SourceCLI, got.Source)
	assert.True(t, at.Equal(got.CreatedAt), "created_at %s", got.CreatedAt)
}

func TestSQLite_AppendAssignsDefaults(t *testing.T) {
	s := newTestSQLite(t)
	r := Run{Query: "Hershey swap meet", Kind: model.KindEvent, Provider: "tavily", Success: true, Source: SourceAPI}
	require.NoError(t, s.AppendRun(context.Background(), &r))

	assert.NotEmpty(t, r.ID)
	assert.WithinDuration(t, time.Now(), r.CreatedAt, 5*time.Second)

	got, err := s.GetRun(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Nil(t, got.Failures)
}

func TestSQLite_GetRunNotFound(t *testing.T) {
	s := newTestSQLite(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	runs := []Run{
		sampleRun("1969 Camaro", true, "firecrawl", base),
		sampleRun("Shelby GT500", false, "", base.Add(time.Minute)),
		sampleRun("Bel Air", true, "brave", base.Add(2*time.Minute)),
		sampleRun("Corvette", true, "firecrawl", base.Add(3*time.Minute)),
	}
	runs[3].JobID = "job-1"
	runs[3].Source = SourceBatch
	require.NoError(t, s.AppendRuns(ctx, runs))
	for _, r := range runs {
		assert.NotEmpty(t, r.ID)
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Corvette", all[0].Query, "newest first")
	assert.Equal(t, "1969 Camaro", all[3].Query)

	byProvider, err := s.ListRuns(ctx, RunFilter{Provider: "firecrawl"})
	require.NoError(t, err)
	assert.Len(t, byProvider, 2)

	failed := false
	onlyFailed, err := s.ListRuns(ctx, RunFilter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, "Shelby GT500", onlyFailed[0].Query)
	assert.Len(t, onlyFailed[0].Failures, 2)

	byJob, err := s.ListRuns(ctx, RunFilter{JobID: "job-1", Source: SourceBatch})
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Equal(t, "Corvette", byJob[0].Query)

	recent, err := s.ListRuns(ctx, RunFilter{CreatedAfter: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	page, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Bel Air", page[0].Query)
}

func TestSQLite_AppendRunsEmpty(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.AppendRuns(context.Background(), nil))
}

func TestSQLite_AppendRunDuplicateID(t *testing.T) {
	s := newTestSQLite(t)
	r := sampleRun("1969 Camaro", true, "jina", time.Now())
	r.ID = "fixed"
	require.NoError(t, s.AppendRun(context.Background(), &r))

	dup := r
	err := s.AppendRun(context.Background(), &dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: insert run")
}
