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

func TestNewRun(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	q := model.NewQuery("Hershey swap meet", model.KindEvent)
	res := model.RunResult{
		Success:  false,
		Provider: model.NoProvider,
		Failures: []model.Failure{{Provider: "brave", Reason: "no results found"}},
		Meta:     model.Meta{Query: q.Text, ElapsedMs: 4200, Timestamp: at},
	}

	r := NewRun(q, res, SourceAPI)

	assert.Empty(t, r.ID)
	assert.Equal(t, "Hershey swap meet", r.Query)
	assert.Equal(t, model.KindEvent, r.Kind)
	assert.Equal(t, model.NoProvider, r.Provider)
	assert.Equal(t, int64(4200), r.ElapsedMs)
	assert.Equal(t, res.Failures, r.Failures)
	assert.Equal(t, SourceAPI, r.Source)
	assert.Equal(t, at, r.CreatedAt)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	log, err := Open(ctx, "none", "")
	require.NoError(t, err)
	assert.IsType(t, Discard{}, log)

	log, err = Open(ctx, "sqlite", filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, log)
	require.NoError(t, log.Close())

	_, err = Open(ctx, "mysql", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported driver "mysql"`)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	var d Discard

	r := Run{Query: "1969 Camaro"}
	require.NoError(t, d.AppendRun(ctx, &r))
	assert.NotEmpty(t, r.ID)
	assert.NoError(t, d.AppendRuns(ctx, []Run{r}))
	assert.NoError(t, d.Migrate(ctx))

	_, err := d.GetRun(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := d.ListRuns(ctx, RunFilter{})
	assert.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, d.Close())
}
