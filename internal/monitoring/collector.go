package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsFailed    int     `json:"runs_failed"`
	FailRate      float64 `json:"fail_rate"`
	AvgElapsedMs  int64   `json:"avg_elapsed_ms"`

	// ProviderWins counts successful runs per winning provider.
	ProviderWins map[string]int `json:"provider_wins"`
	// ProviderFailures counts failure entries per provider across runs.
	ProviderFailures map[string]int `json:"provider_failures"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the run log methods needed by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]store.Run, error)
}

// Collector gathers run health from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ProviderWins:     make(map[string]int),
		ProviderFailures: make(map[string]int),
		LookbackHours:    lookbackHours,
		CollectedAt:      now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalElapsed int64
	for _, r := range runs {
		snap.RunsTotal++
		totalElapsed += r.ElapsedMs
		if r.Success {
			snap.RunsSucceeded++
			snap.ProviderWins[r.Provider]++
		} else {
			snap.RunsFailed++
		}
		for _, f := range r.Failures {
			if f.Provider != model.NoProvider {
				snap.ProviderFailures[f.Provider]++
			}
		}
	}

	if snap.RunsTotal > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(snap.RunsTotal)
		snap.AvgElapsedMs = totalElapsed / int64(snap.RunsTotal)
	}
	return snap, nil
}
