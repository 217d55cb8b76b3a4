package fallback

import (
	"time"

	"github.com/sells-group/multiscrape/internal/model"
)

// Provider outcomes reported to a Recorder.
const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
	OutcomeSkipped     = "skipped"
	OutcomeBreakerOpen = "breaker_open"
)

// Recorder observes orchestrator activity.
type Recorder interface {
	ObserveAttempt(a model.Attempt)
	ObserveProvider(provider, outcome string, elapsed time.Duration)
	ObserveRun(res model.RunResult)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(model.Attempt)                   {}
func (nopRecorder) ObserveProvider(string, string, time.Duration) {}
func (nopRecorder) ObserveRun(model.RunResult)                     {}
