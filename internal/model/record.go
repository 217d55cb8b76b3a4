package model

import "time"

// RawResult is one provider-native result item.
type RawResult map[string]any

// Record is a provider result mapped into the common shape.
type Record struct {
	Provider    string    `json:"source" yaml:"source"`
	Kind        Kind      `json:"type" yaml:"type"`
	Title       string    `json:"title" yaml:"title"`
	URL         string    `json:"url" yaml:"url"`
	Description string    `json:"description" yaml:"description"`
	Content     string    `json:"content" yaml:"content"`
	ScrapedAt   time.Time `json:"scrapedAt" yaml:"scraped_at"`
}

// Outcome is the result of one provider attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt records a single call to a single provider.
type Attempt struct {
	Provider  string        `json:"provider"`
	Number    int           `json:"attempt"`
	StartedAt time.Time     `json:"started_at"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Failure explains why a provider did not satisfy a query.
type Failure struct {
	Provider string `json:"provider" yaml:"provider"`
	Reason   string `json:"reason" yaml:"reason"`
}

// Meta summarizes a run.
type Meta struct {
	Query       string    `json:"query" yaml:"query"`
	ElapsedMs   int64     `json:"elapsedMs" yaml:"elapsed_ms"`
	ResultCount int       `json:"resultCount" yaml:"result_count"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// NoProvider is the provider id reported when no provider satisfied a query.
const NoProvider = "none"

// RunResult is the answer to one fallback run. Failures is non-nil exactly
// when Success is false, so JSON carries "failures" (possibly []) only on
// failure.
type RunResult struct {
	Success  bool      `json:"success" yaml:"success"`
	Provider string    `json:"tool" yaml:"tool"`
	Records  []Record  `json:"data" yaml:"data"`
	Meta     Meta      `json:"metadata" yaml:"metadata"`
	Failures []Failure `json:"failures,omitzero" yaml:"failures,omitempty"`

	// Attempts holds every attempt made during the run, in order.
	Attempts []Attempt `json:"-" yaml:"-"`
}

// AttemptsFor returns the attempts made against the named provider.
func (r RunResult) AttemptsFor(provider string) []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.Provider == provider {
			out = append(out, a)
		}
	}
	return out
}
