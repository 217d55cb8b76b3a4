package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind tags what a query is looking for.
type Kind string

const (
	KindVehicle Kind = "vehicle"
	KindEvent   Kind = "event"
	KindArticle Kind = "article"
	KindGeneral Kind = "general"
)

// DefaultMaxResults is used when a query carries no result-count hint.
const DefaultMaxResults = 10

// MaxResultsLimit is the largest result-count hint a query may carry.
const MaxResultsLimit = 50

// AllKinds returns every supported query kind.
func AllKinds() []Kind {
	return []Kind{KindVehicle, KindEvent, KindArticle, KindGeneral}
}

// ParseKind converts s to a Kind. The empty string maps to KindGeneral.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return KindGeneral, nil
	}
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("model: unknown query kind %q", s)
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Query is one logical search request. It is passed by value and never
// mutated after construction.
type Query struct {
	Text       string         `json:"query" yaml:"query"`
	Kind       Kind           `json:"type" yaml:"type"`
	MaxResults int            `json:"maxResults,omitempty" yaml:"max_results,omitempty"`
	Filters    map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// NewQuery builds a Query with the given text and kind.
func NewQuery(text string, kind Kind) Query {
	return Query{Text: text, Kind: kind}
}

// Validate checks the query before any provider is contacted.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return eris.New("model: query text is required")
	}
	if !q.Kind.Valid() {
		return eris.Errorf("model: unknown query kind %q", q.Kind)
	}
	if q.MaxResults < 0 || q.MaxResults > MaxResultsLimit {
		return eris.Errorf("model: max results must be between 0 and %d, got %d", MaxResultsLimit, q.MaxResults)
	}
	return nil
}

// Limit returns the result-count hint, or DefaultMaxResults when unset.
func (q Query) Limit() int {
	if q.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return q.MaxResults
}

// Filter returns the filter value for key formatted as a string, or "".
func (q Query) Filter(key string) string {
	v, ok := q.Filters[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
