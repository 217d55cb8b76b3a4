// Package normalize maps provider-native results into model.Record.
package normalize

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/multiscrape/internal/model"
)

// Mapping lists, per record field, the raw keys to read in priority order.
// The first key holding a non-empty value wins.
type Mapping struct {
	Title       []string
	URL         []string
	Description []string
	Content     []string
	// DescriptionFromContent, when positive, fills an empty description
	// with the first N runes of the content.
	DescriptionFromContent int
}

// GenericMapping is used for providers without a registered mapping.
var GenericMapping = Mapping{
	Title:       []string{"title", "name", "headline"},
	URL:         []string{"url", "link", "href"},
	Description: []string{"description", "snippet", "summary"},
	Content:     []string{"content", "markdown", "text", "description", "snippet"},
}

// DefaultMappings returns the built-in mapping for each known provider.
func DefaultMappings() map[string]Mapping {
	return map[string]Mapping{
		"firecrawl": {
			Title:                  []string{"title"},
			URL:                    []string{"url"},
			Description:            []string{"description"},
			Content:                []string{"markdown"},
			DescriptionFromContent: 500,
		},
		"brave": {
			Title:       []string{"title"},
			URL:         []string{"url"},
			Description: []string{"description"},
			Content:     []string{"description"},
		},
		"perplexity": {
			Title:       []string{"title", "name"},
			URL:         []string{"url", "link"},
			Description: []string{"description", "snippet", "summary"},
			Content:     []string{"description", "snippet", "summary"},
		},
		"serpapi": {
			Title:       []string{"title"},
			URL:         []string{"link"},
			Description: []string{"snippet"},
			Content:     []string{"snippet"},
		},
		"jina": {
			Title:       []string{"title"},
			URL:         []string{"url"},
			Description: []string{"description"},
			Content:     []string{"content", "text"},
		},
		"tavily": {
			Title:       []string{"title"},
			URL:         []string{"url"},
			Description: []string{"content"},
			Content:     []string{"raw_content", "content"},
		},
		"claude": {
			Title:       []string{"title", "name"},
			URL:         []string{"url", "link"},
			Description: []string{"description", "snippet", "summary"},
			Content:     []string{"description", "snippet", "summary"},
		},
		"google": {
			Title:       []string{"title"},
			URL:         []string{"link"},
			Description: []string{"snippet"},
			Content:     []string{"snippet"},
		},
		"listing": {
			Title:       []string{"title"},
			URL:         []string{"url"},
			Description: []string{"description"},
			Content:     []string{"description"},
		},
	}
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock sets the source of capture timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithMapping registers or replaces the mapping for one provider.
func WithMapping(provider string, m Mapping) Option {
	return func(n *Normalizer) { n.mappings[provider] = m }
}

// Normalizer converts raw provider results into records. It is safe for
// concurrent use once constructed.
type Normalizer struct {
	mappings map[string]Mapping
	now      func() time.Time
}

// New creates a Normalizer with the default mappings.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{mappings: DefaultMappings(), now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// MappingFor returns the mapping used for provider.
func (n *Normalizer) MappingFor(provider string) Mapping {
	if m, ok := n.mappings[provider]; ok {
		return m
	}
	return GenericMapping
}

// Normalize maps every raw result, dropping those with neither a title nor
// a URL. All records share one capture timestamp.
func (n *Normalizer) Normalize(provider string, raws []model.RawResult, kind model.Kind) []model.Record {
	at := n.now().UTC()
	out := make([]model.Record, 0, len(raws))
	for _, raw := range raws {
		if rec, ok := n.normalizeAt(provider, raw, kind, at); ok {
			out = append(out, rec)
		}
	}
	return out
}

// NormalizeOne maps a single raw result. ok is false when the result has
// neither a title nor a URL.
func (n *Normalizer) NormalizeOne(provider string, raw model.RawResult, kind model.Kind) (model.Record, bool) {
	return n.normalizeAt(provider, raw, kind, n.now().UTC())
}

func (n *Normalizer) normalizeAt(provider string, raw model.RawResult, kind model.Kind, at time.Time) (model.Record, bool) {
	m := n.MappingFor(provider)

	rec := model.Record{
		Provider:    provider,
		Kind:        kind,
		Title:       first(raw, m.Title),
		URL:         CanonicalURL(first(raw, m.URL)),
		Description: first(raw, m.Description),
		Content:     first(raw, m.Content),
		ScrapedAt:   at,
	}
	if rec.Description == "" && m.DescriptionFromContent > 0 {
		rec.Description = truncate(rec.Content, m.DescriptionFromContent)
	}
	if rec.Title == "" && rec.URL == "" {
		return model.Record{}, false
	}
	return rec, true
}

func first(raw model.RawResult, keys []string) string {
	for _, k := range keys {
		if s := Text(stringify(raw[k])); s != "" {
			return s
		}
	}
	return ""
}

// stringify renders scalar values; composite values yield "".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// Text NFC-normalizes s and trims surrounding whitespace. Invalid UTF-8 is
// replaced.
func Text(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return strings.TrimSpace(norm.NFC.String(s))
}

// CanonicalURL lower-cases the scheme and host and drops the fragment.
// Strings that do not parse as absolute URLs are returned unchanged.
func CanonicalURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
