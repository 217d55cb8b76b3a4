package provider

import (
	"context"
	"strings"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/jina"
)

// Jina searches through Jina AI Search, or reads a single page through the
// Jina Reader when the query carries a "url" filter.
type Jina struct {
	client jina.Client
	apiKey string
}

// NewJina creates a Jina adapter.
func NewJina(apiKey string, opts ...jina.Option) *Jina {
	return &Jina{client: jina.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (j *Jina) Name() string     { return "jina" }
func (j *Jina) Configured() bool { return j.apiKey != "" }

func (j *Jina) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	if target := q.Filter("url"); target != "" {
		return j.read(ctx, target)
	}

	opts := []jina.SearchOption{jina.WithNum(q.Limit())}
	if site := q.Filter("site"); site != "" {
		opts = append(opts, jina.WithSiteFilter(site))
	}
	resp, err := j.client.Search(ctx, q.Text, opts...)
	if err != nil {
		return nil, transportErr(j.Name(), err)
	}

	out := make([]model.RawResult, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, model.RawResult{
			"title":       r.Title,
			"url":         r.URL,
			"description": r.Description,
			"content":     r.Content,
		})
	}
	if limit := q.Limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *Jina) read(ctx context.Context, target string) ([]model.RawResult, error) {
	resp, err := j.client.Read(ctx, target)
	if err != nil {
		return nil, transportErr(j.Name(), err)
	}
	// A challenge page is not a result; report nothing found so the next
	// provider gets a turn.
	if blockedContent(resp.Data.Content) {
		return []model.RawResult{}, nil
	}
	u := resp.Data.URL
	if u == "" {
		u = target
	}
	return []model.RawResult{{
		"title":       resp.Data.Title,
		"url":         u,
		"description": resp.Data.Description,
		"content":     resp.Data.Content,
	}}, nil
}

var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"attention required",
}

// blockedContent reports whether reader output is an anti-bot interstitial
// or too thin to be the page itself.
func blockedContent(content string) bool {
	content = strings.TrimSpace(content)
	if len(content) < 100 {
		return true
	}
	if len(content) >= 1000 {
		return false
	}
	lower := strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
