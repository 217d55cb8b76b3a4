package provider

import (
	"context"
	"strconv"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/tavily"
)

// Tavily queries the Tavily search API. Article queries use the news topic.
type Tavily struct {
	client tavily.Client
	apiKey string
}

// NewTavily creates a Tavily adapter.
func NewTavily(apiKey string, opts ...tavily.Option) *Tavily {
	return &Tavily{client: tavily.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (t *Tavily) Name() string     { return "tavily" }
func (t *Tavily) Configured() bool { return t.apiKey != "" }

func (t *Tavily) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	req := tavily.SearchRequest{
		Query:      q.Text,
		MaxResults: q.Limit(),
		Topic:      tavily.TopicGeneral,
	}
	if q.Kind == model.KindArticle {
		req.Topic = tavily.TopicNews
		req.Days = 7
		if d, err := strconv.Atoi(q.Filter("days")); err == nil && d > 0 {
			req.Days = d
		}
	}
	if site := q.Filter("site"); site != "" {
		req.IncludeDomains = []string{site}
	}

	resp, err := t.client.Search(ctx, req)
	if err != nil {
		return nil, transportErr(t.Name(), err)
	}

	out := make([]model.RawResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, model.RawResult{
			"title":          r.Title,
			"url":            r.URL,
			"content":        r.Content,
			"raw_content":    r.RawContent,
			"score":          r.Score,
			"published_date": r.PublishedDate,
		})
	}
	return out, nil
}
