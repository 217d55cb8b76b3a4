package provider

import (
	"context"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/brave"
)

// Brave queries the Brave web search API.
type Brave struct {
	client brave.Client
	apiKey string
}

// NewBrave creates a Brave adapter.
func NewBrave(apiKey string, opts ...brave.Option) *Brave {
	return &Brave{client: brave.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (b *Brave) Name() string     { return "brave" }
func (b *Brave) Configured() bool { return b.apiKey != "" }

func (b *Brave) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	freshness := q.Filter("freshness")
	if freshness == "" && q.Kind == model.KindArticle {
		freshness = "pm"
	}

	resp, err := b.client.WebSearch(ctx, brave.SearchRequest{
		Query:     q.Text,
		Count:     q.Limit(),
		Freshness: freshness,
	})
	if err != nil {
		return nil, transportErr(b.Name(), err)
	}

	out := make([]model.RawResult, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		out = append(out, model.RawResult{
			"title":       r.Title,
			"url":         r.URL,
			"description": r.Description,
			"age":         r.Age,
		})
	}
	return out, nil
}
