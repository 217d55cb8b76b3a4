package provider

import (
	"context"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/google"
)

// Google queries a Programmable Search engine.
type Google struct {
	client   google.Client
	apiKey   string
	engineID string
}

// NewGoogle creates a Google adapter for search engine cx.
func NewGoogle(apiKey, cx string, opts ...google.Option) *Google {
	return NewGoogleWithClient(google.NewClient(apiKey, cx, opts...), apiKey, cx)
}

// NewGoogleWithClient creates a Google adapter around an existing client.
func NewGoogleWithClient(client google.Client, apiKey, cx string) *Google {
	return &Google{client: client, apiKey: apiKey, engineID: cx}
}

func (g *Google) Name() string { return "google" }

// Configured requires both the API key and the search engine id.
func (g *Google) Configured() bool { return g.apiKey != "" && g.engineID != "" }

func (g *Google) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	resp, err := g.client.Search(ctx, google.SearchRequest{
		Query:      q.Text,
		Num:        q.Limit(),
		SiteSearch: q.Filter("site"),
	})
	if err != nil {
		return nil, transportErr(g.Name(), err)
	}

	out := make([]model.RawResult, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, model.RawResult{
			"title":       it.Title,
			"link":        it.Link,
			"snippet":     it.Snippet,
			"displayLink": it.DisplayLink,
		})
	}
	return out, nil
}
