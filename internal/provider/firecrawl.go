package provider

import (
	"context"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/firecrawl"
)

// Firecrawl searches the web through Firecrawl and scrapes each hit to
// markdown. When the query carries a "url" filter the page is scraped
// directly instead.
type Firecrawl struct {
	client firecrawl.Client
	apiKey string
}

// NewFirecrawl creates a Firecrawl adapter.
func NewFirecrawl(apiKey string, opts ...firecrawl.Option) *Firecrawl {
	return &Firecrawl{client: firecrawl.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (f *Firecrawl) Name() string     { return "firecrawl" }
func (f *Firecrawl) Configured() bool { return f.apiKey != "" }

func (f *Firecrawl) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	if target := q.Filter("url"); target != "" {
		return f.scrape(ctx, target)
	}

	resp, err := f.client.Search(ctx, firecrawl.SearchRequest{
		Query:         q.Text,
		Limit:         q.Limit(),
		ScrapeOptions: &firecrawl.ScrapeOptions{Formats: []string{"markdown"}},
	})
	if err != nil {
		return nil, transportErr(f.Name(), err)
	}

	out := make([]model.RawResult, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, pageRaw(d))
	}
	return out, nil
}

func (f *Firecrawl) scrape(ctx context.Context, target string) ([]model.RawResult, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{URL: target, Formats: []string{"markdown"}})
	if err != nil {
		return nil, transportErr(f.Name(), err)
	}
	raw := pageRaw(resp.Data)
	if raw["url"] == "" {
		raw["url"] = target
	}
	return []model.RawResult{raw}, nil
}

func pageRaw(d firecrawl.PageData) model.RawResult {
	title, desc, u := d.Title, d.Description, d.URL
	if title == "" {
		title = d.Metadata.Title
	}
	if desc == "" {
		desc = d.Metadata.Description
	}
	if u == "" {
		u = d.Metadata.SourceURL
	}
	return model.RawResult{
		"title":       title,
		"url":         u,
		"description": desc,
		"markdown":    d.Markdown,
	}
}
