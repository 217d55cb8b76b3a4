package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/resilience"
	"github.com/sells-group/multiscrape/pkg/perplexity"
)

var kindSubjects = map[model.Kind]string{
	model.KindVehicle: "vehicle listings and classic cars for sale",
	model.KindEvent:   "car shows, auctions, and automotive events",
	model.KindArticle: "automotive news and articles",
	model.KindGeneral: "web pages",
}

// Perplexity asks an online model to search the web and answer with a JSON
// array of results.
type Perplexity struct {
	client perplexity.Client
	apiKey string
}

// NewPerplexity creates a Perplexity adapter.
func NewPerplexity(apiKey string, opts ...perplexity.Option) *Perplexity {
	return &Perplexity{client: perplexity.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (p *Perplexity) Name() string     { return "perplexity" }
func (p *Perplexity) Configured() bool { return p.apiKey != "" }

func (p *Perplexity) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	subject := kindSubjects[q.Kind]
	if subject == "" {
		subject = kindSubjects[model.KindGeneral]
	}

	req := perplexity.ChatCompletionRequest{
		SearchRecencyFilter: q.Filter("recency"),
		Messages: []perplexity.Message{
			{
				Role:    "system",
				Content: fmt.Sprintf("You search the web and return structured data about %s. Respond with a JSON array only.", subject),
			},
			{
				Role: "user",
				Content: fmt.Sprintf("Search for: %s. Return up to %d results as a JSON array of objects with fields: title, url, description, source.",
					q.Text, q.Limit()),
			},
		},
	}
	if site := q.Filter("site"); site != "" {
		req.SearchDomainFilter = []string{site}
	}

	resp, err := p.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, transportErr(p.Name(), err)
	}

	return extractAnswer(p.Name(), resp.Content(), resp.Sources())
}

// extractAnswer parses the first JSON array in content. When there is no
// array, or it does not parse, the citation URLs become the results. A
// broken array with no citations to fall back on is a parse error.
func extractAnswer(provider, content string, citations []string) ([]model.RawResult, error) {
	items, parseErr := firstJSONArray(content)
	if parseErr == nil && items != nil {
		return items, nil
	}

	if len(citations) > 0 {
		out := make([]model.RawResult, 0, len(citations))
		for _, c := range citations {
			out = append(out, model.RawResult{"url": c})
		}
		return out, nil
	}

	if parseErr != nil {
		return nil, resilience.NewParseError(provider, parseErr)
	}
	return []model.RawResult{}, nil
}

// firstJSONArray decodes the span from the first '[' to the last ']'.
// It returns (nil, nil) when content holds no array.
func firstJSONArray(content string) ([]model.RawResult, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, nil
	}

	var items []any
	if err := json.Unmarshal([]byte(content[start:end+1]), &items); err != nil {
		return nil, eris.Wrap(err, "provider: decode answer array")
	}

	out := make([]model.RawResult, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			out = append(out, model.RawResult(v))
		case string:
			out = append(out, model.RawResult{"url": v})
		}
	}
	return out, nil
}
