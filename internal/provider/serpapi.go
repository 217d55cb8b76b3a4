package provider

import (
	"context"
	"errors"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/pkg/serpapi"
)

// serpEngines picks the SerpApi engine per kind; unlisted kinds use web
// search.
var serpEngines = map[model.Kind]string{
	model.KindEvent:   serpapi.EngineEvents,
	model.KindArticle: serpapi.EngineNews,
}

// SerpAPI runs Google searches through SerpApi.
type SerpAPI struct {
	client serpapi.Client
	apiKey string
}

// NewSerpAPI creates a SerpApi adapter.
func NewSerpAPI(apiKey string, opts ...serpapi.Option) *SerpAPI {
	return &SerpAPI{client: serpapi.NewClient(apiKey, opts...), apiKey: apiKey}
}

func (s *SerpAPI) Name() string     { return "serpapi" }
func (s *SerpAPI) Configured() bool { return s.apiKey != "" }

func (s *SerpAPI) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	resp, err := s.client.Search(ctx, serpapi.SearchRequest{
		Query:    q.Text,
		Num:      q.Limit(),
		Location: q.Filter("location"),
		Engine:   serpEngines[q.Kind],
	})
	if err != nil {
		// SerpApi reports "no results" as a body error rather than an
		// empty list.
		var apiErr *serpapi.APIError
		if errors.As(err, &apiErr) && apiErr.NoResults() {
			return []model.RawResult{}, nil
		}
		return nil, transportErr(s.Name(), err)
	}

	out := make([]model.RawResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, model.RawResult{
			"title":    r.Title,
			"link":     r.Link,
			"snippet":  r.Snippet,
			"position": r.Position,
		})
	}
	return out, nil
}
