// Package serpapi wraps the SerpApi Google search SDK behind a
// context-aware client.
package serpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	g "github.com/serpapi/google-search-results-golang"
)

// Client performs Google searches through SerpApi.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// SearchRequest holds the SerpApi parameters we set.
type SearchRequest struct {
	Query    string
	Num      int
	Location string
	// Engine defaults to EngineGoogle.
	Engine string
}

// Engines the client knows how to read results from.
const (
	EngineGoogle = "google"
	EngineNews   = "google_news"
	EngineEvents = "google_events"
)

// resultKeys maps each engine to the response field holding its results.
var resultKeys = map[string]string{
	EngineGoogle: "organic_results",
	EngineNews:   "news_results",
	EngineEvents: "events_results",
}

// decodeFailure is the SDK's message when the body is not JSON.
const decodeFailure = "fail to decode"

// OrganicResult is one result entry. Event results carry their summary
// in description, which lands in Snippet.
type OrganicResult struct {
	Position int
	Title    string
	Link     string
	Snippet  string
}

// SearchResponse is the result list of a SerpApi response.
type SearchResponse struct {
	Results []OrganicResult
}

// SearchFunc executes one SerpApi request and returns the decoded JSON.
// Like the SDK, it reports a body "error" field as a plain error carrying
// the message.
type SearchFunc func(params map[string]string, apiKey string) (map[string]any, error)

// sdkSearch returns a SearchFunc backed by the SDK. A nil hc keeps the
// SDK's own client.
func sdkSearch(hc *http.Client) SearchFunc {
	return func(params map[string]string, apiKey string) (map[string]any, error) {
		search := g.NewGoogleSearch(params, apiKey)
		if hc != nil {
			search.HttpSearch = hc
		}
		res, err := search.GetJSON()
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

// Option configures the client.
type Option func(*sdkClient)

// WithHTTPClient sets the HTTP client the SDK uses.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sdkClient) {
		c.http = hc
	}
}

// WithSearchFunc replaces the SDK call.
func WithSearchFunc(fn SearchFunc) Option {
	return func(c *sdkClient) {
		c.search = fn
	}
}

type sdkClient struct {
	apiKey string
	http   *http.Client
	search SearchFunc
}

// NewClient creates a SerpApi client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{apiKey: apiKey}
	for _, o := range opts {
		o(c)
	}
	if c.search == nil {
		c.search = sdkSearch(c.http)
	}
	return c
}

type searchOutcome struct {
	raw map[string]any
	err error
}

// Search runs the SDK call in its own goroutine because the SDK takes no
// context; cancellation abandons the call rather than aborting it.
func (c *sdkClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	params := map[string]string{
		"engine":        EngineGoogle,
		"q":             req.Query,
		"google_domain": "google.com",
		"gl":            "us",
		"hl":            "en",
	}
	if req.Engine != "" {
		params["engine"] = req.Engine
	}
	if req.Num > 0 {
		params["num"] = strconv.Itoa(req.Num)
	}
	if req.Location != "" {
		params["location"] = req.Location
	}

	done := make(chan searchOutcome, 1)
	go func() {
		raw, err := c.search(params, c.apiKey)
		done <- searchOutcome{raw: raw, err: err}
	}()

	var out searchOutcome
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out = <-done:
	}
	if out.err != nil {
		return nil, classify(out.err)
	}

	return &SearchResponse{Results: results(out.raw, params["engine"])}, nil
}

// classify separates SerpApi body errors from transport and decode
// failures. The SDK returns all three as errors.
func classify(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) || err.Error() == decodeFailure {
		return eris.Wrap(err, "serpapi: search")
	}
	return &APIError{Message: err.Error()}
}

// APIError is an error reported in the SerpApi response body.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "serpapi: " + e.Message
}

// NoResults reports whether the body error means an empty result set.
// Every engine phrases it as "<engine> hasn't returned any results".
func (e *APIError) NoResults() bool {
	return strings.Contains(e.Message, "hasn't returned any results")
}

func results(raw map[string]any, engine string) []OrganicResult {
	key, ok := resultKeys[engine]
	if !ok {
		key = resultKeys[EngineGoogle]
	}
	items, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	results := make([]OrganicResult, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["title"].(string)
		link, _ := m["link"].(string)
		snippet, _ := m["snippet"].(string)
		if snippet == "" {
			snippet, _ = m["description"].(string)
		}
		pos := i + 1
		if p, ok := m["position"].(float64); ok {
			pos = int(p)
		}
		results = append(results, OrganicResult{Position: pos, Title: title, Link: link, Snippet: snippet})
	}
	return results
}
