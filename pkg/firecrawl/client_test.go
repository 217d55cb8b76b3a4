package firecrawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-api-key", WithBaseURL(srv.URL))
	return srv, c
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantPages  int
		wantErr    bool
		wantAPIErr bool
		wantStatus int
	}{
		{
			name: "happy path",
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/search", r.URL.Path)
				assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var req SearchRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "1969 Camaro", req.Query)
				assert.Equal(t, 5, req.Limit)
				require.NotNil(t, req.ScrapeOptions)
				assert.Equal(t, []string{"markdown"}, req.ScrapeOptions.Formats)

				_ = json.NewEncoder(w).Encode(SearchResponse{
					Success: true,
					Data: []PageData{
						{URL: "https://example.com/1", Title: "Camaro SS", Markdown: "# SS"},
						{URL: "https://example.com/2", Title: "Camaro RS", Description: "clean"},
					},
				})
			},
			wantPages: 2,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit"}`))
			},
			wantErr:    true,
			wantAPIErr: true,
			wantStatus: 429,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			},
			wantErr:    true,
			wantAPIErr: true,
			wantStatus: 500,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{not json`))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestServer(t, tt.handler)
			resp, err := c.Search(context.Background(), SearchRequest{
				Query:         "1969 Camaro",
				Limit:         5,
				ScrapeOptions: &ScrapeOptions{Formats: []string{"markdown"}},
			})

			if tt.wantErr {
				require.Error(t, err)
				if tt.wantAPIErr {
					var apiErr *APIError
					require.ErrorAs(t, err, &apiErr)
					assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
				}
				return
			}
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Len(t, resp.Data, tt.wantPages)
		})
	}
}

func TestScrape(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/scrape", r.URL.Path)

		var req ScrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/listing", req.URL)

		_ = json.NewEncoder(w).Encode(ScrapeResponse{
			Success: true,
			Data: PageData{
				Markdown: "# Listing",
				Metadata: Metadata{Title: "Listing", SourceURL: "https://example.com/listing", StatusCode: 200},
			},
		})
	})

	resp, err := c.Scrape(context.Background(), ScrapeRequest{URL: "https://example.com/listing", Formats: []string{"markdown"}})
	require.NoError(t, err)
	assert.Equal(t, "Listing", resp.Data.Metadata.Title)
	assert.Equal(t, "# Listing", resp.Data.Markdown)
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{StatusCode: 402, Body: "payment required"}
	assert.Equal(t, "firecrawl: HTTP 402: payment required", err.Error())
}

func TestScrape_ContextCancelled(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Scrape(ctx, ScrapeRequest{URL: "https://example.com"})
	require.Error(t, err)
}
