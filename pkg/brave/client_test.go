package brave

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/res/v1/web/search", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "1969 Camaro", r.URL.Query().Get("q"))
		assert.Equal(t, "20", r.URL.Query().Get("count"))
		assert.Equal(t, "pw", r.URL.Query().Get("freshness"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"type": "search",
			"web": {"results": [
				{"title": "1969 Camaro Z/28", "url": "https://bringatrailer.com/listing/1969-camaro-z28", "description": "302 V8, Muncie 4-speed"},
				{"title": "Camaro history", "url": "https://en.wikipedia.org/wiki/Chevrolet_Camaro", "description": ""}
			]}
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-token", WithBaseURL(srv.URL))
	resp, err := client.WebSearch(context.Background(), SearchRequest{Query: "1969 Camaro", Count: 40, Freshness: "pw"})

	require.NoError(t, err)
	require.Len(t, resp.Web.Results, 2)
	assert.Equal(t, "1969 Camaro Z/28", resp.Web.Results[0].Title)
	assert.Equal(t, "302 V8, Muncie 4-speed", resp.Web.Results[0].Description)
}

func TestWebSearch_NoWebSection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type": "search"}`))
	}))
	defer srv.Close()

	client := NewClient("test-token", WithBaseURL(srv.URL))
	resp, err := client.WebSearch(context.Background(), SearchRequest{Query: "zzqx"})

	require.NoError(t, err)
	assert.Empty(t, resp.Web.Results)
}

func TestWebSearch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"ErrorResponse","error":{"code":"RATE_LIMITED"}}`))
	}))
	defer srv.Close()

	client := NewClient("test-token", WithBaseURL(srv.URL))
	_, err := client.WebSearch(context.Background(), SearchRequest{Query: "1969 Camaro"})

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "RATE_LIMITED")
}

func TestWebSearch_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	client := NewClient("test-token", WithBaseURL(srv.URL))
	_, err := client.WebSearch(context.Background(), SearchRequest{Query: "1969 Camaro"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
