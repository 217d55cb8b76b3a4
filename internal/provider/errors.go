package provider

import (
	"context"
	"errors"

	"github.com/sells-group/multiscrape/internal/resilience"
	"github.com/sells-group/multiscrape/pkg/anthropic"
	"github.com/sells-group/multiscrape/pkg/brave"
	"github.com/sells-group/multiscrape/pkg/firecrawl"
	"github.com/sells-group/multiscrape/pkg/google"
	"github.com/sells-group/multiscrape/pkg/jina"
	"github.com/sells-group/multiscrape/pkg/perplexity"
	"github.com/sells-group/multiscrape/pkg/tavily"
)

// transportErr converts a client error into a TransportError carrying the
// HTTP status when one is known. Context errors pass through unchanged so
// callers can tell cancellation from provider failure.
func transportErr(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *resilience.TransportError
	if errors.As(err, &te) {
		return te
	}
	return resilience.NewTransportError(provider, statusOf(err), err)
}

// statusOf extracts the HTTP status from any client's APIError.
func statusOf(err error) int {
	var (
		fc *firecrawl.APIError
		br *brave.APIError
		px *perplexity.APIError
		ji *jina.APIError
		tv *tavily.APIError
		gg *google.APIError
		an *anthropic.APIError
		he *httpStatusError
	)
	switch {
	case errors.As(err, &fc):
		return fc.StatusCode
	case errors.As(err, &br):
		return br.StatusCode
	case errors.As(err, &px):
		return px.StatusCode
	case errors.As(err, &ji):
		return ji.StatusCode
	case errors.As(err, &tv):
		return tv.StatusCode
	case errors.As(err, &gg):
		return gg.StatusCode
	case errors.As(err, &an):
		return an.StatusCode
	case errors.As(err, &he):
		return he.StatusCode
	}
	return 0
}
