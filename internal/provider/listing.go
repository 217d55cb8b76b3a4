package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/multiscrape/internal/model"
	"github.com/sells-group/multiscrape/internal/resilience"
)

const maxListingBody = 2 << 20

// ListingConfig describes how to scrape one listing site's search page.
type ListingConfig struct {
	// ID overrides the provider id. Defaults to "listing".
	ID string
	// SearchURL is a URL template; "{query}" is replaced with the
	// URL-escaped query text.
	SearchURL string
	// ItemSelector selects one element per result.
	ItemSelector string
	// TitleSelector, LinkSelector and DescriptionSelector are evaluated
	// inside each item. An empty LinkSelector uses the first anchor.
	TitleSelector       string
	LinkSelector        string
	DescriptionSelector string
	UserAgent           string
}

// Listing scrapes a site's HTML search results page directly.
type Listing struct {
	cfg    ListingConfig
	client *http.Client
}

// NewListing creates a listing adapter. A nil client uses a default with
// conservative timeouts.
func NewListing(cfg ListingConfig, client *http.Client) *Listing {
	if cfg.ID == "" {
		cfg.ID = "listing"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; multiscrape/1.0)"
	}
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Listing{cfg: cfg, client: client}
}

func (l *Listing) Name() string { return l.cfg.ID }

// Configured requires a search URL and an item selector.
func (l *Listing) Configured() bool {
	return l.cfg.SearchURL != "" && l.cfg.ItemSelector != ""
}

// httpStatusError is a non-2xx response from a scraped site.
type httpStatusError struct {
	StatusCode int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func (l *Listing) Execute(ctx context.Context, q model.Query) ([]model.RawResult, error) {
	pageURL := strings.ReplaceAll(l.cfg.SearchURL, "{query}", url.QueryEscape(q.Text))
	base, err := searchURL(pageURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, resilience.NewConfigurationError("providers.listing.search_url", err.Error())
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, transportErr(l.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBody))
	if err != nil {
		return nil, transportErr(l.Name(), err)
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, resilience.NewTransportError(l.Name(), resp.StatusCode, eris.Errorf("blocked (%s)", kind))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, transportErr(l.Name(), &httpStatusError{StatusCode: resp.StatusCode})
	}

	doc, err := goquery.NewDocumentFromReader(decodeCharset(resp.Header.Get("Content-Type"), body))
	if err != nil {
		return nil, resilience.NewParseError(l.Name(), err)
	}

	limit := q.Limit()
	var out []model.RawResult
	doc.Find(l.cfg.ItemSelector).EachWithBreak(func(_ int, item *goquery.Selection) bool {
		raw := l.extract(item, base)
		if raw != nil {
			out = append(out, raw)
		}
		return len(out) < limit
	})
	if out == nil {
		out = []model.RawResult{}
	}
	return out, nil
}

// searchURL parses an expanded search URL. A bad template fails the same
// way on every attempt, so it is reported as a configuration error.
func searchURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, resilience.NewConfigurationError("providers.listing.search_url", err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, resilience.NewConfigurationError("providers.listing.search_url",
			fmt.Sprintf("%q is not an absolute http(s) URL", raw))
	}
	return u, nil
}

func (l *Listing) extract(item *goquery.Selection, base *url.URL) model.RawResult {
	title := text(item, l.cfg.TitleSelector)

	link := item.Find("a").First()
	if l.cfg.LinkSelector != "" {
		link = item.Find(l.cfg.LinkSelector).First()
	}
	href, _ := link.Attr("href")
	if href == "" && goquery.NodeName(item) == "a" {
		href, _ = item.Attr("href")
	}
	if title == "" && l.cfg.TitleSelector == "" {
		title = strings.TrimSpace(link.Text())
	}

	if title == "" && href == "" {
		return nil
	}

	return model.RawResult{
		"title":       title,
		"url":         resolve(base, href),
		"description": text(item, l.cfg.DescriptionSelector),
	}
}

func text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(item.Find(selector).First().Text()), " ")
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// decodeCharset returns a UTF-8 reader over body using the charset named in
// the Content-Type header. Unknown or missing charsets read body as is.
func decodeCharset(contentType string, body []byte) io.Reader {
	r := bytes.NewReader(body)
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return r
	}
	enc, err := htmlindex.Get(params["charset"])
	if err != nil {
		return r
	}
	return enc.NewDecoder().Reader(r)
}
