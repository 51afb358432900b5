package scrape

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/pkg/firecrawl"
)

// FirecrawlFetcher fetches raw HTML through the Firecrawl scrape API. It is
// a paid service, so the chain places it last.
type FirecrawlFetcher struct {
	client firecrawl.Client
}

// NewFirecrawlFetcher wraps a Firecrawl client as a Fetcher.
func NewFirecrawlFetcher(client firecrawl.Client) *FirecrawlFetcher {
	return &FirecrawlFetcher{client: client}
}

func (f *FirecrawlFetcher) Name() string { return "firecrawl" }

func (f *FirecrawlFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     targetURL,
		Formats: []string{"rawHtml"},
	})
	if err != nil {
		return nil, err
	}

	status := resp.Data.Metadata.StatusCode
	if status == http.StatusNotFound {
		return nil, eris.Wrapf(resilience.ErrNotFound, "firecrawl: %s", targetURL)
	}
	html := resp.Data.Body()
	if blocked, bt := detectBody([]byte(html)); blocked {
		return nil, eris.Wrapf(ErrBlocked, "firecrawl: %s", bt)
	}
	if len(html) < minDocumentSize {
		return nil, eris.Wrap(ErrBlocked, "firecrawl: empty page")
	}
	if status == 0 {
		status = http.StatusOK
	}
	return &Page{URL: targetURL, HTML: html, StatusCode: status, Source: "firecrawl"}, nil
}
