package scrape

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/pkg/browser"
)

// BrowserFetcher renders a page in headless Chrome.
type BrowserFetcher struct {
	renderer browser.Renderer
}

// NewBrowserFetcher wraps a renderer as a Fetcher.
func NewBrowserFetcher(r browser.Renderer) *BrowserFetcher {
	return &BrowserFetcher{renderer: r}
}

func (b *BrowserFetcher) Name() string { return "browser" }

func (b *BrowserFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	html, err := b.renderer.Render(ctx, targetURL)
	if err != nil {
		return nil, resilience.NewTransientError(err, 0)
	}
	if blocked, bt := detectBody([]byte(html)); blocked {
		return nil, eris.Wrapf(ErrBlocked, "browser: %s", bt)
	}
	if len(html) < minDocumentSize {
		return nil, eris.Wrap(ErrBlocked, "browser: empty page")
	}
	return &Page{URL: targetURL, HTML: html, StatusCode: 200, Source: "browser"}, nil
}
