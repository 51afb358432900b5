package scrape

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrBlocked marks a response that came back as an anti-bot page instead of
// the requested document.
var ErrBlocked = eris.New("scrape: blocked")

// Page is a fetched HTML document.
type Page struct {
	URL        string
	HTML       string
	StatusCode int
	Source     string // e.g. "local_http", "browser", "jina"
}

// Fetcher retrieves the HTML of a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}
