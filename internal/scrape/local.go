package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/resilience"
)

const (
	localName       = "local_http"
	maxBodyBytes    = 8 << 20
	minDocumentSize = 100
	defaultAgent    = "Mozilla/5.0 (compatible; histcollect/1.0)"
)

// LocalFetcher fetches HTML via net/http and detects anti-bot pages so the
// chain can fall through to a browser or the reader proxy.
type LocalFetcher struct {
	client    *http.Client
	userAgent string
}

// NewLocalFetcher creates a LocalFetcher. An empty userAgent uses the default.
func NewLocalFetcher(userAgent string) *LocalFetcher {
	if userAgent == "" {
		userAgent = defaultAgent
	}
	return &LocalFetcher{
		userAgent: userAgent,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

func (l *LocalFetcher) Name() string { return localName }

// Fetch downloads a URL. A 404 is reported as resilience.ErrNotFound; a block
// page as ErrBlocked.
func (l *LocalFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "local_http: fetch"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "local_http: read body"), resp.StatusCode)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Wrapf(ErrBlocked, "local_http: %s (status %d)", blockType, resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.StatusError(localName, resp.StatusCode, body)
	}

	if len(body) < minDocumentSize {
		return nil, eris.Wrap(ErrBlocked, "local_http: empty page")
	}

	return &Page{
		URL:        targetURL,
		HTML:       string(body),
		StatusCode: resp.StatusCode,
		Source:     localName,
	}, nil
}
