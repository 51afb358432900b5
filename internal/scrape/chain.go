// Package scrape fetches HTML pages through an ordered chain of fetchers:
// plain HTTP first, then a headless browser, then the reader proxy.
package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/resilience"
)

// Chain tries fetchers in priority order, returning the first success.
type Chain struct {
	fetchers []Fetcher
}

// NewChain creates a Chain. Nil fetchers are ignored.
func NewChain(fetchers ...Fetcher) *Chain {
	c := &Chain{}
	for _, f := range fetchers {
		if f != nil {
			c.fetchers = append(c.fetchers, f)
		}
	}
	return c
}

// Fetchers returns the names of the configured fetchers in order.
func (c *Chain) Fetchers() []string {
	names := make([]string, len(c.fetchers))
	for i, f := range c.fetchers {
		names[i] = f.Name()
	}
	return names
}

// Fetch tries each fetcher in order for a single URL. A not-found answer
// ends the chain: the page does not exist, and rendering it elsewhere will
// not change that.
func (c *Chain) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	var lastErr error
	for _, f := range c.fetchers {
		page, err := f.Fetch(ctx, targetURL)
		if err == nil && page != nil {
			return page, nil
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "scrape: fetch cancelled")
		}
		if resilience.Classify(err) == resilience.OutcomeNotFound {
			return nil, err
		}
		zap.L().Debug("scrape: fetcher failed, trying next",
			zap.String("fetcher", f.Name()),
			zap.String("url", targetURL),
			zap.Error(err),
		)
		lastErr = fetcherError(f.Name(), err)
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all fetchers failed")
	}
	return nil, eris.Errorf("scrape: no fetcher for url: %s", targetURL)
}

// fetcherError reports a fetcher's rejected credentials as a transient
// failure of the page fetch, never as an AuthError of the caller.
func fetcherError(name string, err error) error {
	var ae *resilience.AuthError
	if !errors.As(err, &ae) {
		return err
	}
	zap.L().Warn("scrape: fetcher credentials rejected", zap.String("fetcher", name), zap.Int("status", ae.StatusCode))
	return resilience.NewTransientError(eris.Errorf("scrape: %s credentials rejected: %s", name, err.Error()), ae.StatusCode)
}
