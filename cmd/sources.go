package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/cache"
	"github.com/omegalab/histcollect/internal/config"
	"github.com/omegalab/histcollect/internal/ratelimit"
	"github.com/omegalab/histcollect/internal/scrape"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
	"github.com/omegalab/histcollect/internal/waterfall/provider/balldontlie"
	"github.com/omegalab/histcollect/internal/waterfall/provider/oddsapi"
	"github.com/omegalab/histcollect/internal/waterfall/provider/sportsref"
	"github.com/omegalab/histcollect/internal/waterfall/provider/supplemental"
	anthropicpkg "github.com/omegalab/histcollect/pkg/anthropic"
	bdlpkg "github.com/omegalab/histcollect/pkg/balldontlie"
	"github.com/omegalab/histcollect/pkg/browser"
	"github.com/omegalab/histcollect/pkg/firecrawl"
	"github.com/omegalab/histcollect/pkg/jina"
	oddspkg "github.com/omegalab/histcollect/pkg/oddsapi"
	"github.com/omegalab/histcollect/pkg/perplexity"
)

// httpTimeout bounds every provider HTTP call.
const httpTimeout = 30 * time.Second

// buildRegistry constructs every provider the config has credentials for.
// The scraped source needs no key and is always registered.
func buildRegistry(c *config.Config) *provider.Registry {
	reg := provider.NewRegistry()
	hc := &http.Client{Timeout: httpTimeout}
	retry := c.Retry.Policy()
	log := zap.L()

	if c.Balldontlie.Key != "" {
		opts := []bdlpkg.Option{
			bdlpkg.WithHTTPClient(hc),
			bdlpkg.WithRetry(retry),
			bdlpkg.WithPageLimiter(ratelimit.NewLimiter(c.RateLimit.Balldontlie)),
		}
		if c.Balldontlie.BaseURL != "" {
			opts = append(opts, bdlpkg.WithBaseURL(c.Balldontlie.BaseURL))
		}
		reg.Register(balldontlie.New(bdlpkg.NewClient(c.Balldontlie.Key, opts...)))
	} else {
		log.Warn("balldontlie key not set, provider disabled")
	}

	if c.OddsAPI.Key != "" {
		opts := []oddspkg.Option{
			oddspkg.WithHTTPClient(hc),
			oddspkg.WithRetry(retry),
			oddspkg.WithRegions(c.OddsAPI.Regions),
		}
		if c.OddsAPI.BaseURL != "" {
			opts = append(opts, oddspkg.WithBaseURL(c.OddsAPI.BaseURL))
		}
		reg.Register(oddsapi.New(oddspkg.NewClient(c.OddsAPI.Key, opts...)))
	} else {
		log.Warn("oddsapi key not set, provider disabled")
	}

	reg.Register(sportsref.New(
		buildScrapeChain(c, hc),
		sportsref.WithBaseURLs(c.Sportsref.BasketballURL, c.Sportsref.FootballURL),
		sportsref.WithPageLimiter(ratelimit.NewLimiter(c.RateLimit.Sportsref)),
	))

	if c.Perplexity.Key != "" {
		opts := []perplexity.Option{
			perplexity.WithHTTPClient(hc),
			perplexity.WithRetry(retry),
			perplexity.WithModel(c.Perplexity.Model),
		}
		if c.Perplexity.BaseURL != "" {
			opts = append(opts, perplexity.WithBaseURL(c.Perplexity.BaseURL))
		}
		reg.Register(supplemental.NewPerplexity(perplexity.NewClient(c.Perplexity.Key, opts...), c.Perplexity.Model))
	}

	if c.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(c.Anthropic.Key, anthropicpkg.WithMaxRetries(c.Anthropic.MaxRetries))
		reg.Register(supplemental.NewAnthropic(client, c.Anthropic.Model))
	}

	log.Info("providers registered", zap.Strings("providers", reg.List()))
	return reg
}

// buildScrapeChain orders the page fetchers: plain HTTP, then headless
// Chrome when enabled, then the Jina reader, then Firecrawl when keyed.
func buildScrapeChain(c *config.Config, hc *http.Client) *scrape.Chain {
	fetchers := []scrape.Fetcher{scrape.NewLocalFetcher(c.Sportsref.UserAgent)}
	if c.Browser.Enabled {
		fetchers = append(fetchers, scrape.NewBrowserFetcher(browser.New(browser.Config{
			ExecPath:  c.Browser.ExecPath,
			UserAgent: c.Sportsref.UserAgent,
			Timeout:   c.Browser.Timeout,
		})))
	}
	if c.Jina.BaseURL != "" {
		opts := []jina.Option{
			jina.WithBaseURL(c.Jina.BaseURL),
			jina.WithHTTPClient(hc),
			jina.WithRetry(c.Retry.Policy()),
		}
		fetchers = append(fetchers, scrape.NewJinaFetcher(jina.NewClient(c.Jina.Key, opts...)))
	}
	if c.Firecrawl.Key != "" {
		opts := []firecrawl.Option{
			firecrawl.WithHTTPClient(hc),
			firecrawl.WithRetry(c.Retry.Policy()),
		}
		if c.Firecrawl.BaseURL != "" {
			opts = append(opts, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		}
		fetchers = append(fetchers, scrape.NewFirecrawlFetcher(firecrawl.NewClient(c.Firecrawl.Key, opts...)))
	}
	chain := scrape.NewChain(fetchers...)
	zap.L().Debug("scrape chain", zap.Strings("fetchers", chain.Fetchers()))
	return chain
}

// buildCache returns the file cache, or a no-op cache when disabled or when
// the cache directory is unusable.
func buildCache(c *config.Config) cache.Cache {
	if c.Cache.Disabled {
		return cache.Nop{}
	}
	fc, err := cache.NewFileCache(c.Cache.Dir, c.Cache.TTL)
	if err != nil {
		zap.L().Warn("cache unavailable, running uncached", zap.String("dir", c.Cache.Dir), zap.Error(err))
		return cache.Nop{}
	}
	return fc
}

// buildLimits returns the per-provider pacing registry and logs the pace of
// each registered provider.
func buildLimits(c *config.Config, reg *provider.Registry) *ratelimit.Registry {
	limits := ratelimit.New(c.RateLimit.Intervals(), c.RateLimit.Default)
	for _, name := range reg.List() {
		zap.L().Debug("provider pace", zap.String("provider", name), zap.Duration("interval", limits.Interval(name)))
	}
	return limits
}
