// Package oddsapi provides a client for The Odds API v4 historical endpoints.
package oddsapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/resilience"
)

const (
	providerName   = "oddsapi"
	defaultBaseURL = "https://api.the-odds-api.com"
	defaultRegions = "us"
)

// Sport keys used by the API.
const (
	SportKeyNBA = "basketball_nba"
	SportKeyNFL = "americanfootball_nfl"
)

// Game-level markets.
var GameMarkets = []string{"h2h", "spreads", "totals"}

// Client fetches historical odds snapshots.
type Client interface {
	// HistoricalOdds returns game-level odds for every event in the snapshot
	// closest to (at or before) at.
	HistoricalOdds(ctx context.Context, sportKey string, at time.Time, markets []string) (*Snapshot[[]Event], error)
	// HistoricalEvents lists events known at the snapshot time.
	HistoricalEvents(ctx context.Context, sportKey string, at time.Time) (*Snapshot[[]Event], error)
	// HistoricalEventOdds returns odds for one event, including player
	// prop markets.
	HistoricalEventOdds(ctx context.Context, sportKey, eventID string, at time.Time, markets []string) (*Snapshot[Event], error)
}

// Snapshot wraps the data of a historical response.
type Snapshot[T any] struct {
	Timestamp         time.Time `json:"timestamp"`
	PreviousTimestamp string    `json:"previous_timestamp"`
	NextTimestamp     string    `json:"next_timestamp"`
	Data              T         `json:"data"`
}

// Event is one game with its bookmaker lines.
type Event struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	CommenceTime time.Time   `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []Bookmaker `json:"bookmakers"`
}

// Bookmaker groups the markets offered by one sportsbook.
type Bookmaker struct {
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	LastUpdate time.Time `json:"last_update"`
	Markets    []Market  `json:"markets"`
}

// Market is one bet type.
type Market struct {
	Key        string    `json:"key"`
	LastUpdate time.Time `json:"last_update"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Outcome is one side of a market. For props Name is Over/Under and
// Description is the player.
type Outcome struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Point       *float64 `json:"point"`
	Description string   `json:"description"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRegions overrides the bookmaker regions (default "us").
func WithRegions(regions string) Option {
	return func(c *httpClient) {
		c.regions = regions
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	regions string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates an Odds API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		regions: defaultRegions,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) HistoricalOdds(ctx context.Context, sportKey string, at time.Time, markets []string) (*Snapshot[[]Event], error) {
	q := c.query(at)
	q.Set("markets", strings.Join(markets, ","))
	var out Snapshot[[]Event]
	if err := c.get(ctx, "/v4/historical/sports/"+sportKey+"/odds", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) HistoricalEvents(ctx context.Context, sportKey string, at time.Time) (*Snapshot[[]Event], error) {
	q := url.Values{}
	q.Set("date", at.UTC().Format(time.RFC3339))
	var out Snapshot[[]Event]
	if err := c.get(ctx, "/v4/historical/sports/"+sportKey+"/events", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) HistoricalEventOdds(ctx context.Context, sportKey, eventID string, at time.Time, markets []string) (*Snapshot[Event], error) {
	q := c.query(at)
	q.Set("markets", strings.Join(markets, ","))
	var out Snapshot[Event]
	path := "/v4/historical/sports/" + sportKey + "/events/" + url.PathEscape(eventID) + "/odds"
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) query(at time.Time) url.Values {
	q := url.Values{}
	q.Set("regions", c.regions)
	q.Set("oddsFormat", "american")
	q.Set("date", at.UTC().Format(time.RFC3339))
	return q
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values, dst any) error {
	if c.apiKey == "" {
		return &resilience.AuthError{Provider: providerName}
	}
	q.Set("apiKey", c.apiKey)
	retry := c.retry
	retry.OnRetry = resilience.RetryLogger(providerName, path)

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "oddsapi: create request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "oddsapi: send request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		if rem := resp.Header.Get("x-requests-remaining"); rem != "" {
			zap.L().Debug("oddsapi: quota", zap.String("remaining", rem), zap.String("used", resp.Header.Get("x-requests-used")))
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "oddsapi: read response"), resp.StatusCode)
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return b, nil
		case resp.StatusCode == http.StatusUnprocessableEntity:
			// Snapshot outside the archive or market not offered for the date.
			return nil, eris.Wrapf(resilience.ErrNotFound, "oddsapi: %s: %s", path, strings.TrimSpace(string(b)))
		default:
			return nil, resilience.StatusError(providerName, resp.StatusCode, b)
		}
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return resilience.NewFatalError(eris.Wrapf(err, "oddsapi: decode %s", path), 0)
	}
	return nil
}
