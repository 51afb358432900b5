// Package balldontlie provides a client for the BALLDONTLIE sports data API.
package balldontlie

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/omegalab/histcollect/internal/resilience"
)

const (
	providerName   = "balldontlie"
	defaultBaseURL = "https://api.balldontlie.io"
	pageSize       = 100
	maxPages       = 50
)

// League selects the API namespace.
type League string

const (
	LeagueNBA League = "nba"
	LeagueNFL League = "nfl"
)

func (l League) prefix() string {
	if l == LeagueNFL {
		return "/nfl/v1"
	}
	return "/v1"
}

// Client fetches games, player box scores and odds.
type Client interface {
	// Games lists every game between startDate and endDate inclusive
	// (YYYY-MM-DD), following pagination.
	Games(ctx context.Context, league League, startDate, endDate string) ([]Game, error)
	// Stats returns per-player stat lines for one game.
	Stats(ctx context.Context, league League, gameID int) ([]PlayerStat, error)
	// Odds returns vendor lines for the given games.
	Odds(ctx context.Context, league League, gameIDs []int) ([]Odds, error)
}

// Team is a franchise as embedded in game payloads.
type Team struct {
	ID           int    `json:"id"`
	Abbreviation string `json:"abbreviation"`
	City         string `json:"city"`
	Name         string `json:"name"`
	FullName     string `json:"full_name"`
}

// Game is one schedule entry. NBA dates are plain dates; NFL dates are
// RFC 3339 kickoff timestamps.
type Game struct {
	ID               int    `json:"id"`
	Date             string `json:"date"`
	Season           int    `json:"season"`
	Status           string `json:"status"`
	Postseason       bool   `json:"postseason"`
	Venue            string `json:"venue"`
	HomeTeam         Team   `json:"home_team"`
	VisitorTeam      Team   `json:"visitor_team"`
	HomeTeamScore    *int   `json:"home_team_score"`
	VisitorTeamScore *int   `json:"visitor_team_score"`
}

// PlayerStat is one player's line in a game. Values holds every numeric
// field of the payload keyed by its API name.
type PlayerStat struct {
	TeamID int
	Values map[string]float64
}

// UnmarshalJSON keeps numeric fields and the owning team id.
func (p *PlayerStat) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Values = make(map[string]float64)
	for k, v := range raw {
		switch k {
		case "id", "player", "game":
			continue
		case "team":
			var t Team
			if err := json.Unmarshal(v, &t); err != nil {
				return eris.Wrap(err, "balldontlie: decode stat team")
			}
			p.TeamID = t.ID
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err == nil {
			p.Values[k] = f
		}
	}
	return nil
}

// Odds is one vendor's lines for a game.
type Odds struct {
	ID                int    `json:"id"`
	GameID            int    `json:"game_id"`
	Vendor            string `json:"vendor"`
	SpreadHomeValue   Number `json:"spread_home_value"`
	SpreadHomeOdds    Number `json:"spread_home_odds"`
	SpreadAwayValue   Number `json:"spread_away_value"`
	SpreadAwayOdds    Number `json:"spread_away_odds"`
	MoneylineHomeOdds Number `json:"moneyline_home_odds"`
	MoneylineAwayOdds Number `json:"moneyline_away_odds"`
	TotalValue        Number `json:"total_value"`
	TotalOverOdds     Number `json:"total_over_odds"`
	TotalUnderOdds    Number `json:"total_under_odds"`
	UpdatedAt         string `json:"updated_at"`
}

// Number accepts a JSON number, a numeric string or null.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*n = Number{}
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*n = Number{}
		return nil
	}
	*n = Number{Value: f, Valid: true}
	return nil
}

// Ptr returns the value or nil when absent.
func (n Number) Ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

type page[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		NextCursor *int `json:"next_cursor"`
		PerPage    int  `json:"per_page"`
	} `json:"meta"`
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

// WithPageLimiter paces follow-up page requests.
func WithPageLimiter(l *rate.Limiter) Option {
	return func(c *httpClient) {
		c.pages = l
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
	http    *http.Client
	pages   *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a BALLDONTLIE API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		pages: rate.NewLimiter(rate.Every(600*time.Millisecond), 1),
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Games(ctx context.Context, league League, startDate, endDate string) ([]Game, error) {
	q := url.Values{}
	q.Set("start_date", startDate)
	q.Set("end_date", endDate)
	return paginate[Game](ctx, c, league.prefix()+"/games", q)
}

func (c *httpClient) Stats(ctx context.Context, league League, gameID int) ([]PlayerStat, error) {
	q := url.Values{}
	q.Add("game_ids[]", strconv.Itoa(gameID))
	return paginate[PlayerStat](ctx, c, league.prefix()+"/stats", q)
}

func (c *httpClient) Odds(ctx context.Context, league League, gameIDs []int) ([]Odds, error) {
	if len(gameIDs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, id := range gameIDs {
		q.Add("game_ids[]", strconv.Itoa(id))
	}
	return paginate[Odds](ctx, c, league.prefix()+"/odds", q)
}

// paginate follows meta.next_cursor until the API reports no more pages.
func paginate[T any](ctx context.Context, c *httpClient, path string, q url.Values) ([]T, error) {
	q.Set("per_page", strconv.Itoa(pageSize))
	var out []T
	for n := 0; n < maxPages; n++ {
		if n > 0 && c.pages != nil {
			if err := c.pages.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "balldontlie: page wait")
			}
		}
		body, err := c.get(ctx, path, q)
		if err != nil {
			return nil, err
		}
		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, resilience.NewFatalError(eris.Wrapf(err, "balldontlie: decode %s", path), 0)
		}
		out = append(out, p.Data...)
		if p.Meta.NextCursor == nil || len(p.Data) == 0 {
			return out, nil
		}
		q.Set("cursor", strconv.Itoa(*p.Meta.NextCursor))
	}
	return out, eris.Errorf("balldontlie: %s exceeded %d pages", path, maxPages)
}

func (c *httpClient) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, &resilience.AuthError{Provider: providerName}
	}
	retry := c.retry
	retry.OnRetry = resilience.RetryLogger(providerName, path)
	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "balldontlie: create request")
		}
		req.Header.Set("Authorization", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "balldontlie: send request"), 0)
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "balldontlie: read response"), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, resilience.StatusError(providerName, resp.StatusCode, body)
		}
		return body, nil
	})
}
