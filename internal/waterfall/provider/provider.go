// Package provider defines the source contracts the fallback chain drives and
// a registry of configured sources.
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omegalab/histcollect/internal/model"
)

// Kind groups providers by how they obtain data.
type Kind string

const (
	// KindPrimary is an authoritative paginated API.
	KindPrimary Kind = "primary"
	// KindScraped derives records from HTML pages.
	KindScraped Kind = "scraped"
	// KindOdds is a betting market API.
	KindOdds Kind = "odds"
	// KindSupplemental only fills fields that every other source left empty.
	KindSupplemental Kind = "supplemental"
)

// Provider is the common identity of every source. Names match the entries
// in the waterfall config.
type Provider interface {
	Name() string
	Kind() Kind
}

// ScheduleSource lists games played in a date range.
type ScheduleSource interface {
	Provider
	FetchSchedule(ctx context.Context, sport model.Sport, r model.DateRange) ([]RawGame, error)
}

// BoxScoreSource returns final scores and team statistics for one game.
type BoxScoreSource interface {
	Provider
	FetchBoxScore(ctx context.Context, game model.GameRecord) (*RawStats, error)
}

// OddsSource returns every quote it has for games on a date. Callers pick
// the quotes for their game by team name.
type OddsSource interface {
	Provider
	FetchOdds(ctx context.Context, sport model.Sport, date string) ([]RawQuote, error)
}

// PropSource returns player prop lines for one game.
type PropSource interface {
	Provider
	FetchProps(ctx context.Context, game model.GameRecord) ([]RawProp, error)
}

// SupplementSource answers only the named missing fields for a game.
type SupplementSource interface {
	Provider
	FetchSupplement(ctx context.Context, game model.GameRecord, missing []string) (*RawSupplement, error)
}

// RawGame is a schedule entry as reported by a provider.
type RawGame struct {
	ExternalID string      `json:"external_id,omitempty"`
	Sport      model.Sport `json:"sport"`
	Date       string      `json:"date"`
	HomeTeam   string      `json:"home_team"`
	AwayTeam   string      `json:"away_team"`
	HomeScore  *int        `json:"home_score,omitempty"`
	AwayScore  *int        `json:"away_score,omitempty"`
	Status     string      `json:"status,omitempty"`
	Venue      string      `json:"venue,omitempty"`
	Source     string      `json:"source"`
}

// RawStats is a box score. Team maps hold numeric totals keyed by stat name.
type RawStats struct {
	HomeScore  *int               `json:"home_score,omitempty"`
	AwayScore  *int               `json:"away_score,omitempty"`
	Status     string             `json:"status,omitempty"`
	Home       map[string]float64 `json:"home,omitempty"`
	Away       map[string]float64 `json:"away,omitempty"`
	Venue      string             `json:"venue,omitempty"`
	Attendance *int               `json:"attendance,omitempty"`
	Source     string             `json:"source"`
}

// RawQuote is one bookmaker market line for a game identified by team names.
type RawQuote struct {
	HomeTeam   string    `json:"home_team"`
	AwayTeam   string    `json:"away_team"`
	Bookmaker  string    `json:"bookmaker"`
	MarketType string    `json:"market_type"`
	Line       *float64  `json:"line,omitempty"`
	HomeOdds   *float64  `json:"home_odds,omitempty"`
	AwayOdds   *float64  `json:"away_odds,omitempty"`
	OverOdds   *float64  `json:"over_odds,omitempty"`
	UnderOdds  *float64  `json:"under_odds,omitempty"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// RawProp is one player prop line.
type RawProp struct {
	Player    string    `json:"player"`
	Market    string    `json:"market"`
	Bookmaker string    `json:"bookmaker,omitempty"`
	Line      *float64  `json:"line,omitempty"`
	OverOdds  *float64  `json:"over_odds,omitempty"`
	UnderOdds *float64  `json:"under_odds,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// RawSupplement carries answers for missing supplemental fields. Nil means
// the provider did not know.
type RawSupplement struct {
	Venue      *string `json:"venue,omitempty"`
	Attendance *int    `json:"attendance,omitempty"`
	Referee    *string `json:"referee,omitempty"`
	Weather    *string `json:"weather,omitempty"`
	Source     string  `json:"source"`
}

// Empty reports whether no field was answered.
func (s *RawSupplement) Empty() bool {
	return s == nil || (s.Venue == nil && s.Attendance == nil && s.Referee == nil && s.Weather == nil)
}

// Registry holds the configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
