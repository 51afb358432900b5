// Package model defines the records collected by the pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// GameRecord is one scheduled or completed game. Phase flags only move
// from false to true.
type GameRecord struct {
	ID        string `json:"game_id"`
	Date      string `json:"date"`
	Sport     Sport  `json:"sport"`
	Season    int    `json:"season"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	HomeScore *int   `json:"home_score,omitempty"`
	AwayScore *int   `json:"away_score,omitempty"`
	Status    string `json:"status,omitempty"`
	Venue     string `json:"venue,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`

	HasStats        bool `json:"has_stats"`
	HasOdds         bool `json:"has_odds"`
	HasSupplemental bool `json:"has_supplemental"`
	HasProps        bool `json:"has_props"`

	Stats json.RawMessage `json:"stats,omitempty"`

	MoneylineHome  *float64 `json:"moneyline_home,omitempty"`
	MoneylineAway  *float64 `json:"moneyline_away,omitempty"`
	SpreadLine     *float64 `json:"spread_line,omitempty"`
	SpreadHomeOdds *float64 `json:"spread_home_odds,omitempty"`
	SpreadAwayOdds *float64 `json:"spread_away_odds,omitempty"`
	TotalLine      *float64 `json:"total_line,omitempty"`
	TotalOverOdds  *float64 `json:"total_over_odds,omitempty"`
	TotalUnderOdds *float64 `json:"total_under_odds,omitempty"`

	Attendance *int   `json:"attendance,omitempty"`
	Referee    string `json:"referee,omitempty"`
	Weather    string `json:"weather,omitempty"`

	Provenance map[string]string `json:"provenance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MissingSupplemental lists the supplemental fields that are still empty.
// Weather is only tracked for outdoor sports.
func (g *GameRecord) MissingSupplemental() []string {
	var missing []string
	if g.Venue == "" {
		missing = append(missing, FieldVenue)
	}
	if g.Attendance == nil {
		missing = append(missing, FieldAttendance)
	}
	if g.Referee == "" {
		missing = append(missing, FieldReferee)
	}
	if g.Sport == SportNFL && g.Weather == "" {
		missing = append(missing, FieldWeather)
	}
	return missing
}

// Supplemental field names.
const (
	FieldVenue      = "venue"
	FieldAttendance = "attendance"
	FieldReferee    = "referee"
	FieldWeather    = "weather"
)

// GameID builds the sport-scoped composite key for a game. The key depends
// only on sport, date and team names, so every provider that reports the
// same game converges on the same row.
func GameID(sport Sport, date, home, away string) string {
	return fmt.Sprintf("%s-%s-%s-%s", sport, strings.ReplaceAll(date, "-", ""), slug(home), slug(away))
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// OddsQuote is one bookmaker line for one market at one point in time.
// Quotes are append-only so line movement is preserved.
type OddsQuote struct {
	ID         int64     `json:"id,omitempty"`
	GameID     string    `json:"game_id"`
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

// Market types.
const (
	MarketMoneyline = "h2h"
	MarketSpread    = "spreads"
	MarketTotal     = "totals"
)

// PropRecord is one player prop line. Append-only like OddsQuote.
type PropRecord struct {
	ID        int64     `json:"id,omitempty"`
	GameID    string    `json:"game_id"`
	Player    string    `json:"player"`
	Market    string    `json:"market"`
	Line      *float64  `json:"line,omitempty"`
	OverOdds  *float64  `json:"over_odds,omitempty"`
	UnderOdds *float64  `json:"under_odds,omitempty"`
	Bookmaker string    `json:"bookmaker,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// ApplyQuotes copies the first quote of each market onto the flattened odds
// columns. Quotes are expected in provider priority order.
func (g *GameRecord) ApplyQuotes(quotes []OddsQuote) {
	seen := make(map[string]bool)
	for _, q := range quotes {
		if seen[q.MarketType] {
			continue
		}
		switch q.MarketType {
		case MarketMoneyline:
			if q.HomeOdds == nil && q.AwayOdds == nil {
				continue
			}
			g.MoneylineHome, g.MoneylineAway = q.HomeOdds, q.AwayOdds
		case MarketSpread:
			if q.Line == nil {
				continue
			}
			g.SpreadLine, g.SpreadHomeOdds, g.SpreadAwayOdds = q.Line, q.HomeOdds, q.AwayOdds
		case MarketTotal:
			if q.Line == nil {
				continue
			}
			g.TotalLine, g.TotalOverOdds, g.TotalUnderOdds = q.Line, q.OverOdds, q.UnderOdds
		default:
			continue
		}
		seen[q.MarketType] = true
	}
}
