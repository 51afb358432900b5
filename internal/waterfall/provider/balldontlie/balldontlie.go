// Package balldontlie adapts the BALLDONTLIE API to the primary source
// contracts: schedule, box score and odds.
package balldontlie

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
	api "github.com/omegalab/histcollect/pkg/balldontlie"
)

// Name is the provider name used in config and provenance.
const Name = "balldontlie"

var (
	_ provider.ScheduleSource = (*Source)(nil)
	_ provider.BoxScoreSource = (*Source)(nil)
	_ provider.OddsSource     = (*Source)(nil)
)

// Source is the primary provider.
type Source struct {
	client api.Client
}

// New wraps a BALLDONTLIE client.
func New(client api.Client) *Source {
	return &Source{client: client}
}

func (s *Source) Name() string        { return Name }
func (s *Source) Kind() provider.Kind { return provider.KindPrimary }

func league(sport model.Sport) (api.League, error) {
	switch sport {
	case model.SportNBA:
		return api.LeagueNBA, nil
	case model.SportNFL:
		return api.LeagueNFL, nil
	default:
		return "", eris.Wrapf(resilience.ErrUnsupported, "%s: %s", Name, sport)
	}
}

// FetchSchedule lists games in r. NFL kickoffs are converted to Eastern
// dates, so the query is widened by a day and trimmed afterwards.
func (s *Source) FetchSchedule(ctx context.Context, sport model.Sport, r model.DateRange) ([]provider.RawGame, error) {
	games, err := s.games(ctx, sport, r)
	if err != nil {
		return nil, err
	}
	out := make([]provider.RawGame, 0, len(games))
	for _, g := range games {
		out = append(out, toRawGame(sport, g.date, g.Game))
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no %s games %s", Name, sport, r)
	}
	return out, nil
}

type datedGame struct {
	api.Game
	date string
}

func (s *Source) games(ctx context.Context, sport model.Sport, r model.DateRange) ([]datedGame, error) {
	lg, err := league(sport)
	if err != nil {
		return nil, err
	}
	end := r.EndDate()
	if sport == model.SportNFL {
		end = r.End.AddDate(0, 0, 1).Format(model.DateLayout)
	}
	games, err := s.client.Games(ctx, lg, r.StartDate(), end)
	if err != nil {
		return nil, err
	}
	out := make([]datedGame, 0, len(games))
	for _, g := range games {
		date, ok := provider.GameDate(g.Date)
		if !ok || !r.Contains(date) {
			continue
		}
		out = append(out, datedGame{Game: g, date: date})
	}
	return out, nil
}

func toRawGame(sport model.Sport, date string, g api.Game) provider.RawGame {
	return provider.RawGame{
		ExternalID: strconv.Itoa(g.ID),
		Sport:      sport,
		Date:       date,
		HomeTeam:   g.HomeTeam.FullName,
		AwayTeam:   g.VisitorTeam.FullName,
		HomeScore:  finalScore(g, g.HomeTeamScore),
		AwayScore:  finalScore(g, g.VisitorTeamScore),
		Status:     normalizeStatus(g.Status),
		Venue:      g.Venue,
		Source:     Name,
	}
}

// finalScore drops the zero scores the API reports for unplayed games.
func finalScore(g api.Game, score *int) *int {
	if score == nil {
		return nil
	}
	if *score == 0 && normalizeStatus(g.Status) != "Final" {
		return nil
	}
	return score
}

func normalizeStatus(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "final") {
		return "Final"
	}
	return s
}

// lookup finds the API game matching rec, preferring the id recorded in its
// source ref.
func (s *Source) lookup(ctx context.Context, rec model.GameRecord) (datedGame, error) {
	d, err := time.Parse(model.DateLayout, rec.Date)
	if err != nil {
		return datedGame{}, resilience.NewFatalError(eris.Wrapf(err, "%s: game date %q", Name, rec.Date), 0)
	}
	games, err := s.games(ctx, rec.Sport, model.NewDateRange(d, d))
	if err != nil {
		return datedGame{}, err
	}
	if id, ok := strings.CutPrefix(rec.SourceRef, Name+":"); ok {
		for _, g := range games {
			if strconv.Itoa(g.ID) == id {
				return g, nil
			}
		}
	}
	g, ok := provider.FindGame(games, rec.HomeTeam, rec.AwayTeam, func(g datedGame) (string, string) {
		return g.HomeTeam.FullName, g.VisitorTeam.FullName
	})
	if !ok {
		return datedGame{}, eris.Wrapf(resilience.ErrNotFound, "%s: no match for %s", Name, rec.ID)
	}
	return g, nil
}

// FetchBoxScore returns final scores and per-team totals summed over every
// player line.
func (s *Source) FetchBoxScore(ctx context.Context, rec model.GameRecord) (*provider.RawStats, error) {
	g, err := s.lookup(ctx, rec)
	if err != nil {
		return nil, err
	}
	lg, _ := league(rec.Sport)
	lines, err := s.client.Stats(ctx, lg, g.ID)
	if err != nil {
		return nil, err
	}

	home, away := sumTeam(lines, g.HomeTeam.ID), sumTeam(lines, g.VisitorTeam.ID)
	stats := &provider.RawStats{
		HomeScore: finalScore(g.Game, g.HomeTeamScore),
		AwayScore: finalScore(g.Game, g.VisitorTeamScore),
		Status:    normalizeStatus(g.Status),
		Home:      home,
		Away:      away,
		Venue:     g.Venue,
		Source:    Name,
	}
	if stats.HomeScore == nil && len(home) == 0 && len(away) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no box score for %s", Name, rec.ID)
	}
	return stats, nil
}

// sumTeam totals counting stats for one team. Percentages are skipped since
// they do not sum.
func sumTeam(lines []api.PlayerStat, teamID int) map[string]float64 {
	out := make(map[string]float64)
	for _, l := range lines {
		if l.TeamID != teamID {
			continue
		}
		for k, v := range l.Values {
			if strings.Contains(k, "pct") || strings.Contains(k, "rating") || v < 0 {
				continue
			}
			out[k] += v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// FetchOdds returns every vendor line for games on date. Odds rows carry
// only game ids, so they are joined back to the schedule for team names.
func (s *Source) FetchOdds(ctx context.Context, sport model.Sport, date string) ([]provider.RawQuote, error) {
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, resilience.NewFatalError(eris.Wrapf(err, "%s: odds date %q", Name, date), 0)
	}
	games, err := s.games(ctx, sport, model.NewDateRange(d, d))
	if err != nil {
		return nil, err
	}
	byID := make(map[int]api.Game, len(games))
	ids := make([]int, 0, len(games))
	for _, g := range games {
		byID[g.ID] = g.Game
		ids = append(ids, g.ID)
	}
	lg, _ := league(sport)
	rows, err := s.client.Odds(ctx, lg, ids)
	if err != nil {
		return nil, err
	}

	var out []provider.RawQuote
	for _, o := range rows {
		g, ok := byID[o.GameID]
		if !ok {
			continue
		}
		out = append(out, toQuotes(g, o)...)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no odds for %s %s", Name, sport, date)
	}
	return out, nil
}

func toQuotes(g api.Game, o api.Odds) []provider.RawQuote {
	ts, _ := time.Parse(time.RFC3339, o.UpdatedAt)
	base := provider.RawQuote{
		HomeTeam:  g.HomeTeam.FullName,
		AwayTeam:  g.VisitorTeam.FullName,
		Bookmaker: o.Vendor,
		Source:    Name,
		Timestamp: ts,
	}
	var out []provider.RawQuote
	if o.MoneylineHomeOdds.Valid || o.MoneylineAwayOdds.Valid {
		q := base
		q.MarketType = model.MarketMoneyline
		q.HomeOdds, q.AwayOdds = o.MoneylineHomeOdds.Ptr(), o.MoneylineAwayOdds.Ptr()
		out = append(out, q)
	}
	if o.SpreadHomeValue.Valid {
		q := base
		q.MarketType = model.MarketSpread
		q.Line = o.SpreadHomeValue.Ptr()
		q.HomeOdds, q.AwayOdds = o.SpreadHomeOdds.Ptr(), o.SpreadAwayOdds.Ptr()
		out = append(out, q)
	}
	if o.TotalValue.Valid {
		q := base
		q.MarketType = model.MarketTotal
		q.Line = o.TotalValue.Ptr()
		q.OverOdds, q.UnderOdds = o.TotalOverOdds.Ptr(), o.TotalUnderOdds.Ptr()
		out = append(out, q)
	}
	return out
}
