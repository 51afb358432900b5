// Package store persists game records, odds and prop history, field
// provenance and the collection chunk log.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// GameFilter narrows ListGames.
type GameFilter struct {
	Sport  model.Sport
	Season int
	Range  *model.DateRange
	Limit  int
}

// SportSeason identifies one collected season.
type SportSeason struct {
	Sport  model.Sport `json:"sport"`
	Season int         `json:"season"`
}

// Store is the single durable store for collected records. Writes are
// idempotent: inserting an existing game never duplicates it, and each
// phase only touches the columns it owns.
type Store interface {
	// Games
	UpsertGame(ctx context.Context, rec model.GameRecord, phase model.Phase) (bool, error)
	GetGame(ctx context.Context, id string) (*model.GameRecord, error)
	ExistingIDs(ctx context.Context, sport model.Sport, r model.DateRange) (map[string]struct{}, error)
	RecordsMissing(ctx context.Context, phase model.Phase, sport model.Sport, r model.DateRange) ([]model.GameRecord, error)
	ListGames(ctx context.Context, filter GameFilter) ([]model.GameRecord, error)
	CountBySportSeason(ctx context.Context, sport model.Sport, season int) (int, error)
	Seasons(ctx context.Context) ([]SportSeason, error)
	Coverage(ctx context.Context, sport model.Sport, season int) (*model.Coverage, error)

	// Odds and props history
	AppendQuotes(ctx context.Context, quotes []model.OddsQuote) error
	ListQuotes(ctx context.Context, gameID string) ([]model.OddsQuote, error)
	AppendProps(ctx context.Context, props []model.PropRecord) error
	CountProps(ctx context.Context, sport model.Sport, season int) (int, error)

	// Provenance
	RecordProvenance(ctx context.Context, p model.FieldProvenance) error
	Provenance(ctx context.Context, gameID string) (map[string]string, error)

	// Chunk log
	ChunkDone(ctx context.Context, sport model.Sport, r model.DateRange) (bool, error)
	MarkChunk(ctx context.Context, sport model.Sport, season int, r model.DateRange, games int) error

	// Runs
	StartRun(ctx context.Context, args string) (*model.Run, error)
	FinishRun(ctx context.Context, id string, status model.RunStatus, summary any, errMsg string) error
	LastRun(ctx context.Context) (*model.Run, error)

	// Maintenance
	Clear(ctx context.Context, sport model.Sport) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// gameColumns is the column order shared by insert and select statements.
var gameColumns = []string{
	"game_id", "sport", "season", "date", "home_team", "away_team",
	"home_score", "away_score", "status", "venue", "source_ref",
	"has_stats", "has_odds", "has_supplemental", "has_props", "stats",
	"moneyline_home", "moneyline_away", "spread_line", "spread_home_odds", "spread_away_odds",
	"total_line", "total_over_odds", "total_under_odds",
	"attendance", "referee", "weather", "created_at", "updated_at",
}

var quoteColumns = []string{
	"game_id", "bookmaker", "market_type", "line", "home_odds", "away_odds",
	"over_odds", "under_odds", "source", "quoted_at",
}

var propColumns = []string{
	"game_id", "player", "market", "line", "over_odds", "under_odds",
	"bookmaker", "source", "quoted_at",
}

// dialect captures the few SQL differences between SQLite and Postgres.
type dialect struct {
	greatest string
	numbered bool
}

var (
	sqliteDialect   = dialect{greatest: "MAX"}
	postgresDialect = dialect{greatest: "GREATEST", numbered: true}
)

// bind rewrites ? placeholders to $n for dialects that number them.
func (d dialect) bind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (d dialect) insertGameSQL() string {
	return d.bind(fmt.Sprintf(
		"INSERT INTO games (%s) VALUES (%s) ON CONFLICT (game_id) DO NOTHING",
		strings.Join(gameColumns, ", "), placeholders(len(gameColumns)),
	))
}

func (d dialect) selectGamesSQL(where string) string {
	return d.bind(fmt.Sprintf("SELECT %s FROM games %s", strings.Join(gameColumns, ", "), where))
}

// phaseUpdate returns the statement and arguments that merge rec into an
// existing row. Each phase writes only the columns it owns, and phase
// flags never move back to false.
func (d dialect) phaseUpdate(rec model.GameRecord, phase model.Phase, now time.Time) (string, []any, error) {
	var set string
	var args []any
	switch phase {
	case model.PhaseSchedule:
		set = `home_score = COALESCE(home_score, ?),
			away_score = COALESCE(away_score, ?),
			status = CASE WHEN status = '' THEN ? ELSE status END,
			venue = CASE WHEN venue = '' THEN ? ELSE venue END,
			source_ref = CASE WHEN source_ref = '' THEN ? ELSE source_ref END`
		args = []any{rec.HomeScore, rec.AwayScore, rec.Status, rec.Venue, rec.SourceRef}
	case model.PhaseStats:
		set = fmt.Sprintf(`home_score = COALESCE(?, home_score),
			away_score = COALESCE(?, away_score),
			status = CASE WHEN ? = '' THEN status ELSE ? END,
			stats = COALESCE(?, stats),
			venue = CASE WHEN venue = '' THEN ? ELSE venue END,
			attendance = COALESCE(attendance, ?),
			has_stats = %s(has_stats, ?)`, d.greatest)
		args = []any{rec.HomeScore, rec.AwayScore, rec.Status, rec.Status, jsonArg(rec.Stats),
			rec.Venue, rec.Attendance, boolInt(rec.HasStats)}
	case model.PhaseOdds:
		set = fmt.Sprintf(`moneyline_home = COALESCE(?, moneyline_home),
			moneyline_away = COALESCE(?, moneyline_away),
			spread_line = COALESCE(?, spread_line),
			spread_home_odds = COALESCE(?, spread_home_odds),
			spread_away_odds = COALESCE(?, spread_away_odds),
			total_line = COALESCE(?, total_line),
			total_over_odds = COALESCE(?, total_over_odds),
			total_under_odds = COALESCE(?, total_under_odds),
			has_odds = %s(has_odds, ?)`, d.greatest)
		args = []any{rec.MoneylineHome, rec.MoneylineAway, rec.SpreadLine, rec.SpreadHomeOdds,
			rec.SpreadAwayOdds, rec.TotalLine, rec.TotalOverOdds, rec.TotalUnderOdds, boolInt(rec.HasOdds)}
	case model.PhaseSupplemental:
		set = fmt.Sprintf(`venue = CASE WHEN venue = '' THEN ? ELSE venue END,
			attendance = COALESCE(attendance, ?),
			referee = CASE WHEN referee = '' THEN ? ELSE referee END,
			weather = CASE WHEN weather = '' THEN ? ELSE weather END,
			has_supplemental = %s(has_supplemental, ?)`, d.greatest)
		args = []any{rec.Venue, rec.Attendance, rec.Referee, rec.Weather, boolInt(rec.HasSupplemental)}
	case model.PhaseProps:
		set = fmt.Sprintf(`has_props = %s(has_props, ?)`, d.greatest)
		args = []any{boolInt(rec.HasProps)}
	default:
		return "", nil, eris.Errorf("store: unknown phase %q", phase)
	}
	args = append(args, now, rec.ID)
	return d.bind("UPDATE games SET " + set + ", updated_at = ? WHERE game_id = ?"), args, nil
}

// missingWhere is the filter for records whose phase flag is still false.
func missingWhere(phase model.Phase) (string, error) {
	col, err := flagColumn(phase)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("WHERE sport = ? AND date >= ? AND date <= ? AND %s = 0 ORDER BY date, game_id", col), nil
}

func flagColumn(phase model.Phase) (string, error) {
	switch phase {
	case model.PhaseStats:
		return "has_stats", nil
	case model.PhaseOdds:
		return "has_odds", nil
	case model.PhaseSupplemental:
		return "has_supplemental", nil
	case model.PhaseProps:
		return "has_props", nil
	default:
		return "", eris.Errorf("store: phase %q has no completion flag", phase)
	}
}

func gameFilterWhere(f GameFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Sport != "" {
		conds = append(conds, "sport = ?")
		args = append(args, string(f.Sport))
	}
	if f.Season > 0 {
		conds = append(conds, "season = ?")
		args = append(args, f.Season)
	}
	if f.Range != nil {
		conds = append(conds, "date >= ? AND date <= ?")
		args = append(args, f.Range.StartDate(), f.Range.EndDate())
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	where += " ORDER BY sport, date, game_id"
	if f.Limit > 0 {
		where += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return where, args
}

func gameArgs(rec model.GameRecord, now time.Time) []any {
	return []any{
		rec.ID, string(rec.Sport), rec.Season, rec.Date, rec.HomeTeam, rec.AwayTeam,
		rec.HomeScore, rec.AwayScore, rec.Status, rec.Venue, rec.SourceRef,
		boolInt(rec.HasStats), boolInt(rec.HasOdds), boolInt(rec.HasSupplemental), boolInt(rec.HasProps),
		jsonArg(rec.Stats),
		rec.MoneylineHome, rec.MoneylineAway, rec.SpreadLine, rec.SpreadHomeOdds, rec.SpreadAwayOdds,
		rec.TotalLine, rec.TotalOverOdds, rec.TotalUnderOdds,
		rec.Attendance, rec.Referee, rec.Weather, now, now,
	}
}

func quoteArgs(q model.OddsQuote) []any {
	return []any{q.GameID, q.Bookmaker, q.MarketType, q.Line, q.HomeOdds, q.AwayOdds,
		q.OverOdds, q.UnderOdds, q.Source, q.Timestamp.UTC()}
}

func propArgs(p model.PropRecord) []any {
	return []any{p.GameID, p.Player, p.Market, p.Line, p.OverOdds, p.UnderOdds,
		p.Bookmaker, p.Source, p.Timestamp.UTC()}
}

type scannable interface {
	Scan(dest ...any) error
}

// scanGame reads one row in gameColumns order.
func scanGame(row scannable) (*model.GameRecord, error) {
	var g model.GameRecord
	var sport string
	var hasStats, hasOdds, hasSupp, hasProps int
	var stats *string
	err := row.Scan(
		&g.ID, &sport, &g.Season, &g.Date, &g.HomeTeam, &g.AwayTeam,
		&g.HomeScore, &g.AwayScore, &g.Status, &g.Venue, &g.SourceRef,
		&hasStats, &hasOdds, &hasSupp, &hasProps, &stats,
		&g.MoneylineHome, &g.MoneylineAway, &g.SpreadLine, &g.SpreadHomeOdds, &g.SpreadAwayOdds,
		&g.TotalLine, &g.TotalOverOdds, &g.TotalUnderOdds,
		&g.Attendance, &g.Referee, &g.Weather, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Sport = model.Sport(sport)
	g.HasStats, g.HasOdds, g.HasSupplemental, g.HasProps = hasStats > 0, hasOdds > 0, hasSupp > 0, hasProps > 0
	if stats != nil && *stats != "" {
		g.Stats = json.RawMessage(*stats)
	}
	return &g, nil
}

func scanQuote(row scannable) (*model.OddsQuote, error) {
	var q model.OddsQuote
	err := row.Scan(&q.ID, &q.GameID, &q.Bookmaker, &q.MarketType, &q.Line, &q.HomeOdds, &q.AwayOdds,
		&q.OverOdds, &q.UnderOdds, &q.Source, &q.Timestamp)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonArg(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

func marshalSummary(summary any) (*string, error) {
	if summary == nil {
		return nil, nil
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal run summary")
	}
	s := string(b)
	return &s, nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

func insertSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinColumns(cols), placeholders(len(cols)))
}

// clearStatements deletes dependents before games so the final statement's
// row count is the number of games removed.
func clearStatements(bySport bool) []string {
	if !bySport {
		return []string{
			"DELETE FROM odds_quotes",
			"DELETE FROM player_props",
			"DELETE FROM field_provenance",
			"DELETE FROM collection_chunks",
			"DELETE FROM games",
		}
	}
	sub := "WHERE game_id IN (SELECT game_id FROM games WHERE sport = ?)"
	return []string{
		"DELETE FROM odds_quotes " + sub,
		"DELETE FROM player_props " + sub,
		"DELETE FROM field_provenance " + sub,
		"DELETE FROM collection_chunks WHERE sport = ?",
		"DELETE FROM games WHERE sport = ?",
	}
}
