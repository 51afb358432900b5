package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/omegalab/histcollect/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	d       dialect
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, d: sqliteDialect, nowFunc: time.Now}, nil
}

// OpenSQLiteReadOnly opens an existing database for reading only. The file
// is never created and the schema is not migrated.
func OpenSQLiteReadOnly(path string) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "sqlite: store %s not found", path)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=rw")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA query_only=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, d: sqliteDialect, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS games (
	game_id          TEXT PRIMARY KEY,
	sport            TEXT NOT NULL,
	season           INTEGER NOT NULL,
	date             TEXT NOT NULL,
	home_team        TEXT NOT NULL,
	away_team        TEXT NOT NULL,
	home_score       INTEGER,
	away_score       INTEGER,
	status           TEXT NOT NULL DEFAULT '',
	venue            TEXT NOT NULL DEFAULT '',
	source_ref       TEXT NOT NULL DEFAULT '',
	has_stats        INTEGER NOT NULL DEFAULT 0,
	has_odds         INTEGER NOT NULL DEFAULT 0,
	has_supplemental INTEGER NOT NULL DEFAULT 0,
	has_props        INTEGER NOT NULL DEFAULT 0,
	stats            TEXT,
	moneyline_home   REAL,
	moneyline_away   REAL,
	spread_line      REAL,
	spread_home_odds REAL,
	spread_away_odds REAL,
	total_line       REAL,
	total_over_odds  REAL,
	total_under_odds REAL,
	attendance       INTEGER,
	referee          TEXT NOT NULL DEFAULT '',
	weather          TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS odds_quotes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id     TEXT NOT NULL REFERENCES games(game_id),
	bookmaker   TEXT NOT NULL,
	market_type TEXT NOT NULL,
	line        REAL,
	home_odds   REAL,
	away_odds   REAL,
	over_odds   REAL,
	under_odds  REAL,
	source      TEXT NOT NULL,
	quoted_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS player_props (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id    TEXT NOT NULL REFERENCES games(game_id),
	player     TEXT NOT NULL,
	market     TEXT NOT NULL,
	line       REAL,
	over_odds  REAL,
	under_odds REAL,
	bookmaker  TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	quoted_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS field_provenance (
	game_id    TEXT NOT NULL REFERENCES games(game_id),
	field      TEXT NOT NULL,
	provider   TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (game_id, field)
);

CREATE TABLE IF NOT EXISTS collection_chunks (
	sport        TEXT NOT NULL,
	start_date   TEXT NOT NULL,
	end_date     TEXT NOT NULL,
	season       INTEGER NOT NULL,
	games        INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (sport, start_date, end_date)
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	args        TEXT NOT NULL DEFAULT '',
	summary     TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_games_sport_season ON games(sport, season);
CREATE INDEX IF NOT EXISTS idx_games_sport_date ON games(sport, date);
CREATE INDEX IF NOT EXISTS idx_odds_quotes_game_id ON odds_quotes(game_id);
CREATE INDEX IF NOT EXISTS idx_player_props_game_id ON player_props(game_id);
CREATE INDEX IF NOT EXISTS idx_collection_runs_started_at ON collection_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertGame inserts rec if its ID is new and otherwise merges the columns
// owned by phase. It reports whether a new row was created.
func (s *SQLiteStore) UpsertGame(ctx context.Context, rec model.GameRecord, phase model.Phase) (bool, error) {
	now := s.nowFunc().UTC()
	res, err := s.db.ExecContext(ctx, s.d.insertGameSQL(), gameArgs(rec, now)...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert game %s", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, nil
	}

	q, args, err := s.d.phaseUpdate(rec, phase, now)
	if err != nil {
		return false, err
	}
	res, err = s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: update game %s (%s)", rec.ID, phase)
	}
	return false, checkRowsAffected(res, "game", rec.ID)
}

func (s *SQLiteStore) GetGame(ctx context.Context, id string) (*model.GameRecord, error) {
	row := s.db.QueryRowContext(ctx, s.d.selectGamesSQL("WHERE game_id = ?"), id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "game %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan game")
	}
	prov, err := s.Provenance(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(prov) > 0 {
		g.Provenance = prov
	}
	return g, nil
}

func (s *SQLiteStore) ExistingIDs(ctx context.Context, sport model.Sport, r model.DateRange) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT game_id FROM games WHERE sport = ? AND date >= ? AND date <= ?`,
		string(sport), r.StartDate(), r.EndDate())
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing ids")
	}
	defer rows.Close() //nolint:errcheck

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan game id")
		}
		ids[id] = struct{}{}
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: existing ids rows")
}

func (s *SQLiteStore) RecordsMissing(ctx context.Context, phase model.Phase, sport model.Sport, r model.DateRange) ([]model.GameRecord, error) {
	where, err := missingWhere(phase)
	if err != nil {
		return nil, err
	}
	return s.queryGames(ctx, s.d.selectGamesSQL(where), string(sport), r.StartDate(), r.EndDate())
}

func (s *SQLiteStore) ListGames(ctx context.Context, filter GameFilter) ([]model.GameRecord, error) {
	where, args := gameFilterWhere(filter)
	return s.queryGames(ctx, s.d.selectGamesSQL(where), args...)
}

func (s *SQLiteStore) queryGames(ctx context.Context, query string, args ...any) ([]model.GameRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query games")
	}
	defer rows.Close() //nolint:errcheck

	var games []model.GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan game")
		}
		games = append(games, *g)
	}
	return games, eris.Wrap(rows.Err(), "sqlite: query games rows")
}

func (s *SQLiteStore) CountBySportSeason(ctx context.Context, sport model.Sport, season int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM games WHERE sport = ? AND season = ?`, string(sport), season).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count games")
}

func (s *SQLiteStore) Seasons(ctx context.Context) ([]SportSeason, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sport, season FROM games ORDER BY sport, season`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: seasons")
	}
	defer rows.Close() //nolint:errcheck

	var out []SportSeason
	for rows.Next() {
		var ss SportSeason
		var sport string
		if err := rows.Scan(&sport, &ss.Season); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan season")
		}
		ss.Sport = model.Sport(sport)
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: seasons rows")
}

func (s *SQLiteStore) Coverage(ctx context.Context, sport model.Sport, season int) (*model.Coverage, error) {
	cov := &model.Coverage{Sport: sport, Season: season}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(has_stats), 0), COALESCE(SUM(has_odds), 0),
		COALESCE(SUM(has_supplemental), 0), COALESCE(SUM(has_props), 0)
		FROM games WHERE sport = ? AND season = ?`, string(sport), season).
		Scan(&cov.Games, &cov.WithStats, &cov.WithOdds, &cov.WithSupp, &cov.WithProps)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: coverage")
	}
	if cov.Props, err = s.CountProps(ctx, sport, season); err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM odds_quotes q
		JOIN games g ON g.game_id = q.game_id WHERE g.sport = ? AND g.season = ?`,
		string(sport), season).Scan(&cov.Quotes)
	return cov, eris.Wrap(err, "sqlite: count quotes")
}

// AppendQuotes inserts quotes in one transaction. Quotes are never updated.
func (s *SQLiteStore) AppendQuotes(ctx context.Context, quotes []model.OddsQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	return s.appendRows(ctx, "odds_quotes", quoteColumns, len(quotes), func(i int) []any { return quoteArgs(quotes[i]) })
}

func (s *SQLiteStore) AppendProps(ctx context.Context, props []model.PropRecord) error {
	if len(props) == 0 {
		return nil
	}
	return s.appendRows(ctx, "player_props", propColumns, len(props), func(i int) []any { return propArgs(props[i]) })
}

func (s *SQLiteStore) appendRows(ctx context.Context, table string, cols []string, n int, argsAt func(int) []any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin %s", table)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, cols))
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for i := range n {
		if _, err := stmt.ExecContext(ctx, argsAt(i)...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", table)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", table)
}

func (s *SQLiteStore) ListQuotes(ctx context.Context, gameID string) ([]model.OddsQuote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, `+joinColumns(quoteColumns)+`
		FROM odds_quotes WHERE game_id = ? ORDER BY quoted_at, id`, gameID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quotes")
	}
	defer rows.Close() //nolint:errcheck

	var quotes []model.OddsQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan quote")
		}
		quotes = append(quotes, *q)
	}
	return quotes, eris.Wrap(rows.Err(), "sqlite: list quotes rows")
}

func (s *SQLiteStore) CountProps(ctx context.Context, sport model.Sport, season int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_props p
		JOIN games g ON g.game_id = p.game_id WHERE g.sport = ? AND g.season = ?`,
		string(sport), season).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count props")
}

func (s *SQLiteStore) RecordProvenance(ctx context.Context, p model.FieldProvenance) error {
	if p.FetchedAt.IsZero() {
		p.FetchedAt = s.nowFunc()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO field_provenance (game_id, field, provider, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (game_id, field) DO UPDATE SET provider = excluded.provider, fetched_at = excluded.fetched_at`,
		p.GameID, p.Field, p.Provider, p.FetchedAt.UTC())
	return eris.Wrapf(err, "sqlite: record provenance %s/%s", p.GameID, p.Field)
}

func (s *SQLiteStore) Provenance(ctx context.Context, gameID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, provider FROM field_provenance WHERE game_id = ?`, gameID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: provenance")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string)
	for rows.Next() {
		var field, provider string
		if err := rows.Scan(&field, &provider); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		out[field] = provider
	}
	return out, eris.Wrap(rows.Err(), "sqlite: provenance rows")
}

func (s *SQLiteStore) ChunkDone(ctx context.Context, sport model.Sport, r model.DateRange) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collection_chunks
		WHERE sport = ? AND start_date = ? AND end_date = ?`,
		string(sport), r.StartDate(), r.EndDate()).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: chunk done")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkChunk(ctx context.Context, sport model.Sport, season int, r model.DateRange, games int) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO collection_chunks (sport, start_date, end_date, season, games, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sport, start_date, end_date) DO UPDATE SET games = excluded.games, completed_at = excluded.completed_at`,
		string(sport), r.StartDate(), r.EndDate(), season, games, s.nowFunc().UTC())
	return eris.Wrapf(err, "sqlite: mark chunk %s %s", sport, r)
}

func (s *SQLiteStore) StartRun(ctx context.Context, args string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Args:      args,
		StartedAt: s.nowFunc().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_runs (id, status, args, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Args, run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status model.RunStatus, summary any, errMsg string) error {
	sum, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE collection_runs SET status = ?, summary = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), sum, errMsg, s.nowFunc().UTC(), id)
	if err != nil {
		return eris.Wrap(err, "sqlite: finish run")
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) LastRun(ctx context.Context) (*model.Run, error) {
	var r model.Run
	var status string
	var summary sql.NullString
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT id, status, args, summary, error, started_at, finished_at
		FROM collection_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &status, &r.Args, &summary, &r.Error, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "last run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last run")
	}
	r.Status = model.RunStatus(status)
	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// Clear removes every record for sport, or for all sports when sport is
// empty. It returns the number of games deleted.
func (s *SQLiteStore) Clear(ctx context.Context, sport model.Sport) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin clear")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, q := range clearStatements(sport != "") {
		var args []any
		if sport != "" {
			args = append(args, string(sport))
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: clear")
		}
		n, _ = res.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit clear")
	}
	return int(n), nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
