package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/db"
	"github.com/omegalab/histcollect/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	d       dialect
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`

	// ReadOnly makes every session default to read-only transactions.
	ReadOnly bool `yaml:"-" mapstructure:"-"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	if poolCfg != nil && poolCfg.ReadOnly {
		pgxCfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: closeFn, d: postgresDialect, nowFunc: time.Now}
}

const postgresMigration = `
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
	stats            JSONB,
	moneyline_home   DOUBLE PRECISION,
	moneyline_away   DOUBLE PRECISION,
	spread_line      DOUBLE PRECISION,
	spread_home_odds DOUBLE PRECISION,
	spread_away_odds DOUBLE PRECISION,
	total_line       DOUBLE PRECISION,
	total_over_odds  DOUBLE PRECISION,
	total_under_odds DOUBLE PRECISION,
	attendance       INTEGER,
	referee          TEXT NOT NULL DEFAULT '',
	weather          TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS odds_quotes (
	id          BIGSERIAL PRIMARY KEY,
	game_id     TEXT NOT NULL REFERENCES games(game_id),
	bookmaker   TEXT NOT NULL,
	market_type TEXT NOT NULL,
	line        DOUBLE PRECISION,
	home_odds   DOUBLE PRECISION,
	away_odds   DOUBLE PRECISION,
	over_odds   DOUBLE PRECISION,
	under_odds  DOUBLE PRECISION,
	source      TEXT NOT NULL,
	quoted_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS player_props (
	id         BIGSERIAL PRIMARY KEY,
	game_id    TEXT NOT NULL REFERENCES games(game_id),
	player     TEXT NOT NULL,
	market     TEXT NOT NULL,
	line       DOUBLE PRECISION,
	over_odds  DOUBLE PRECISION,
	under_odds DOUBLE PRECISION,
	bookmaker  TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL,
	quoted_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS field_provenance (
	game_id    TEXT NOT NULL REFERENCES games(game_id),
	field      TEXT NOT NULL,
	provider   TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (game_id, field)
);

CREATE TABLE IF NOT EXISTS collection_chunks (
	sport        TEXT NOT NULL,
	start_date   TEXT NOT NULL,
	end_date     TEXT NOT NULL,
	season       INTEGER NOT NULL,
	games        INTEGER NOT NULL DEFAULT 0,
	completed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (sport, start_date, end_date)
);

CREATE TABLE IF NOT EXISTS collection_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status      TEXT NOT NULL DEFAULT 'running',
	args        TEXT NOT NULL DEFAULT '',
	summary     JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_games_sport_season ON games(sport, season);
CREATE INDEX IF NOT EXISTS idx_games_sport_date ON games(sport, date);
CREATE INDEX IF NOT EXISTS idx_odds_quotes_game_id ON odds_quotes(game_id);
CREATE INDEX IF NOT EXISTS idx_player_props_game_id ON player_props(game_id);
CREATE INDEX IF NOT EXISTS idx_collection_runs_started_at ON collection_runs(started_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertGame(ctx context.Context, rec model.GameRecord, phase model.Phase) (bool, error) {
	now := s.nowFunc().UTC()
	tag, err := s.pool.Exec(ctx, s.d.insertGameSQL(), gameArgs(rec, now)...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert game %s", rec.ID)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	q, args, err := s.d.phaseUpdate(rec, phase, now)
	if err != nil {
		return false, err
	}
	tag, err = s.pool.Exec(ctx, q, args...)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: update game %s (%s)", rec.ID, phase)
	}
	if tag.RowsAffected() == 0 {
		return false, eris.Wrapf(ErrNotFound, "game %s", rec.ID)
	}
	return false, nil
}

func (s *PostgresStore) GetGame(ctx context.Context, id string) (*model.GameRecord, error) {
	g, err := scanGame(s.pool.QueryRow(ctx, s.d.selectGamesSQL("WHERE game_id = ?"), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "game %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get game %s", id)
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

func (s *PostgresStore) ExistingIDs(ctx context.Context, sport model.Sport, r model.DateRange) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT game_id FROM games WHERE sport = $1 AND date >= $2 AND date <= $3`,
		string(sport), r.StartDate(), r.EndDate())
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing ids")
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan game id")
		}
		ids[id] = struct{}{}
	}
	return ids, eris.Wrap(rows.Err(), "postgres: existing ids rows")
}

func (s *PostgresStore) RecordsMissing(ctx context.Context, phase model.Phase, sport model.Sport, r model.DateRange) ([]model.GameRecord, error) {
	where, err := missingWhere(phase)
	if err != nil {
		return nil, err
	}
	return s.queryGames(ctx, s.d.selectGamesSQL(where), string(sport), r.StartDate(), r.EndDate())
}

func (s *PostgresStore) ListGames(ctx context.Context, filter GameFilter) ([]model.GameRecord, error) {
	where, args := gameFilterWhere(filter)
	return s.queryGames(ctx, s.d.selectGamesSQL(where), args...)
}

func (s *PostgresStore) queryGames(ctx context.Context, query string, args ...any) ([]model.GameRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query games")
	}
	defer rows.Close()

	var games []model.GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan game")
		}
		games = append(games, *g)
	}
	return games, eris.Wrap(rows.Err(), "postgres: query games rows")
}

func (s *PostgresStore) CountBySportSeason(ctx context.Context, sport model.Sport, season int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM games WHERE sport = $1 AND season = $2`, string(sport), season).Scan(&n)
	return n, eris.Wrap(err, "postgres: count games")
}

func (s *PostgresStore) Seasons(ctx context.Context) ([]SportSeason, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT sport, season FROM games ORDER BY sport, season`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: seasons")
	}
	defer rows.Close()

	var out []SportSeason
	for rows.Next() {
		var ss SportSeason
		var sport string
		if err := rows.Scan(&sport, &ss.Season); err != nil {
			return nil, eris.Wrap(err, "postgres: scan season")
		}
		ss.Sport = model.Sport(sport)
		out = append(out, ss)
	}
	return out, eris.Wrap(rows.Err(), "postgres: seasons rows")
}

func (s *PostgresStore) Coverage(ctx context.Context, sport model.Sport, season int) (*model.Coverage, error) {
	cov := &model.Coverage{Sport: sport, Season: season}
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
		COALESCE(SUM(has_stats), 0), COALESCE(SUM(has_odds), 0),
		COALESCE(SUM(has_supplemental), 0), COALESCE(SUM(has_props), 0)
		FROM games WHERE sport = $1 AND season = $2`, string(sport), season).
		Scan(&cov.Games, &cov.WithStats, &cov.WithOdds, &cov.WithSupp, &cov.WithProps)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: coverage")
	}
	if cov.Props, err = s.CountProps(ctx, sport, season); err != nil {
		return nil, err
	}
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM odds_quotes q
		JOIN games g ON g.game_id = q.game_id WHERE g.sport = $1 AND g.season = $2`,
		string(sport), season).Scan(&cov.Quotes)
	return cov, eris.Wrap(err, "postgres: count quotes")
}

// AppendQuotes bulk-loads quotes with COPY.
func (s *PostgresStore) AppendQuotes(ctx context.Context, quotes []model.OddsQuote) error {
	rows := make([][]any, 0, len(quotes))
	for _, q := range quotes {
		rows = append(rows, quoteArgs(q))
	}
	_, err := db.CopyFrom(ctx, s.pool, "odds_quotes", quoteColumns, rows)
	return eris.Wrap(err, "postgres: append quotes")
}

func (s *PostgresStore) AppendProps(ctx context.Context, props []model.PropRecord) error {
	rows := make([][]any, 0, len(props))
	for _, p := range props {
		rows = append(rows, propArgs(p))
	}
	_, err := db.CopyFrom(ctx, s.pool, "player_props", propColumns, rows)
	return eris.Wrap(err, "postgres: append props")
}

func (s *PostgresStore) ListQuotes(ctx context.Context, gameID string) ([]model.OddsQuote, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, `+joinColumns(quoteColumns)+`
		FROM odds_quotes WHERE game_id = $1 ORDER BY quoted_at, id`, gameID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quotes")
	}
	defer rows.Close()

	var quotes []model.OddsQuote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan quote")
		}
		quotes = append(quotes, *q)
	}
	return quotes, eris.Wrap(rows.Err(), "postgres: list quotes rows")
}

func (s *PostgresStore) CountProps(ctx context.Context, sport model.Sport, season int) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM player_props p
		JOIN games g ON g.game_id = p.game_id WHERE g.sport = $1 AND g.season = $2`,
		string(sport), season).Scan(&n)
	return n, eris.Wrap(err, "postgres: count props")
}

func (s *PostgresStore) RecordProvenance(ctx context.Context, p model.FieldProvenance) error {
	if p.FetchedAt.IsZero() {
		p.FetchedAt = s.nowFunc()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO field_provenance (game_id, field, provider, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (game_id, field) DO UPDATE SET provider = EXCLUDED.provider, fetched_at = EXCLUDED.fetched_at`,
		p.GameID, p.Field, p.Provider, p.FetchedAt.UTC())
	return eris.Wrapf(err, "postgres: record provenance %s/%s", p.GameID, p.Field)
}

func (s *PostgresStore) Provenance(ctx context.Context, gameID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, provider FROM field_provenance WHERE game_id = $1`, gameID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: provenance")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, provider string
		if err := rows.Scan(&field, &provider); err != nil {
			return nil, eris.Wrap(err, "postgres: scan provenance")
		}
		out[field] = provider
	}
	return out, eris.Wrap(rows.Err(), "postgres: provenance rows")
}

func (s *PostgresStore) ChunkDone(ctx context.Context, sport model.Sport, r model.DateRange) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM collection_chunks
		WHERE sport = $1 AND start_date = $2 AND end_date = $3`,
		string(sport), r.StartDate(), r.EndDate()).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "postgres: chunk done")
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkChunk(ctx context.Context, sport model.Sport, season int, r model.DateRange, games int) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO collection_chunks (sport, start_date, end_date, season, games, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sport, start_date, end_date) DO UPDATE SET games = EXCLUDED.games, completed_at = EXCLUDED.completed_at`,
		string(sport), r.StartDate(), r.EndDate(), season, games, s.nowFunc().UTC())
	return eris.Wrapf(err, "postgres: mark chunk %s %s", sport, r)
}

func (s *PostgresStore) StartRun(ctx context.Context, args string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Args:      args,
		StartedAt: s.nowFunc().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collection_runs (id, status, args, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.Args, run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, id string, status model.RunStatus, summary any, errMsg string) error {
	sum, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE collection_runs SET status = $1, summary = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), sum, errMsg, s.nowFunc().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

func (s *PostgresStore) LastRun(ctx context.Context) (*model.Run, error) {
	var r model.Run
	var status string
	var summary []byte
	err := s.pool.QueryRow(ctx, `SELECT id, status, args, summary, error, started_at, finished_at
		FROM collection_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &status, &r.Args, &summary, &r.Error, &r.StartedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "last run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last run")
	}
	r.Status = model.RunStatus(status)
	if len(summary) > 0 {
		r.Summary = json.RawMessage(summary)
	}
	return &r, nil
}

func (s *PostgresStore) Clear(ctx context.Context, sport model.Sport) (int, error) {
	var n int64
	for _, q := range clearStatements(sport != "") {
		var args []any
		if sport != "" {
			args = append(args, string(sport))
		}
		tag, err := s.pool.Exec(ctx, s.d.bind(q), args...)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: clear")
		}
		n = tag.RowsAffected()
	}
	return int(n), nil
}
