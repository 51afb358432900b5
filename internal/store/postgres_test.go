package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := newPostgresStore(mock, nil)
	return s, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_UpsertGame_Inserted(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	g := testGame("2023-10-24", "Denver Nuggets", "Los Angeles Lakers")

	mock.ExpectExec(`INSERT INTO games \(game_id, .*\) VALUES \(\$1, .*\$29\) ON CONFLICT \(game_id\) DO NOTHING`).
		WithArgs(anyArgs(len(gameColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := s.UpsertGame(context.Background(), g, model.PhaseSchedule)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertGame_ExistingOddsUpdate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	g := testGame("2023-10-24", "Denver Nuggets", "Los Angeles Lakers")
	g.MoneylineHome = ptr(-250.0)
	g.HasOdds = true

	mock.ExpectExec(`INSERT INTO games`).
		WithArgs(anyArgs(len(gameColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	args := anyArgs(11)
	args[10] = g.ID
	mock.ExpectExec(`UPDATE games SET moneyline_home = COALESCE\(\$1, moneyline_home\).*has_odds = GREATEST\(has_odds, \$9\), updated_at = \$10 WHERE game_id = \$11`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	inserted, err := s.UpsertGame(context.Background(), g, model.PhaseOdds)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertGame_UpdateMissingRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	g := testGame("2023-10-24", "Denver Nuggets", "Los Angeles Lakers")

	mock.ExpectExec(`INSERT INTO games`).
		WithArgs(anyArgs(len(gameColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectExec(`UPDATE games SET has_props`).
		WithArgs(anyArgs(3)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.UpsertGame(context.Background(), g, model.PhaseProps)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetGame_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT game_id, .* FROM games WHERE game_id = \$1`).
		WithArgs("NBA-missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetGame(context.Background(), "NBA-missing")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	r := mustRange(t, "2023-10-24", "2023-10-31")

	mock.ExpectQuery(`SELECT game_id FROM games WHERE sport = \$1 AND date >= \$2 AND date <= \$3`).
		WithArgs("NBA", "2023-10-24", "2023-10-31").
		WillReturnRows(pgxmock.NewRows([]string{"game_id"}).AddRow("NBA-a").AddRow("NBA-b"))

	ids, err := s.ExistingIDs(context.Background(), model.SportNBA, r)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "NBA-b")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ChunkDone(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	r := mustRange(t, "2023-10-24", "2023-10-31")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM collection_chunks`).
		WithArgs("NFL", "2023-10-24", "2023-10-31").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	done, err := s.ChunkDone(context.Background(), model.SportNFL, r)
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkChunk_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	r := mustRange(t, "2023-10-24", "2023-10-31")

	mock.ExpectExec(`ON CONFLICT \(sport, start_date, end_date\) DO UPDATE`).
		WithArgs("NBA", "2023-10-24", "2023-10-31", 2024, 41, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.MarkChunk(context.Background(), model.SportNBA, 2024, r, 41))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendQuotes_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"odds_quotes"}, quoteColumns).WillReturnResult(2)

	err := s.AppendQuotes(context.Background(), []model.OddsQuote{
		{GameID: "NBA-a", Bookmaker: "fanduel", MarketType: model.MarketTotal, Line: ptr(224.5), Source: "oddsapi", Timestamp: time.Now()},
		{GameID: "NBA-a", Bookmaker: "draftkings", MarketType: model.MarketTotal, Line: ptr(225.0), Source: "oddsapi", Timestamp: time.Now()},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendProps_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	require.NoError(t, s.AppendProps(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordProvenance_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO field_provenance .* ON CONFLICT \(game_id, field\) DO UPDATE`).
		WithArgs("NBA-a", "odds", "oddsapi", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordProvenance(context.Background(), model.FieldProvenance{GameID: "NBA-a", Field: "odds", Provider: "oddsapi"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE collection_runs SET status = \$1`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "missing", model.RunStatusFailed, nil, "boom")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastRun_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, args, summary, error, started_at, finished_at FROM collection_runs`).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LastRun(context.Background())
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Clear_BySport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM odds_quotes WHERE game_id IN \(SELECT game_id FROM games WHERE sport = \$1\)`).
		WithArgs("NBA").WillReturnResult(pgxmock.NewResult("DELETE", 10))
	mock.ExpectExec(`DELETE FROM player_props`).WithArgs("NBA").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM field_provenance`).WithArgs("NBA").WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM collection_chunks WHERE sport = \$1`).WithArgs("NBA").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM games WHERE sport = \$1`).WithArgs("NBA").WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.Clear(context.Background(), model.SportNBA)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
