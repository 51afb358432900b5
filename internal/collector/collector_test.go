package collector

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/store"
	"github.com/omegalab/histcollect/internal/validate"
	"github.com/omegalab/histcollect/internal/waterfall"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// matchups are twelve opening-week games, two per day.
var matchups = [][3]string{
	{"2023-10-24", "Denver Nuggets", "Los Angeles Lakers"},
	{"2023-10-24", "Golden State Warriors", "Phoenix Suns"},
	{"2023-10-25", "Boston Celtics", "New York Knicks"},
	{"2023-10-25", "Miami Heat", "Detroit Pistons"},
	{"2023-10-26", "Chicago Bulls", "Oklahoma City Thunder"},
	{"2023-10-26", "Utah Jazz", "Sacramento Kings"},
	{"2023-10-27", "Atlanta Hawks", "Charlotte Hornets"},
	{"2023-10-27", "Orlando Magic", "Cleveland Cavaliers"},
	{"2023-10-28", "Milwaukee Bucks", "Toronto Raptors"},
	{"2023-10-28", "Portland Trail Blazers", "San Antonio Spurs"},
	{"2023-10-29", "Dallas Mavericks", "Brooklyn Nets"},
	{"2023-10-29", "Houston Rockets", "Indiana Pacers"},
}

// league is a fake provider answering every category from matchups.
type league struct {
	mu        sync.Mutex
	failStats map[string]bool
	missing   map[string][]string

	// rename respells team names in schedule answers.
	rename map[string]string

	scheduleCalls atomic.Int32
	statsCalls    atomic.Int32
	oddsCalls     atomic.Int32
	suppCalls     atomic.Int32
	propCalls     atomic.Int32

	onSchedule func()
	onBoxScore func(call int32)
}

func newLeague() *league {
	return &league{failStats: map[string]bool{}, missing: map[string][]string{}}
}

func (l *league) Name() string        { return "fake" }
func (l *league) Kind() provider.Kind { return provider.KindPrimary }

func (l *league) FetchSchedule(_ context.Context, sport model.Sport, r model.DateRange) ([]provider.RawGame, error) {
	l.scheduleCalls.Add(1)
	if l.onSchedule != nil {
		l.onSchedule()
	}
	var out []provider.RawGame
	for _, m := range matchups {
		if r.Contains(m[0]) {
			out = append(out, provider.RawGame{Sport: sport, Date: m[0], HomeTeam: l.spell(m[1]), AwayTeam: l.spell(m[2]), Source: "fake"})
		}
	}
	if len(out) == 0 {
		return nil, eris.Wrap(resilience.ErrNotFound, "fake: no games")
	}
	return out, nil
}

func (l *league) spell(team string) string {
	if s, ok := l.rename[team]; ok {
		return s
	}
	return team
}

func (l *league) FetchBoxScore(_ context.Context, game model.GameRecord) (*provider.RawStats, error) {
	n := l.statsCalls.Add(1)
	if l.onBoxScore != nil {
		l.onBoxScore(n)
	}
	l.mu.Lock()
	fail := l.failStats[game.HomeTeam]
	l.mu.Unlock()
	if fail {
		return nil, eris.New("fake: upstream timeout")
	}
	return &provider.RawStats{
		HomeScore: ptr(110), AwayScore: ptr(101), Status: "Final",
		Home:   map[string]float64{"pts": 110, "reb": 44},
		Away:   map[string]float64{"pts": 101, "reb": 39},
		Source: "fake",
	}, nil
}

func (l *league) FetchOdds(_ context.Context, _ model.Sport, date string) ([]provider.RawQuote, error) {
	l.oddsCalls.Add(1)
	var out []provider.RawQuote
	for _, m := range matchups {
		if m[0] != date {
			continue
		}
		out = append(out,
			provider.RawQuote{HomeTeam: m[1], AwayTeam: m[2], Bookmaker: "fanduel", MarketType: model.MarketMoneyline,
				HomeOdds: ptr(-150.0), AwayOdds: ptr(130.0), Source: "fake"},
			provider.RawQuote{HomeTeam: m[1], AwayTeam: m[2], Bookmaker: "fanduel", MarketType: model.MarketTotal,
				Line: ptr(221.5), OverOdds: ptr(-110.0), UnderOdds: ptr(-110.0), Source: "fake"},
		)
	}
	return out, nil
}

func (l *league) FetchProps(_ context.Context, game model.GameRecord) ([]provider.RawProp, error) {
	l.propCalls.Add(1)
	out := make([]provider.RawProp, 0, 10)
	for i := 0; i < 10; i++ {
		out = append(out, provider.RawProp{
			Player: game.HomeTeam + " starter " + string(rune('A'+i)), Market: "player_points",
			Bookmaker: "draftkings", Line: ptr(18.5), OverOdds: ptr(-115.0), UnderOdds: ptr(-105.0), Source: "fake",
		})
	}
	return out, nil
}

func (l *league) FetchSupplement(_ context.Context, game model.GameRecord, missing []string) (*provider.RawSupplement, error) {
	l.suppCalls.Add(1)
	l.mu.Lock()
	l.missing[game.ID] = missing
	l.mu.Unlock()
	return &provider.RawSupplement{Venue: ptr("Ball Arena"), Attendance: ptr(19842), Source: "fake"}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func chainConfig() *waterfall.Config {
	cfg := waterfall.Default()
	for _, p := range model.Phases {
		cfg.Categories[p] = waterfall.CategoryConfig{Sources: []waterfall.SourceConfig{{Name: "fake"}}}
	}
	return cfg
}

// newCollector builds a collector with a fresh chain, as each CLI
// invocation does.
func newCollector(st store.Store, l *league, opts Options) *Collector {
	reg := provider.NewRegistry()
	reg.Register(l)
	chain := waterfall.NewChain(chainConfig(), reg, nil, nil)
	return New(st, chain, nil, opts).WithNow(func() time.Time { return fixedNow })
}

func exactThresholds() validate.Thresholds {
	th := validate.DefaultThresholds()
	th.ExpectedGames[model.SportNBA] = len(matchups)
	return th
}

func scheduleOnly() Request {
	return Request{Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024}, Phases: []model.Phase{model.PhaseSchedule}}
}

func phaseCounters(t *testing.T, sr SeasonReport, phase model.Phase) Counters {
	t.Helper()
	for _, p := range sr.Phases {
		if p.Phase == phase {
			return p.Counters
		}
	}
	t.Fatalf("phase %s not in report", phase)
	return Counters{}
}

func TestRun_ScheduleInsertsOnlyNewGames(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	for _, m := range matchups[:2] {
		_, err := st.UpsertGame(ctx, model.GameRecord{
			ID: model.GameID(model.SportNBA, m[0], m[1], m[2]), Sport: model.SportNBA, Season: 2024,
			Date: m[0], HomeTeam: m[1], AwayTeam: m[2],
		}, model.PhaseSchedule)
		require.NoError(t, err)
	}

	report, err := newCollector(st, newLeague(), Options{}).Run(ctx, scheduleOnly())
	require.NoError(t, err)
	require.Len(t, report.Seasons, 1)

	c := phaseCounters(t, report.Seasons[0], model.PhaseSchedule)
	assert.Equal(t, 12, c.Fetched)
	assert.Equal(t, 10, c.Inserted)
	assert.Equal(t, 2, c.Skipped)
	assert.Zero(t, c.Errors)
	assert.Positive(t, c.NotFound)

	n, err := st.CountBySportSeason(ctx, model.SportNBA, 2024)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, model.StateScheduled, report.Seasons[0].EndState)
}

func TestRun_SecondRunInsertsNothing(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first, err := newCollector(st, newLeague(), Options{}).Run(ctx, scheduleOnly())
	require.NoError(t, err)
	assert.Equal(t, 12, first.Totals.Inserted)

	second, err := newCollector(st, newLeague(), Options{}).Run(ctx, scheduleOnly())
	require.NoError(t, err)
	assert.Zero(t, second.Totals.Inserted)
	assert.Equal(t, 12, second.Totals.Skipped)

	n, err := st.CountBySportSeason(ctx, model.SportNBA, 2024)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestRun_SameGameUnderOtherTeamNamesIsOneRow(t *testing.T) {
	tests := []struct {
		name          string
		first, second map[string]string
	}{
		{"abbreviated city", map[string]string{"Los Angeles Lakers": "LA Lakers"}, nil},
		{"full then nickname", nil, map[string]string{"Los Angeles Lakers": "Lakers"}},
		{"dotted abbreviation", map[string]string{"New York Knicks": "N.Y. Knicks"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := newTestStore(t)

			first := newLeague()
			first.rename = tt.first
			report, err := newCollector(st, first, Options{}).Run(ctx, scheduleOnly())
			require.NoError(t, err)
			assert.Equal(t, 12, report.Totals.Inserted)

			second := newLeague()
			second.rename = tt.second
			report, err = newCollector(st, second, Options{}).Run(ctx, scheduleOnly())
			require.NoError(t, err)
			assert.Zero(t, report.Totals.Inserted)
			assert.Equal(t, 12, report.Totals.Skipped)

			n, err := st.CountBySportSeason(ctx, model.SportNBA, 2024)
			require.NoError(t, err)
			assert.Equal(t, 12, n)
		})
	}
}

func TestRun_ScheduleScoresMergeIntoRowStoredUnderOtherNames(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := matchups[0]
	id := model.GameID(model.SportNBA, m[0], m[1], "LA Lakers")
	_, err := st.UpsertGame(ctx, model.GameRecord{
		ID: id, Sport: model.SportNBA, Season: 2024, Date: m[0], HomeTeam: m[1], AwayTeam: "LA Lakers",
	}, model.PhaseSchedule)
	require.NoError(t, err)

	scored := &scoredLeague{league: newLeague()}
	reg := provider.NewRegistry()
	reg.Register(scored)
	chain := waterfall.NewChain(chainConfig(), reg, nil, nil)
	report, err := New(st, chain, nil, Options{}).WithNow(func() time.Time { return fixedNow }).Run(ctx, scheduleOnly())
	require.NoError(t, err)
	assert.Equal(t, 11, report.Totals.Inserted)

	g, err := st.GetGame(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, g.HomeScore)
	assert.Equal(t, 120, *g.HomeScore)

	n, err := st.CountBySportSeason(ctx, model.SportNBA, 2024)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

// scoredLeague reports final scores with its schedule.
type scoredLeague struct{ *league }

func (s *scoredLeague) FetchSchedule(ctx context.Context, sport model.Sport, r model.DateRange) ([]provider.RawGame, error) {
	games, err := s.league.FetchSchedule(ctx, sport, r)
	for i := range games {
		games[i].HomeScore, games[i].AwayScore = ptr(120), ptr(99)
		games[i].Status = "Final"
	}
	return games, err
}

func TestRun_ResumeSkipsCollectedChunks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	l := newLeague()
	_, err := newCollector(st, l, Options{}).Run(ctx, scheduleOnly())
	require.NoError(t, err)
	assert.Positive(t, l.scheduleCalls.Load())

	again := newLeague()
	req := scheduleOnly()
	req.Resume = true
	report, err := newCollector(st, again, Options{}).Run(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, again.scheduleCalls.Load())
	assert.Zero(t, report.Totals.Fetched)

	fresh := newLeague()
	_, err = newCollector(st, fresh, Options{}).Run(ctx, scheduleOnly())
	require.NoError(t, err)
	assert.Equal(t, l.scheduleCalls.Load(), fresh.scheduleCalls.Load())
}

func TestRun_AllPhasesReachValidated(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	l := newLeague()

	report, err := newCollector(st, l, Options{Workers: 4, Thresholds: exactThresholds()}).Run(ctx, Request{
		Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024},
	})
	require.NoError(t, err)
	require.Len(t, report.Seasons, 1)
	sr := report.Seasons[0]

	assert.Equal(t, model.StatePending, sr.StartState)
	assert.Equal(t, model.StateValidated, sr.EndState)
	assert.Empty(t, sr.Anomalies)
	require.Len(t, sr.Phases, len(model.Phases))
	for _, p := range model.Phases[1:] {
		assert.Equal(t, 12, phaseCounters(t, sr, p).Enriched, "phase %s", p)
	}

	require.NotNil(t, sr.Coverage)
	assert.Equal(t, 120, sr.Coverage.Props)
	assert.Equal(t, 24, sr.Coverage.Quotes)

	assert.Equal(t, int32(12), l.oddsCalls.Load())

	id := model.GameID(model.SportNBA, "2023-10-24", "Denver Nuggets", "Los Angeles Lakers")
	g, err := st.GetGame(ctx, id)
	require.NoError(t, err)
	assert.True(t, g.HasStats)
	assert.True(t, g.HasOdds)
	assert.True(t, g.HasSupplemental)
	assert.True(t, g.HasProps)
	assert.Equal(t, 110, *g.HomeScore)
	assert.InDelta(t, -150.0, *g.MoneylineHome, 0.001)
	assert.InDelta(t, 221.5, *g.TotalLine, 0.001)
	assert.Equal(t, "Ball Arena", g.Venue)
	assert.Equal(t, 19842, *g.Attendance)
	assert.JSONEq(t, `{"home":{"pts":110,"reb":44},"away":{"pts":101,"reb":39},"source":"fake"}`, string(g.Stats))

	prov, err := st.Provenance(ctx, id)
	require.NoError(t, err)
	for _, p := range model.Phases {
		assert.Equal(t, "fake", prov[string(p)], "provenance for %s", p)
	}

	last, err := st.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, last.ID)
	assert.Equal(t, model.RunStatusComplete, last.Status)
}

func TestRun_FailuresAndAnomaliesAreNonFatal(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	l := newLeague()
	l.failStats["Denver Nuggets"] = true

	req := Request{
		Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024},
		Phases: []model.Phase{model.PhaseSchedule, model.PhaseStats},
	}
	report, err := newCollector(st, l, Options{Workers: 3}).Run(ctx, req)
	require.NoError(t, err)

	sr := report.Seasons[0]
	stats := phaseCounters(t, sr, model.PhaseStats)
	assert.Equal(t, 11, stats.Enriched)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, model.StateScheduled, sr.EndState)

	// 12 games against a full-season expectation.
	require.NotEmpty(t, report.Anomalies())
	assert.Equal(t, validate.AnomalyLowCount, report.Anomalies()[0].Kind)

	last, err := st.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, last.Status)

	// The failed record is retried by the next run and nothing else is.
	retry := newLeague()
	report, err = newCollector(st, retry, Options{Workers: 3}).Run(ctx, req)
	require.NoError(t, err)
	stats = phaseCounters(t, report.Seasons[0], model.PhaseStats)
	assert.Equal(t, 1, stats.Enriched)
	assert.Equal(t, int32(1), retry.statsCalls.Load())
	assert.Equal(t, model.StateStatsEnriched, report.Seasons[0].EndState)
}

func TestRun_SupplementAsksOnlyForMissingFields(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := matchups[0]
	id := model.GameID(model.SportNBA, m[0], m[1], m[2])
	_, err := st.UpsertGame(ctx, model.GameRecord{
		ID: id, Sport: model.SportNBA, Season: 2024, Date: m[0], HomeTeam: m[1], AwayTeam: m[2],
		Venue: "Ball Arena",
	}, model.PhaseSchedule)
	require.NoError(t, err)

	l := newLeague()
	req := Request{
		Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024},
		Phases: []model.Phase{model.PhaseStats, model.PhaseSupplemental},
	}
	report, err := newCollector(st, l, Options{}).Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, phaseCounters(t, report.Seasons[0], model.PhaseSupplemental).Enriched)

	assert.Equal(t, []string{model.FieldAttendance, model.FieldReferee}, l.missing[id])
	g, err := st.GetGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ball Arena", g.Venue)
	assert.Equal(t, 19842, *g.Attendance)
	assert.Empty(t, g.Referee)
	assert.True(t, g.HasSupplemental)
}

func TestRun_SupplementWaitsForStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	l := newLeague()
	l.failStats["Denver Nuggets"] = true

	report, err := newCollector(st, l, Options{}).Run(ctx, Request{
		Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024},
		Phases: []model.Phase{model.PhaseSchedule, model.PhaseStats, model.PhaseSupplemental},
	})
	require.NoError(t, err)

	supp := phaseCounters(t, report.Seasons[0], model.PhaseSupplemental)
	assert.Equal(t, 11, supp.Enriched)
	assert.Equal(t, 1, supp.Skipped)
	assert.Equal(t, int32(11), l.suppCalls.Load())
}

func TestRun_FutureSeasonIsReported(t *testing.T) {
	st := newTestStore(t)
	report, err := newCollector(st, newLeague(), Options{}).Run(context.Background(), Request{
		Sports: []model.Sport{model.SportNBA}, Seasons: []int{2030},
	})
	require.NoError(t, err)
	require.Len(t, report.Seasons, 1)
	assert.NotEmpty(t, report.Seasons[0].Error)
	assert.Empty(t, report.Seasons[0].Phases)
}

func TestRun_CancelledRunIsLoggedFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := newTestStore(t)
	l := newLeague()
	l.onSchedule = cancel

	_, err := newCollector(st, l, Options{}).Run(ctx, scheduleOnly())
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
	assert.Equal(t, int32(1), l.scheduleCalls.Load())

	last, err := st.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, last.Status)
}

// storedGames lists the NBA rows without their write timestamps.
func storedGames(t *testing.T, st store.Store) []model.GameRecord {
	t.Helper()
	games, err := st.ListGames(context.Background(), store.GameFilter{Sport: model.SportNBA})
	require.NoError(t, err)
	for i := range games {
		games[i].CreatedAt, games[i].UpdatedAt = time.Time{}, time.Time{}
	}
	return games
}

func TestRun_ResumedRunMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	all := Request{Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024}}

	want := newTestStore(t)
	_, err := newCollector(want, newLeague(), Options{Thresholds: exactThresholds()}).Run(ctx, all)
	require.NoError(t, err)

	got := newTestStore(t)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	interrupted := newLeague()
	interrupted.onBoxScore = func(call int32) {
		if call == 5 {
			cancel()
		}
	}
	_, err = newCollector(got, interrupted, Options{Thresholds: exactThresholds()}).Run(runCtx, all)
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.Canceled))
	assert.Zero(t, interrupted.oddsCalls.Load())

	resumed := all
	resumed.Resume = true
	again := newLeague()
	report, err := newCollector(got, again, Options{Thresholds: exactThresholds()}).Run(ctx, resumed)
	require.NoError(t, err)
	assert.Zero(t, again.scheduleCalls.Load())
	assert.Less(t, again.statsCalls.Load(), int32(12))
	assert.Equal(t, model.StateValidated, report.Seasons[0].EndState)

	assert.Equal(t, storedGames(t, want), storedGames(t, got))

	wantCov, err := want.Coverage(ctx, model.SportNBA, 2024)
	require.NoError(t, err)
	gotCov, err := got.Coverage(ctx, model.SportNBA, 2024)
	require.NoError(t, err)
	assert.Equal(t, wantCov, gotCov)

	for _, g := range storedGames(t, want) {
		wantProv, err := want.Provenance(ctx, g.ID)
		require.NoError(t, err)
		gotProv, err := got.Provenance(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, wantProv, gotProv, g.ID)
	}
}

func TestDeriveState_EmptyStore(t *testing.T) {
	state, cov, err := DeriveState(context.Background(), newTestStore(t), model.SportNFL, 2023)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, state)
	assert.Zero(t, cov.Games)
}
