package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/cache"
	"github.com/omegalab/histcollect/internal/collector"
	"github.com/omegalab/histcollect/internal/config"
	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/validate"
	"github.com/omegalab/histcollect/internal/waterfall"
)

func collectFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "collect"}
	addCollectFlags(c.Flags())
	require.NoError(t, c.Flags().Parse(args))
	return c
}

// testConfig is a config with no credentials and caching off.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store = config.StoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "games.db")}
	c.Cache = config.CacheConfig{Disabled: true}
	c.Collector = config.CollectorConfig{Workers: 1, Tolerance: 0.9, PropsPerGame: 10, MinPropCoverage: 0.8}
	c.RateLimit = config.RateLimitConfig{Default: time.Millisecond}
	c.Retry = config.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond}
	c.Waterfall = config.WaterfallConfig{FailureThreshold: 5, ResetTimeout: time.Minute}
	return c
}

func TestParsePhases(t *testing.T) {
	got, err := parsePhases([]string{"schedule", " ODDS ", ""})
	require.NoError(t, err)
	assert.Equal(t, []model.Phase{model.PhaseSchedule, model.PhaseOdds}, got)

	got, err = parsePhases(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parsePhases([]string{"boxscores"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown phase")
}

func TestCollectRequest(t *testing.T) {
	req, err := collectRequest(collectFlagCmd(t,
		"--sport", "nba", "--years", "2022-2024", "--phases", "schedule,stats", "--resume"))
	require.NoError(t, err)
	assert.Equal(t, []model.Sport{model.SportNBA}, req.Sports)
	assert.Equal(t, []int{2022, 2023, 2024}, req.Seasons)
	assert.Equal(t, []model.Phase{model.PhaseSchedule, model.PhaseStats}, req.Phases)
	assert.True(t, req.Resume)
}

func TestCollectRequest_DefaultsToAllSports(t *testing.T) {
	req, err := collectRequest(collectFlagCmd(t, "--years", "2023"))
	require.NoError(t, err)
	assert.Equal(t, model.CollectableSports, req.Sports)
	assert.Equal(t, []int{2023}, req.Seasons)
	assert.Empty(t, req.Phases)
	assert.False(t, req.Resume)
}

func TestCollectRequest_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad sport", []string{"--sport", "cricket", "--years", "2023"}, "--sport"},
		{"missing years", []string{"--sport", "NBA"}, "--years"},
		{"reversed years", []string{"--years", "2024-2020"}, "--years"},
		{"bad phase", []string{"--years", "2023", "--phases", "weather"}, "--phases"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collectRequest(collectFlagCmd(t, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPrintReport(t *testing.T) {
	started := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &collector.Report{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(95 * time.Second),
		Seasons: []collector.SeasonReport{{
			Sport: model.SportNBA, Season: 2024,
			StartState: model.StatePending, EndState: model.StateStatsEnriched,
			Phases: []collector.PhaseReport{
				{Phase: model.PhaseSchedule, Counters: collector.Counters{Fetched: 12, Inserted: 10, Skipped: 2}},
				{Phase: model.PhaseStats, Counters: collector.Counters{Enriched: 9, Errors: 1}},
			},
			Anomalies: []validate.Anomaly{{
				Sport: model.SportNBA, Season: 2024, Kind: validate.AnomalyLowCount,
				Message: "10 games stored, expected at least 1107",
			}},
		}},
		Totals:   collector.Counters{Fetched: 12, Inserted: 10, Enriched: 9, Skipped: 2, Errors: 1},
		Disabled: []string{"oddsapi"},
	}

	var buf bytes.Buffer
	printReport(&buf, r)
	out := buf.String()

	assert.Contains(t, out, "Run run-1 (1m35s)")
	assert.Contains(t, out, "INSERTED")
	assert.Contains(t, out, "schedule")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "NBA 2024: PENDING -> STATS_ENRICHED")
	assert.Contains(t, out, "[low_count] 10 games stored")
	assert.Contains(t, out, "Disabled providers: oddsapi")
}

func TestPrintCircuits(t *testing.T) {
	var buf bytes.Buffer
	printCircuits(&buf, map[string]resilience.CircuitState{"balldontlie": resilience.CircuitClosed})
	assert.Empty(t, buf.String())

	printCircuits(&buf, map[string]resilience.CircuitState{
		"sportsref":   resilience.CircuitOpen,
		"balldontlie": resilience.CircuitClosed,
		"oddsapi":     resilience.CircuitHalfOpen,
	})
	assert.Equal(t, "Circuit breakers not closed: oddsapi (half-open), sportsref (open)\n", buf.String())
}

func TestBuildRegistry(t *testing.T) {
	c := testConfig(t)
	assert.Equal(t, []string{"sportsref"}, buildRegistry(c).List())

	c.Balldontlie.Key = "bdl"
	c.OddsAPI.Key = "odds"
	c.OddsAPI.Regions = "us"
	c.Perplexity.Key = "pplx"
	c.Perplexity.Model = "sonar"
	c.Anthropic.Key = "sk-ant"
	assert.Equal(t,
		[]string{"anthropic", "balldontlie", "oddsapi", "perplexity", "sportsref"},
		buildRegistry(c).List())
}

func TestBuildScrapeChain(t *testing.T) {
	c := testConfig(t)
	assert.Equal(t, []string{"local_http"}, buildScrapeChain(c, http.DefaultClient).Fetchers())

	c.Browser.Enabled = true
	c.Jina.BaseURL = "https://r.jina.ai"
	c.Firecrawl.Key = "fc-key"
	assert.Equal(t, []string{"local_http", "browser", "jina", "firecrawl"}, buildScrapeChain(c, http.DefaultClient).Fetchers())
}

func TestBuildCache(t *testing.T) {
	c := testConfig(t)
	assert.IsType(t, cache.Nop{}, buildCache(c))

	c.Cache = config.CacheConfig{Dir: filepath.Join(t.TempDir(), "cache"), TTL: time.Hour}
	assert.IsType(t, &cache.FileCache{}, buildCache(c))
}

func TestBuildCache_UnusableDirRunsUncached(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := testConfig(t)
	c.Cache = config.CacheConfig{Dir: filepath.Join(blocker, "cache"), TTL: time.Hour}
	assert.IsType(t, cache.Nop{}, buildCache(c))
}

func TestLoadWaterfall(t *testing.T) {
	c := testConfig(t)
	c.Waterfall.FailureThreshold = 3
	c.Waterfall.ResetTimeout = 2 * time.Minute
	got := loadWaterfall(c)
	assert.Equal(t, waterfall.Default().Categories, got.Categories)
	assert.Equal(t, 3, got.Defaults.Circuit.FailureThreshold)
	assert.Equal(t, 2*time.Minute, got.Defaults.Circuit.ResetTimeout)

	c.Waterfall.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	got = loadWaterfall(c)
	assert.Equal(t, waterfall.Default().Categories, got.Categories)
	assert.Equal(t, 3, got.Defaults.Circuit.FailureThreshold)

	path := filepath.Join(t.TempDir(), "waterfall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("waterfall:\n  defaults:\n    circuit:\n      failure_threshold: 9\n"), 0o644))
	c.Waterfall.ConfigPath = path
	assert.Equal(t, 9, loadWaterfall(c).Defaults.Circuit.FailureThreshold)
}

func TestCollectOnce_CancelledIsNotAnError(t *testing.T) {
	oldCfg := cfg
	defer func() { cfg = oldCfg }()
	cfg = testConfig(t)

	st, err := openStore(context.Background(), cfg.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	req := collector.Request{Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024}}
	require.NoError(t, collectOnce(ctx, st, req, "", &buf))
	assert.Contains(t, buf.String(), "Interrupted")

	n, err := st.CountBySportSeason(context.Background(), model.SportNBA, 2024)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCollectOnce_BadWaterfallAndCacheAreNotFatal(t *testing.T) {
	oldCfg := cfg
	defer func() { cfg = oldCfg }()
	cfg = testConfig(t)
	cfg.Waterfall.ConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	cfg.Cache = config.CacheConfig{Dir: filepath.Join(blocker, "cache"), TTL: time.Hour}

	st, err := openStore(context.Background(), cfg.Store)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	req := collector.Request{Sports: []model.Sport{model.SportNBA}, Seasons: []int{2024}}
	require.NoError(t, collectOnce(ctx, st, req, "", &buf))
	assert.Contains(t, buf.String(), "Interrupted")
}

func TestCollectEvery_InvalidSchedule(t *testing.T) {
	calls := 0
	err := collectEvery(context.Background(), "every tuesday-ish", func(context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
	assert.Zero(t, calls)
}

func TestCollectEvery_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := collectEvery(ctx, "@hourly", func(context.Context) error {
		calls++
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "runs once immediately, then exits on cancel")
}
