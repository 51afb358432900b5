package balldontlie

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/omegalab/histcollect/internal/resilience"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key",
		WithBaseURL(srv.URL),
		WithPageLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}),
	)
}

func TestGames_Pagination(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/games", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "2023-10-24", r.URL.Query().Get("start_date"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("cursor") == "" {
			fmt.Fprint(w, `{"data":[{"id":1,"date":"2023-10-24","season":2023,"status":"Final",
				"home_team":{"id":8,"full_name":"Denver Nuggets"},"visitor_team":{"id":14,"full_name":"Los Angeles Lakers"},
				"home_team_score":119,"visitor_team_score":107}],"meta":{"next_cursor":1,"per_page":100}}`)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("cursor"))
		fmt.Fprint(w, `{"data":[{"id":2,"date":"2023-10-24","season":2023,"status":"Final",
			"home_team":{"id":10,"full_name":"Golden State Warriors"},"visitor_team":{"id":24,"full_name":"Phoenix Suns"},
			"home_team_score":104,"visitor_team_score":108}],"meta":{"per_page":100}}`)
	})

	games, err := c.Games(context.Background(), LeagueNBA, "2023-10-24", "2023-10-24")
	require.NoError(t, err)
	require.Len(t, games, 2)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Denver Nuggets", games[0].HomeTeam.FullName)
	assert.Equal(t, 107, *games[0].VisitorTeamScore)
	assert.Equal(t, "Phoenix Suns", games[1].VisitorTeam.FullName)
}

func TestGames_NFLPrefix(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nfl/v1/games", r.URL.Path)
		fmt.Fprint(w, `{"data":[],"meta":{}}`)
	})
	games, err := c.Games(context.Background(), LeagueNFL, "2023-09-07", "2023-09-14")
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestStats_AggregatesNumericFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats", r.URL.Path)
		assert.Equal(t, []string{"42"}, r.URL.Query()["game_ids[]"])
		fmt.Fprint(w, `{"data":[
			{"id":9,"pts":27,"reb":"12","min":"34","team":{"id":8},"player":{"id":1},"game":{"id":42}},
			{"id":10,"pts":21,"ast":null,"team":{"id":14}}
		],"meta":{}}`)
	})

	stats, err := c.Stats(context.Background(), LeagueNBA, 42)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 8, stats[0].TeamID)
	assert.Equal(t, 27.0, stats[0].Values["pts"])
	assert.NotContains(t, stats[0].Values, "min")
	assert.NotContains(t, stats[0].Values, "id")
	assert.Equal(t, 14, stats[1].TeamID)
}

func TestOdds_NumberDecoding(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"1", "2"}, r.URL.Query()["game_ids[]"])
		fmt.Fprint(w, `{"data":[{"id":5,"game_id":1,"vendor":"draftkings","spread_home_value":"-3.5",
			"spread_home_odds":-110,"moneyline_home_odds":-180,"moneyline_away_odds":"+150","total_value":null}],"meta":{}}`)
	})

	odds, err := c.Odds(context.Background(), LeagueNBA, []int{1, 2})
	require.NoError(t, err)
	require.Len(t, odds, 1)
	assert.InDelta(t, -3.5, *odds[0].SpreadHomeValue.Ptr(), 0.001)
	assert.InDelta(t, 150.0, *odds[0].MoneylineAwayOdds.Ptr(), 0.001)
	assert.Nil(t, odds[0].TotalValue.Ptr())

	none, err := c.Odds(context.Background(), LeagueNBA, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		want    resilience.Outcome
		wantHit int32
	}{
		{"unauthorized", http.StatusUnauthorized, resilience.OutcomeAuth, 1},
		{"not_found", http.StatusNotFound, resilience.OutcomeNotFound, 1},
		{"rate_limited", http.StatusTooManyRequests, resilience.OutcomeTransient, 2},
		{"bad_request", http.StatusBadRequest, resilience.OutcomeFatal, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})
			_, err := c.Games(context.Background(), LeagueNBA, "2023-10-24", "2023-10-24")
			require.Error(t, err)
			assert.Equal(t, tt.want, resilience.Classify(err))
			assert.Equal(t, tt.wantHit, calls.Load())
		})
	}
}

func TestClient_MissingKey(t *testing.T) {
	c := NewClient("")
	_, err := c.Games(context.Background(), LeagueNBA, "2023-10-24", "2023-10-24")
	assert.Equal(t, resilience.OutcomeAuth, resilience.Classify(err))
}

func TestClient_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	})
	_, err := c.Games(context.Background(), LeagueNBA, "2023-10-24", "2023-10-24")
	require.Error(t, err)
	assert.Equal(t, resilience.OutcomeFatal, resilience.Classify(err))
}
