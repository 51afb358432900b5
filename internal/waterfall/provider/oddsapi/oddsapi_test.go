package oddsapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	api "github.com/omegalab/histcollect/pkg/oddsapi"
)

func ptr[T any](v T) *T { return &v }

type fakeClient struct {
	odds       *api.Snapshot[[]api.Event]
	events     *api.Snapshot[[]api.Event]
	eventOdds  *api.Snapshot[api.Event]
	err        error
	at         time.Time
	propMarket []string
	eventID    string
}

func (f *fakeClient) HistoricalOdds(_ context.Context, _ string, at time.Time, _ []string) (*api.Snapshot[[]api.Event], error) {
	f.at = at
	return f.odds, f.err
}

func (f *fakeClient) HistoricalEvents(_ context.Context, _ string, at time.Time) (*api.Snapshot[[]api.Event], error) {
	f.at = at
	return f.events, f.err
}

func (f *fakeClient) HistoricalEventOdds(_ context.Context, _ string, id string, _ time.Time, markets []string) (*api.Snapshot[api.Event], error) {
	f.eventID, f.propMarket = id, markets
	return f.eventOdds, f.err
}

var tipoff = time.Date(2023, 10, 24, 23, 30, 0, 0, time.UTC)

func denverLakers() api.Event {
	return api.Event{
		ID: "ev1", CommenceTime: tipoff,
		HomeTeam: "Denver Nuggets", AwayTeam: "Los Angeles Lakers",
		Bookmakers: []api.Bookmaker{{Key: "fanduel", Markets: []api.Market{
			{Key: "h2h", Outcomes: []api.Outcome{{Name: "Denver Nuggets", Price: -250}, {Name: "Los Angeles Lakers", Price: 205}}},
			{Key: "spreads", Outcomes: []api.Outcome{{Name: "Denver Nuggets", Price: -110, Point: ptr(-6.5)}, {Name: "Los Angeles Lakers", Price: -110, Point: ptr(6.5)}}},
			{Key: "totals", Outcomes: []api.Outcome{{Name: "Over", Price: -112, Point: ptr(228.5)}, {Name: "Under", Price: -108, Point: ptr(228.5)}}},
		}}},
	}
}

func TestFetchOdds(t *testing.T) {
	nextDay := denverLakers()
	nextDay.ID, nextDay.CommenceTime = "ev2", tipoff.Add(24*time.Hour)
	fc := &fakeClient{odds: &api.Snapshot[[]api.Event]{Timestamp: tipoff.Add(-8 * time.Hour), Data: []api.Event{denverLakers(), nextDay}}}

	quotes, err := New(fc).FetchOdds(context.Background(), model.SportNBA, "2023-10-24")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 10, 24, 16, 0, 0, 0, time.UTC), fc.at)
	require.Len(t, quotes, 3)

	ml, spread, total := quotes[0], quotes[1], quotes[2]
	assert.Equal(t, -250.0, *ml.HomeOdds)
	assert.Equal(t, 205.0, *ml.AwayOdds)
	assert.Equal(t, -6.5, *spread.Line)
	assert.Equal(t, 228.5, *total.Line)
	assert.Equal(t, -108.0, *total.UnderOdds)
	assert.Equal(t, "fanduel", total.Bookmaker)
	assert.False(t, total.Timestamp.IsZero())
}

func TestFetchOdds_NoEventsIsNotFound(t *testing.T) {
	fc := &fakeClient{odds: &api.Snapshot[[]api.Event]{}}
	_, err := New(fc).FetchOdds(context.Background(), model.SportNFL, "2023-09-07")
	assert.Equal(t, resilience.OutcomeNotFound, resilience.Classify(err))
}

func TestFetchProps(t *testing.T) {
	fc := &fakeClient{
		events: &api.Snapshot[[]api.Event]{Data: []api.Event{
			{ID: "ev0", CommenceTime: tipoff, HomeTeam: "Golden State Warriors", AwayTeam: "Phoenix Suns"},
			{ID: "ev1", CommenceTime: tipoff, HomeTeam: "Denver Nuggets", AwayTeam: "Los Angeles Lakers"},
		}},
		eventOdds: &api.Snapshot[api.Event]{Data: api.Event{ID: "ev1", Bookmakers: []api.Bookmaker{{Key: "draftkings", Markets: []api.Market{
			{Key: "player_points", Outcomes: []api.Outcome{
				{Name: "Over", Description: "Nikola Jokic", Price: -115, Point: ptr(27.5)},
				{Name: "Under", Description: "Nikola Jokic", Price: -105, Point: ptr(27.5)},
				{Name: "Over", Description: "LeBron James", Price: -110, Point: ptr(24.5)},
			}},
		}}}}},
	}
	rec := model.GameRecord{ID: "NBA-x", Sport: model.SportNBA, Date: "2023-10-24", HomeTeam: "Denver Nuggets", AwayTeam: "Los Angeles Lakers"}

	props, err := New(fc).FetchProps(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "ev1", fc.eventID)
	assert.Equal(t, PropMarkets[model.SportNBA], fc.propMarket)
	require.Len(t, props, 2)
	assert.Equal(t, "Nikola Jokic", props[0].Player)
	assert.Equal(t, -115.0, *props[0].OverOdds)
	assert.Equal(t, -105.0, *props[0].UnderOdds)
	assert.Nil(t, props[1].UnderOdds)
}

func TestFetchProps_NoEvent(t *testing.T) {
	fc := &fakeClient{events: &api.Snapshot[[]api.Event]{}}
	rec := model.GameRecord{Sport: model.SportNFL, Date: "2023-09-07", HomeTeam: "Kansas City Chiefs", AwayTeam: "Detroit Lions"}
	_, err := New(fc).FetchProps(context.Background(), rec)
	assert.Equal(t, resilience.OutcomeNotFound, resilience.Classify(err))
}

func TestFetchProps_ClientError(t *testing.T) {
	fc := &fakeClient{err: resilience.NewTransientError(assert.AnError, 429)}
	rec := model.GameRecord{Sport: model.SportNBA, Date: "2023-10-24", HomeTeam: "Denver Nuggets", AwayTeam: "Los Angeles Lakers"}
	_, err := New(fc).FetchProps(context.Background(), rec)
	assert.Equal(t, resilience.OutcomeTransient, resilience.Classify(err))
}
