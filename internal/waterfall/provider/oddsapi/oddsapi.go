// Package oddsapi adapts The Odds API historical endpoints to the odds and
// player prop source contracts.
package oddsapi

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
	api "github.com/omegalab/histcollect/pkg/oddsapi"
)

// Name is the provider name used in config and provenance.
const Name = "oddsapi"

// snapshotHour is the UTC hour of the pre-game snapshot (noon Eastern),
// before the earliest tip-off or kickoff on a game day.
const snapshotHour = 16

// PropMarkets are the player prop markets requested per sport.
var PropMarkets = map[model.Sport][]string{
	model.SportNBA: {"player_points", "player_rebounds", "player_assists"},
	model.SportNFL: {"player_pass_yds", "player_rush_yds", "player_reception_yds"},
}

var (
	_ provider.OddsSource = (*Source)(nil)
	_ provider.PropSource = (*Source)(nil)
)

// Source is the odds and props provider.
type Source struct {
	client api.Client
}

// New wraps an Odds API client.
func New(client api.Client) *Source {
	return &Source{client: client}
}

func (s *Source) Name() string        { return Name }
func (s *Source) Kind() provider.Kind { return provider.KindOdds }

func sportKey(sport model.Sport) (string, error) {
	switch sport {
	case model.SportNBA:
		return api.SportKeyNBA, nil
	case model.SportNFL:
		return api.SportKeyNFL, nil
	default:
		return "", eris.Wrapf(resilience.ErrUnsupported, "%s: %s", Name, sport)
	}
}

func snapshotAt(date string) (time.Time, error) {
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return time.Time{}, resilience.NewFatalError(eris.Wrapf(err, "%s: date %q", Name, date), 0)
	}
	return d.Add(snapshotHour * time.Hour), nil
}

// FetchOdds returns game-level quotes for every event that starts on date
// (Eastern).
func (s *Source) FetchOdds(ctx context.Context, sport model.Sport, date string) ([]provider.RawQuote, error) {
	key, err := sportKey(sport)
	if err != nil {
		return nil, err
	}
	at, err := snapshotAt(date)
	if err != nil {
		return nil, err
	}
	snap, err := s.client.HistoricalOdds(ctx, key, at, api.GameMarkets)
	if err != nil {
		return nil, err
	}

	var out []provider.RawQuote
	for _, ev := range snap.Data {
		if ev.CommenceTime.In(provider.Eastern).Format(model.DateLayout) != date {
			continue
		}
		out = append(out, eventQuotes(ev, snap.Timestamp)...)
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no odds for %s %s", Name, sport, date)
	}
	return out, nil
}

func eventQuotes(ev api.Event, fallback time.Time) []provider.RawQuote {
	var out []provider.RawQuote
	for _, bm := range ev.Bookmakers {
		for _, m := range bm.Markets {
			q := provider.RawQuote{
				HomeTeam:   ev.HomeTeam,
				AwayTeam:   ev.AwayTeam,
				Bookmaker:  bm.Key,
				MarketType: m.Key,
				Source:     Name,
				Timestamp:  m.LastUpdate,
			}
			if q.Timestamp.IsZero() {
				q.Timestamp = fallback
			}
			for _, o := range m.Outcomes {
				price := o.Price
				switch {
				case m.Key == model.MarketTotal && o.Name == "Over":
					q.Line, q.OverOdds = o.Point, &price
				case m.Key == model.MarketTotal && o.Name == "Under":
					q.UnderOdds = &price
				case o.Name == ev.HomeTeam:
					q.HomeOdds = &price
					if m.Key == model.MarketSpread {
						q.Line = o.Point
					}
				case o.Name == ev.AwayTeam:
					q.AwayOdds = &price
				}
			}
			out = append(out, q)
		}
	}
	return out
}

// FetchProps finds the event for rec in the historical event list and
// returns its player prop lines, one per player, market and bookmaker.
func (s *Source) FetchProps(ctx context.Context, rec model.GameRecord) ([]provider.RawProp, error) {
	key, err := sportKey(rec.Sport)
	if err != nil {
		return nil, err
	}
	markets := PropMarkets[rec.Sport]
	at, err := snapshotAt(rec.Date)
	if err != nil {
		return nil, err
	}
	events, err := s.client.HistoricalEvents(ctx, key, at)
	if err != nil {
		return nil, err
	}
	var sameDay []api.Event
	for _, ev := range events.Data {
		if ev.CommenceTime.IsZero() || ev.CommenceTime.In(provider.Eastern).Format(model.DateLayout) == rec.Date {
			sameDay = append(sameDay, ev)
		}
	}
	ev, ok := provider.FindGame(sameDay, rec.HomeTeam, rec.AwayTeam, func(e api.Event) (string, string) {
		return e.HomeTeam, e.AwayTeam
	})
	if !ok {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no event for %s", Name, rec.ID)
	}

	snap, err := s.client.HistoricalEventOdds(ctx, key, ev.ID, at, markets)
	if err != nil {
		return nil, err
	}
	props := eventProps(snap.Data, snap.Timestamp)
	if len(props) == 0 {
		return nil, eris.Wrapf(resilience.ErrNotFound, "%s: no props for %s", Name, rec.ID)
	}
	return props, nil
}

func eventProps(ev api.Event, fallback time.Time) []provider.RawProp {
	type propKey struct{ book, market, player string }
	index := make(map[propKey]int)
	var out []provider.RawProp
	for _, bm := range ev.Bookmakers {
		for _, m := range bm.Markets {
			ts := m.LastUpdate
			if ts.IsZero() {
				ts = fallback
			}
			for _, o := range m.Outcomes {
				if o.Description == "" {
					continue
				}
				k := propKey{bm.Key, m.Key, o.Description}
				i, ok := index[k]
				if !ok {
					i = len(out)
					index[k] = i
					out = append(out, provider.RawProp{
						Player: o.Description, Market: m.Key, Bookmaker: bm.Key,
						Line: o.Point, Source: Name, Timestamp: ts,
					})
				}
				price := o.Price
				switch o.Name {
				case "Over":
					out[i].OverOdds = &price
				case "Under":
					out[i].UnderOdds = &price
				}
			}
		}
	}
	return out
}
