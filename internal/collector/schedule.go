package collector

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/store"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

// runSchedule walks the season window in weekly chunks, one at a time, and
// inserts games that are not stored yet. A chunk is logged as done once its
// games are persisted; on resume those chunks are not fetched again.
func (c *Collector) runSchedule(ctx context.Context, sport model.Sport, season int, window model.DateRange, resume bool) (Counters, error) {
	w := &writer{st: c.st, now: c.nowFunc}
	log := zap.L().With(zap.String("sport", string(sport)), zap.Int("season", season), zap.String("phase", string(model.PhaseSchedule)))
	wctx := context.WithoutCancel(ctx)

	for _, chunk := range window.WeeklyChunks() {
		if err := ctx.Err(); err != nil {
			return w.c, eris.Wrap(err, "collector: schedule cancelled")
		}
		clog := log.With(zap.String("chunk", chunk.String()))

		if resume {
			done, err := c.st.ChunkDone(ctx, sport, chunk)
			if err != nil {
				clog.Warn("collector: chunk log unreadable", zap.Error(err))
			} else if done {
				clog.Debug("collector: chunk already collected")
				continue
			}
		}

		res, err := c.sources.Schedule(ctx, sport, chunk)
		if ctx.Err() != nil {
			return w.c, eris.Wrap(ctx.Err(), "collector: schedule cancelled")
		}
		if res.CacheHit {
			w.c.CacheHits++
		}
		switch resilience.Classify(err) {
		case resilience.OutcomeSuccess:
		case resilience.OutcomeNotFound:
			// No games that week (breaks, off days).
			w.c.NotFound++
			c.markChunk(wctx, clog, sport, season, chunk, 0)
			continue
		case resilience.OutcomeSkipped:
			w.c.Skipped++
			continue
		default:
			clog.Warn("collector: schedule fetch failed", zap.Error(err))
			w.c.Errors++
			continue
		}

		known := c.knownGames(ctx, clog, sport, chunk)

		failed := w.c.Errors
		games := 0
		for _, raw := range res.Value {
			rec, err := c.validator.Game(raw, season)
			if err != nil {
				clog.Debug("collector: invalid game", zap.Error(err))
				w.apply(wctx, result{kind: outcomeInvalid, phase: model.PhaseSchedule})
				continue
			}
			games++
			stored := known.resolve(&rec)
			if stored && rec.HomeScore == nil && rec.AwayScore == nil {
				// Nothing a schedule entry could add to the stored row.
				w.c.Fetched++
				w.c.Skipped++
				continue
			}
			w.apply(wctx, result{kind: outcomeFetched, phase: model.PhaseSchedule, game: &rec, provider: res.Provider})
			if !stored {
				known.add(rec)
			}
		}
		if w.c.Errors == failed {
			c.markChunk(wctx, clog, sport, season, chunk, games)
		}
	}
	return w.c, nil
}

func (c *Collector) markChunk(ctx context.Context, log *zap.Logger, sport model.Sport, season int, chunk model.DateRange, games int) {
	if err := c.st.MarkChunk(ctx, sport, season, chunk, games); err != nil {
		log.Warn("collector: mark chunk", zap.Error(err))
	}
}

// knownGames indexes the games already stored for a chunk. Full rows are
// only loaded when a fetched ID is not among the stored ones.
type knownGames struct {
	ids    map[string]struct{}
	byDate map[string][]model.GameRecord
	load   func() []model.GameRecord
}

func (c *Collector) knownGames(ctx context.Context, log *zap.Logger, sport model.Sport, chunk model.DateRange) *knownGames {
	ids, err := c.st.ExistingIDs(ctx, sport, chunk)
	if err != nil {
		log.Warn("collector: existing ids", zap.Error(err))
		ids = nil
	}
	k := &knownGames{ids: make(map[string]struct{}, len(ids))}
	for id := range ids {
		k.ids[id] = struct{}{}
	}
	k.load = func() []model.GameRecord {
		games, err := c.st.ListGames(ctx, store.GameFilter{Sport: sport, Range: &chunk})
		if err != nil {
			log.Warn("collector: list stored games", zap.Error(err))
		}
		return games
	}
	return k
}

// resolve reports whether rec is already stored. A game stored under other
// team spellings on the same date is matched by team name and rec takes
// over its ID.
func (k *knownGames) resolve(rec *model.GameRecord) bool {
	if _, ok := k.ids[rec.ID]; ok {
		return true
	}
	if k.byDate == nil {
		k.byDate = make(map[string][]model.GameRecord)
		for _, g := range k.load() {
			k.byDate[g.Date] = append(k.byDate[g.Date], g)
		}
	}
	match, ok := provider.FindGame(k.byDate[rec.Date], rec.HomeTeam, rec.AwayTeam, func(g model.GameRecord) (string, string) {
		return g.HomeTeam, g.AwayTeam
	})
	if !ok {
		return false
	}
	rec.ID = match.ID
	return true
}

func (k *knownGames) add(rec model.GameRecord) {
	k.ids[rec.ID] = struct{}{}
	if k.byDate != nil {
		k.byDate[rec.Date] = append(k.byDate[rec.Date], rec)
	}
}
