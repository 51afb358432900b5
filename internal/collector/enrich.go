package collector

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/validate"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

// runEnrichment fans the records still missing phase out over the worker
// pool. Workers only fetch and validate; every store write and counter
// update happens on the writer goroutine.
func (c *Collector) runEnrichment(ctx context.Context, phase model.Phase, sport model.Sport, window model.DateRange) (Counters, error) {
	log := zap.L().With(zap.String("sport", string(sport)), zap.String("phase", string(phase)))
	records, err := c.st.RecordsMissing(ctx, phase, sport, window)
	if err != nil {
		log.Error("collector: records missing", zap.Error(err))
		return Counters{Errors: 1}, nil
	}
	if len(records) == 0 {
		return Counters{}, nil
	}
	log.Info("phase started", zap.Int("records", len(records)), zap.Int("workers", c.opts.Workers))

	w := &writer{st: c.st, now: c.nowFunc}
	results := make(chan result, c.opts.Workers*2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx, results)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, rec := range records {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r := c.enrich(gctx, phase, rec)
			select {
			case results <- r:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()
	close(results)
	<-done

	if err := ctx.Err(); err != nil {
		return w.c, eris.Wrapf(err, "collector: %s cancelled", phase)
	}
	if waitErr != nil {
		return w.c, eris.Wrapf(waitErr, "collector: %s workers", phase)
	}
	return w.c, nil
}

// enrich fetches and validates one record for phase.
func (c *Collector) enrich(ctx context.Context, phase model.Phase, rec model.GameRecord) result {
	switch phase {
	case model.PhaseStats:
		return c.enrichStats(ctx, rec)
	case model.PhaseOdds:
		return c.enrichOdds(ctx, rec)
	case model.PhaseSupplemental:
		return c.enrichSupplemental(ctx, rec)
	case model.PhaseProps:
		return c.enrichProps(ctx, rec)
	default:
		zap.L().Error("collector: unknown phase", zap.String("phase", string(phase)))
		return result{kind: outcomeError, phase: phase}
	}
}

// failed maps a chain error to a result.
func failed(phase model.Phase, rec model.GameRecord, err error) result {
	switch resilience.Classify(err) {
	case resilience.OutcomeNotFound:
		return result{kind: outcomeNotFound, phase: phase}
	case resilience.OutcomeSkipped:
		return result{kind: outcomeSkipped, phase: phase}
	default:
		zap.L().Warn("collector: fetch failed",
			zap.String("phase", string(phase)),
			zap.String("game_id", rec.ID),
			zap.Error(err),
		)
		return result{kind: outcomeError, phase: phase}
	}
}

func rejected(phase model.Phase, rec model.GameRecord, err error, cacheHit bool) result {
	zap.L().Debug("collector: rejected", zap.String("phase", string(phase)), zap.String("game_id", rec.ID), zap.Error(err))
	return result{kind: outcomeInvalid, phase: phase, cacheHit: cacheHit}
}

func (c *Collector) enrichStats(ctx context.Context, rec model.GameRecord) result {
	res, err := c.sources.BoxScore(ctx, rec)
	if err != nil {
		return failed(model.PhaseStats, rec, err)
	}
	raw := res.Value
	if err := c.validator.Stats(rec, raw); err != nil {
		return rejected(model.PhaseStats, rec, err, res.CacheHit)
	}

	upd := rec
	if raw.HomeScore != nil {
		upd.HomeScore = raw.HomeScore
	}
	if raw.AwayScore != nil {
		upd.AwayScore = raw.AwayScore
	}
	if raw.Status != "" {
		upd.Status = raw.Status
	}
	if upd.Venue == "" {
		upd.Venue = raw.Venue
	}
	if upd.Attendance == nil {
		upd.Attendance = raw.Attendance
	}
	if len(raw.Home) > 0 || len(raw.Away) > 0 {
		stats, err := json.Marshal(teamStats{Home: raw.Home, Away: raw.Away, Source: raw.Source})
		if err != nil {
			return rejected(model.PhaseStats, rec, err, res.CacheHit)
		}
		upd.Stats = stats
	}
	upd.HasStats = true
	return result{kind: outcomeFetched, phase: model.PhaseStats, game: &upd, provider: res.Provider, cacheHit: res.CacheHit}
}

// teamStats is the stored JSON shape of the stats column.
type teamStats struct {
	Home   map[string]float64 `json:"home,omitempty"`
	Away   map[string]float64 `json:"away,omitempty"`
	Source string             `json:"source,omitempty"`
}

func (c *Collector) enrichOdds(ctx context.Context, rec model.GameRecord) result {
	res, err := c.sources.Odds(ctx, rec)
	if err != nil {
		return failed(model.PhaseOdds, rec, err)
	}
	quotes, dropped := validQuotes(c.validator, rec.ID, res.Value)
	if len(quotes) == 0 {
		return result{kind: outcomeInvalid, phase: model.PhaseOdds, cacheHit: res.CacheHit}
	}
	upd := rec
	upd.ApplyQuotes(quotes)
	upd.HasOdds = true
	return result{
		kind: outcomeFetched, phase: model.PhaseOdds, game: &upd, quotes: quotes,
		provider: res.Provider, cacheHit: res.CacheHit, invalid: dropped,
	}
}

func validQuotes(v *validate.Validator, gameID string, raws []provider.RawQuote) ([]model.OddsQuote, int) {
	out := make([]model.OddsQuote, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		q, err := v.Quote(gameID, raw)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, q)
	}
	return out, dropped
}

// enrichSupplemental asks only for fields that are still empty. Records
// without a box score are left for a later run.
func (c *Collector) enrichSupplemental(ctx context.Context, rec model.GameRecord) result {
	if !rec.HasStats {
		return result{kind: outcomeSkipped, phase: model.PhaseSupplemental}
	}
	upd := rec
	upd.HasSupplemental = true
	missing := rec.MissingSupplemental()
	if len(missing) == 0 {
		return result{kind: outcomeFetched, phase: model.PhaseSupplemental, game: &upd}
	}

	res, err := c.sources.Supplement(ctx, rec, missing)
	if err != nil {
		return failed(model.PhaseSupplemental, rec, err)
	}
	filled, fields, err := c.validator.Supplement(rec, res.Value, missing)
	if err != nil {
		return rejected(model.PhaseSupplemental, rec, err, res.CacheHit)
	}
	zap.L().Debug("collector: supplemented", zap.String("game_id", rec.ID), zap.Strings("fields", fields))
	filled.HasSupplemental = true
	return result{kind: outcomeFetched, phase: model.PhaseSupplemental, game: &filled, provider: res.Provider, cacheHit: res.CacheHit}
}

func (c *Collector) enrichProps(ctx context.Context, rec model.GameRecord) result {
	res, err := c.sources.Props(ctx, rec)
	if err != nil {
		return failed(model.PhaseProps, rec, err)
	}
	props := make([]model.PropRecord, 0, len(res.Value))
	dropped := 0
	for _, raw := range res.Value {
		p, err := c.validator.Prop(rec.ID, raw)
		if err != nil {
			dropped++
			continue
		}
		props = append(props, p)
	}
	if len(props) == 0 {
		return result{kind: outcomeInvalid, phase: model.PhaseProps, cacheHit: res.CacheHit}
	}
	upd := rec
	upd.HasProps = true
	return result{
		kind: outcomeFetched, phase: model.PhaseProps, game: &upd, props: props,
		provider: res.Provider, cacheHit: res.CacheHit, invalid: dropped,
	}
}
