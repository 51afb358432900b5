package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/store"
)

// outcome is what a worker reports for one record.
type outcome int

const (
	outcomeFetched outcome = iota
	outcomeInvalid
	outcomeNotFound
	outcomeSkipped
	outcomeError
)

// result carries a worker's answer to the writer. For outcomeFetched, game
// holds the columns owned by phase and quotes/props the history rows.
type result struct {
	kind     outcome
	phase    model.Phase
	game     *model.GameRecord
	quotes   []model.OddsQuote
	props    []model.PropRecord
	provider string
	cacheHit bool
	invalid  int
}

// writer is the only goroutine that writes to the store or touches
// counters.
type writer struct {
	st  store.Store
	now func() time.Time
	c   Counters
}

// run drains in until it is closed. Writes use a context that survives
// cancellation so results already fetched are not lost on shutdown.
func (w *writer) run(ctx context.Context, in <-chan result) {
	wctx := context.WithoutCancel(ctx)
	for r := range in {
		w.apply(wctx, r)
	}
}

func (w *writer) apply(ctx context.Context, r result) {
	if r.cacheHit {
		w.c.CacheHits++
	}
	w.c.Invalid += r.invalid
	switch r.kind {
	case outcomeInvalid:
		w.c.Fetched++
		w.c.Invalid++
	case outcomeNotFound:
		w.c.NotFound++
	case outcomeSkipped:
		w.c.Skipped++
	case outcomeError:
		w.c.Errors++
	case outcomeFetched:
		w.c.Fetched++
		inserted, err := w.persist(ctx, r)
		if err != nil {
			zap.L().Error("collector: persist failed",
				zap.String("phase", string(r.phase)),
				zap.String("game_id", r.game.ID),
				zap.Error(err),
			)
			w.c.Errors++
			return
		}
		switch {
		case inserted:
			w.c.Inserted++
		case r.phase == model.PhaseSchedule:
			w.c.Skipped++
		default:
			w.c.Enriched++
		}
	}
}

// persist writes history rows before the game row so a crash between the
// two leaves the phase flag unset and the record is retried.
func (w *writer) persist(ctx context.Context, r result) (bool, error) {
	if err := w.st.AppendQuotes(ctx, r.quotes); err != nil {
		return false, err
	}
	if err := w.st.AppendProps(ctx, r.props); err != nil {
		return false, err
	}
	inserted, err := w.st.UpsertGame(ctx, *r.game, r.phase)
	if err != nil {
		return false, err
	}
	if r.provider != "" && (inserted || r.phase != model.PhaseSchedule) {
		err = w.st.RecordProvenance(ctx, model.FieldProvenance{
			GameID:    r.game.ID,
			Field:     string(r.phase),
			Provider:  r.provider,
			FetchedAt: w.now().UTC(),
		})
		if err != nil {
			zap.L().Warn("collector: provenance not recorded", zap.String("game_id", r.game.ID), zap.Error(err))
		}
	}
	return inserted, nil
}
