// Package collector runs the phased collection of game records for a set of
// sports and seasons. Each phase reads its input set from the store, so an
// interrupted run resumes where it stopped.
package collector

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/store"
	"github.com/omegalab/histcollect/internal/validate"
	"github.com/omegalab/histcollect/internal/waterfall"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

// Sources answers each phase through the provider chain. *waterfall.Chain
// implements it.
type Sources interface {
	Schedule(ctx context.Context, sport model.Sport, r model.DateRange) (waterfall.Resolution[[]provider.RawGame], error)
	BoxScore(ctx context.Context, game model.GameRecord) (waterfall.Resolution[*provider.RawStats], error)
	Odds(ctx context.Context, game model.GameRecord) (waterfall.Resolution[[]provider.RawQuote], error)
	Props(ctx context.Context, game model.GameRecord) (waterfall.Resolution[[]provider.RawProp], error)
	Supplement(ctx context.Context, game model.GameRecord, missing []string) (waterfall.Resolution[*provider.RawSupplement], error)
}

// Options tunes a Collector.
type Options struct {
	// Workers bounds the per-record fan-out. Default 1.
	Workers int
	// Thresholds for the end-of-season cardinality check.
	Thresholds validate.Thresholds
}

// Request selects what a run collects.
type Request struct {
	Sports  []model.Sport `json:"sports"`
	Seasons []int         `json:"seasons"`
	// Phases to run, in model.Phases order. Empty means all.
	Phases []model.Phase `json:"phases,omitempty"`
	// Resume skips schedule chunks already recorded as done.
	Resume bool `json:"resume"`
}

// Collector coordinates the phases of a run.
type Collector struct {
	st        store.Store
	sources   Sources
	validator *validate.Validator
	opts      Options
	nowFunc   func() time.Time
}

// New creates a Collector.
func New(st store.Store, sources Sources, v *validate.Validator, opts Options) *Collector {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Thresholds.Tolerance == 0 {
		opts.Thresholds = validate.DefaultThresholds()
	}
	if v == nil {
		v = validate.New()
	}
	return &Collector{st: st, sources: sources, validator: v, opts: opts, nowFunc: time.Now}
}

// WithNow sets a fixed clock for testing.
func (c *Collector) WithNow(now func() time.Time) *Collector {
	c.nowFunc = now
	return c
}

// phases returns the requested phases in execution order.
func (req Request) phases() []model.Phase {
	if len(req.Phases) == 0 {
		return model.Phases
	}
	var out []model.Phase
	for _, p := range model.Phases {
		if slices.Contains(req.Phases, p) {
			out = append(out, p)
		}
	}
	return out
}

// Run collects every requested (sport, season). Provider and per-record
// failures are counted, never returned; the error is non-nil only when the
// run log cannot be written or ctx is cancelled.
func (c *Collector) Run(ctx context.Context, req Request) (*Report, error) {
	args, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "collector: encode request")
	}
	run, err := c.st.StartRun(ctx, string(args))
	if err != nil {
		return nil, eris.Wrap(err, "collector: start run")
	}

	report := &Report{RunID: run.ID, StartedAt: c.nowFunc().UTC()}
	log := zap.L().With(zap.String("run_id", run.ID))
	log.Info("collection started", zap.Any("sports", req.Sports), zap.Ints("seasons", req.Seasons))

	var runErr error
	for _, sport := range req.Sports {
		for _, season := range req.Seasons {
			sr, err := c.collectSeason(ctx, sport, season, req)
			report.Seasons = append(report.Seasons, sr)
			for _, p := range sr.Phases {
				report.Totals.Add(p.Counters)
			}
			if err != nil {
				runErr = err
				break
			}
		}
		if runErr != nil {
			break
		}
	}
	if d, ok := c.sources.(interface{ Disabled() []string }); ok {
		report.Disabled = d.Disabled()
	}
	report.FinishedAt = c.nowFunc().UTC()

	status, msg := model.RunStatusComplete, ""
	if runErr != nil {
		status, msg = model.RunStatusFailed, runErr.Error()
	}
	if err := c.st.FinishRun(context.WithoutCancel(ctx), run.ID, status, report, msg); err != nil {
		log.Warn("collector: finish run", zap.Error(err))
	}
	log.Info("collection finished",
		zap.String("status", string(status)),
		zap.Int("inserted", report.Totals.Inserted),
		zap.Int("enriched", report.Totals.Enriched),
		zap.Int("errors", report.Totals.Errors),
		zap.Int("anomalies", len(report.Anomalies())),
	)
	return report, runErr
}

// collectSeason runs every phase for one season and finishes with the
// cardinality check. The returned error is a cancellation only.
func (c *Collector) collectSeason(ctx context.Context, sport model.Sport, season int, req Request) (SeasonReport, error) {
	sr := SeasonReport{Sport: sport, Season: season}
	log := zap.L().With(zap.String("sport", string(sport)), zap.Int("season", season))

	window, err := model.SeasonWindow(sport, season)
	if err != nil {
		sr.Error = err.Error()
		log.Warn("collector: no season window", zap.Error(err))
		return sr, nil
	}
	window, ok := window.Clamp(c.nowFunc())
	if !ok {
		sr.Error = "season has not started"
		log.Info("collector: season has not started")
		return sr, nil
	}

	state, _, err := DeriveState(ctx, c.st, sport, season)
	if err != nil {
		sr.Error = err.Error()
		log.Error("collector: derive state", zap.Error(err))
		return sr, nil
	}
	sr.StartState = state
	log.Info("season started", zap.String("state", string(state)), zap.String("window", window.String()))

	phases := req.phases()
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return sr, eris.Wrap(err, "collector: cancelled")
		}
		start := c.nowFunc()
		var counters Counters
		if phase == model.PhaseSchedule {
			counters, err = c.runSchedule(ctx, sport, season, window, req.Resume)
		} else {
			counters, err = c.runEnrichment(ctx, phase, sport, window)
		}
		sr.Phases = append(sr.Phases, PhaseReport{Phase: phase, Counters: counters, Duration: c.nowFunc().Sub(start)})
		log.Info("phase finished",
			zap.String("phase", string(phase)),
			zap.Int("fetched", counters.Fetched),
			zap.Int("inserted", counters.Inserted),
			zap.Int("enriched", counters.Enriched),
			zap.Int("skipped", counters.Skipped),
			zap.Int("not_found", counters.NotFound),
			zap.Int("invalid", counters.Invalid),
			zap.Int("errors", counters.Errors),
		)
		if err != nil {
			return sr, err
		}
	}

	state, cov, err := DeriveState(ctx, c.st, sport, season)
	if err != nil {
		sr.Error = err.Error()
		return sr, nil
	}
	if n, ok := c.opts.Thresholds.ExpectedGames[sport]; ok {
		cov.ExpectedGames = n
	}
	sr.Coverage = cov
	sr.Anomalies = validate.Season(*cov, c.opts.Thresholds, slices.Contains(phases, model.PhaseProps))
	for _, a := range sr.Anomalies {
		log.Warn("collector: anomaly", zap.String("kind", string(a.Kind)), zap.String("message", a.Message))
	}
	if state == model.StatePropsCollected && len(sr.Anomalies) == 0 {
		state = model.StateValidated
	}
	sr.EndState = state
	return sr, nil
}
