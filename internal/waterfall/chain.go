// Package waterfall resolves each field category through a prioritized chain
// of providers. The first provider that answers wins; later providers are
// not called.
package waterfall

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/omegalab/histcollect/internal/cache"
	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/ratelimit"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/waterfall/provider"
)

// Resolution is a successful chain answer.
type Resolution[T any] struct {
	Value    T
	Provider string
	CacheHit bool
}

// Chain runs the provider waterfall for every category. It is safe for
// concurrent use; the disabled and tried sets live for one run.
type Chain struct {
	cfg      *Config
	registry *provider.Registry
	cache    cache.Cache
	limits   *ratelimit.Registry
	breakers *resilience.Breakers

	mu       sync.Mutex
	disabled map[string]bool
	tried    map[string]bool
}

// NewChain creates a chain. A nil cache disables caching and a nil limiter
// registry disables pacing.
func NewChain(cfg *Config, registry *provider.Registry, c cache.Cache, limits *ratelimit.Registry) *Chain {
	if cfg == nil {
		cfg = Default()
	}
	if c == nil {
		c = cache.Nop{}
	}
	if limits == nil {
		limits = ratelimit.New(nil, 0)
	}
	return &Chain{
		cfg:      cfg,
		registry: registry,
		cache:    c,
		limits:   limits,
		breakers: resilience.NewBreakers(cfg.Circuit()),
		disabled: make(map[string]bool),
		tried:    make(map[string]bool),
	}
}

// Disabled lists providers switched off for the run after an auth failure.
func (c *Chain) Disabled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name := range c.disabled {
		out = append(out, name)
	}
	return out
}

// Breakers exposes the per-provider circuit states.
func (c *Chain) Breakers() map[string]resilience.CircuitState {
	return c.breakers.States()
}

func (c *Chain) isDisabled(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled[name]
}

func (c *Chain) disable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[name] = true
}

func (c *Chain) wasTried(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tried[key]
}

func (c *Chain) markTried(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tried[key] = true
}

// request describes one chain invocation. fetch calls the provider and its
// payload is what gets cached; pick derives the answer from the payload and
// may reject it as not found.
type request[T, R any] struct {
	category model.Phase
	sport    model.Sport
	key      string
	endpoint string
	args     map[string]any
	fetch    func(ctx context.Context, p provider.Provider) (T, error)
	pick     func(T) (R, error)
}

func run[T, R any](ctx context.Context, c *Chain, req request[T, R]) (Resolution[R], error) {
	var zero Resolution[R]
	log := zap.L().With(
		zap.String("category", string(req.category)),
		zap.String("sport", string(req.sport)),
		zap.String("key", req.key),
	)
	if c.wasTried(req.key) {
		return zero, eris.Wrapf(resilience.ErrSkipped, "waterfall: %s already tried", req.key)
	}

	var lastErr error
	for _, name := range c.cfg.Sources(req.category, req.sport) {
		p := c.registry.Get(name)
		if p == nil || c.isDisabled(name) {
			continue
		}
		plog := log.With(zap.String("provider", name))

		var (
			payload T
			err     error
			hit     bool
		)
		fp := cache.Fingerprint(name, req.endpoint, req.args)
		if data, ok := c.cache.Get(fp); ok && json.Unmarshal(data, &payload) == nil {
			hit = true
		} else {
			if err := c.limits.Acquire(ctx, name); err != nil {
				return zero, err
			}
			payload, err = resilience.ExecuteVal(ctx, c.breakers.Get(name), func(ctx context.Context) (T, error) {
				return req.fetch(ctx, p)
			})
			if err == nil {
				if data, merr := json.Marshal(payload); merr == nil {
					if serr := c.cache.Set(fp, data); serr != nil {
						plog.Warn("waterfall: cache write failed", zap.Error(serr))
					}
				}
			}
		}
		var v R
		if err == nil {
			v, err = req.pick(payload)
		}
		if ctx.Err() != nil {
			return zero, eris.Wrap(ctx.Err(), "waterfall: cancelled")
		}

		switch resilience.Classify(err) {
		case resilience.OutcomeSuccess:
			return Resolution[R]{Value: v, Provider: name, CacheHit: hit}, nil
		case resilience.OutcomeSkipped:
			continue
		case resilience.OutcomeNotFound:
			plog.Debug("waterfall: not found", zap.Error(err))
			if lastErr == nil {
				lastErr = err
			}
		case resilience.OutcomeAuth:
			plog.Warn("waterfall: provider disabled for this run", zap.Error(err))
			c.disable(name)
			lastErr = err
		default:
			plog.Info("waterfall: provider failed", zap.Error(err))
			lastErr = err
		}
	}

	c.markTried(req.key)
	if lastErr == nil {
		return zero, eris.Wrapf(resilience.ErrNotFound, "waterfall: no %s provider for %s", req.category, req.sport)
	}
	return zero, eris.Wrapf(lastErr, "waterfall: %s exhausted", req.key)
}

func identity[T any](v T) (T, error) { return v, nil }

func unsupported(p provider.Provider, capability string) error {
	return eris.Wrapf(resilience.ErrUnsupported, "%s: %s", p.Name(), capability)
}

// Schedule lists the games in r.
func (c *Chain) Schedule(ctx context.Context, sport model.Sport, r model.DateRange) (Resolution[[]provider.RawGame], error) {
	return run(ctx, c, request[[]provider.RawGame, []provider.RawGame]{
		category: model.PhaseSchedule,
		sport:    sport,
		key:      "schedule|" + string(sport) + "|" + r.String(),
		endpoint: "schedule",
		args:     map[string]any{"sport": sport, "start": r.StartDate(), "end": r.EndDate()},
		fetch: func(ctx context.Context, p provider.Provider) ([]provider.RawGame, error) {
			s, ok := p.(provider.ScheduleSource)
			if !ok {
				return nil, unsupported(p, "schedule")
			}
			return s.FetchSchedule(ctx, sport, r)
		},
		pick: identity[[]provider.RawGame],
	})
}

func gameArgs(game model.GameRecord) map[string]any {
	return map[string]any{
		"sport": game.Sport,
		"date":  game.Date,
		"home":  game.HomeTeam,
		"away":  game.AwayTeam,
	}
}

// BoxScore returns the final score and team statistics for game.
func (c *Chain) BoxScore(ctx context.Context, game model.GameRecord) (Resolution[*provider.RawStats], error) {
	return run(ctx, c, request[*provider.RawStats, *provider.RawStats]{
		category: model.PhaseStats,
		sport:    game.Sport,
		key:      "stats|" + game.ID,
		endpoint: "boxscore",
		args:     gameArgs(game),
		fetch: func(ctx context.Context, p provider.Provider) (*provider.RawStats, error) {
			s, ok := p.(provider.BoxScoreSource)
			if !ok {
				return nil, unsupported(p, "box score")
			}
			return s.FetchBoxScore(ctx, game)
		},
		pick: identity[*provider.RawStats],
	})
}

// Odds returns the quotes for game. Providers answer per date, so the
// cached payload serves every game played that day.
func (c *Chain) Odds(ctx context.Context, game model.GameRecord) (Resolution[[]provider.RawQuote], error) {
	return run(ctx, c, request[[]provider.RawQuote, []provider.RawQuote]{
		category: model.PhaseOdds,
		sport:    game.Sport,
		key:      "odds|" + game.ID,
		endpoint: "odds",
		args:     map[string]any{"sport": game.Sport, "date": game.Date},
		fetch: func(ctx context.Context, p provider.Provider) ([]provider.RawQuote, error) {
			s, ok := p.(provider.OddsSource)
			if !ok {
				return nil, unsupported(p, "odds")
			}
			return s.FetchOdds(ctx, game.Sport, game.Date)
		},
		pick: func(all []provider.RawQuote) ([]provider.RawQuote, error) {
			quotes := provider.FilterGame(all, game.HomeTeam, game.AwayTeam, func(q provider.RawQuote) (string, string) {
				return q.HomeTeam, q.AwayTeam
			})
			if len(quotes) == 0 {
				return nil, eris.Wrapf(resilience.ErrNotFound, "waterfall: no quotes for %s", game.ID)
			}
			return quotes, nil
		},
	})
}

// Props returns player prop lines for game.
func (c *Chain) Props(ctx context.Context, game model.GameRecord) (Resolution[[]provider.RawProp], error) {
	return run(ctx, c, request[[]provider.RawProp, []provider.RawProp]{
		category: model.PhaseProps,
		sport:    game.Sport,
		key:      "props|" + game.ID,
		endpoint: "props",
		args:     gameArgs(game),
		fetch: func(ctx context.Context, p provider.Provider) ([]provider.RawProp, error) {
			s, ok := p.(provider.PropSource)
			if !ok {
				return nil, unsupported(p, "props")
			}
			return s.FetchProps(ctx, game)
		},
		pick: identity[[]provider.RawProp],
	})
}

// Supplement asks for the missing supplemental fields of game.
func (c *Chain) Supplement(ctx context.Context, game model.GameRecord, missing []string) (Resolution[*provider.RawSupplement], error) {
	args := gameArgs(game)
	args["missing"] = missing
	return run(ctx, c, request[*provider.RawSupplement, *provider.RawSupplement]{
		category: model.PhaseSupplemental,
		sport:    game.Sport,
		key:      "supplemental|" + game.ID,
		endpoint: "supplement",
		args:     args,
		fetch: func(ctx context.Context, p provider.Provider) (*provider.RawSupplement, error) {
			s, ok := p.(provider.SupplementSource)
			if !ok {
				return nil, unsupported(p, "supplement")
			}
			return s.FetchSupplement(ctx, game, missing)
		},
		pick: identity[*provider.RawSupplement],
	})
}
