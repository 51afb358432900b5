package waterfall

import (
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
)

// Config is the top-level waterfall configuration.
type Config struct {
	Defaults   DefaultConfig                  `yaml:"defaults"`
	Categories map[model.Phase]CategoryConfig `yaml:"categories"`
}

// DefaultConfig holds global defaults.
type DefaultConfig struct {
	Circuit CircuitConfig `yaml:"circuit"`
}

// CircuitConfig holds the per-provider breaker settings.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// CategoryConfig lists the providers for one field category in priority
// order.
type CategoryConfig struct {
	Sources []SourceConfig `yaml:"sources"`
}

// SourceConfig defines a source in a category's chain. An empty Sports list
// means every sport.
type SourceConfig struct {
	Name   string        `yaml:"name"`
	Sports []model.Sport `yaml:"sports,omitempty"`
}

// Default returns the built-in provider order.
func Default() *Config {
	return &Config{
		Defaults: DefaultConfig{
			Circuit: CircuitConfig{FailureThreshold: 5, ResetTimeout: 60 * time.Second},
		},
		Categories: map[model.Phase]CategoryConfig{
			model.PhaseSchedule:     {Sources: []SourceConfig{{Name: "balldontlie"}, {Name: "sportsref"}}},
			model.PhaseStats:        {Sources: []SourceConfig{{Name: "balldontlie"}, {Name: "sportsref"}}},
			model.PhaseOdds:         {Sources: []SourceConfig{{Name: "oddsapi"}, {Name: "balldontlie"}}},
			model.PhaseSupplemental: {Sources: []SourceConfig{{Name: "perplexity"}, {Name: "anthropic"}}},
			model.PhaseProps:        {Sources: []SourceConfig{{Name: "oddsapi"}}},
		},
	}
}

// LoadConfig reads waterfall config from a YAML file. An empty path returns
// the defaults. Categories missing from the file keep their default chain.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "waterfall: read config %s", path)
	}

	// The YAML has a top-level "waterfall" key
	var wrapper struct {
		Waterfall Config `yaml:"waterfall"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "waterfall: parse config")
	}

	cfg := &wrapper.Waterfall
	def := Default()
	if cfg.Defaults.Circuit.FailureThreshold == 0 {
		cfg.Defaults.Circuit.FailureThreshold = def.Defaults.Circuit.FailureThreshold
	}
	if cfg.Defaults.Circuit.ResetTimeout == 0 {
		cfg.Defaults.Circuit.ResetTimeout = def.Defaults.Circuit.ResetTimeout
	}
	if cfg.Categories == nil {
		cfg.Categories = make(map[model.Phase]CategoryConfig)
	}
	for phase, cc := range cfg.Categories {
		if _, ok := model.ParsePhase(string(phase)); !ok {
			return nil, eris.Errorf("waterfall: unknown category %q", phase)
		}
		for _, src := range cc.Sources {
			if src.Name == "" {
				return nil, eris.Errorf("waterfall: category %s has a source without a name", phase)
			}
		}
	}
	for phase, cc := range def.Categories {
		if _, ok := cfg.Categories[phase]; !ok {
			cfg.Categories[phase] = cc
		}
	}
	return cfg, nil
}

// Sources returns the provider names for category that serve sport, in
// priority order.
func (c *Config) Sources(category model.Phase, sport model.Sport) []string {
	var names []string
	for _, src := range c.Categories[category].Sources {
		if len(src.Sports) == 0 || slices.Contains(src.Sports, sport) {
			names = append(names, src.Name)
		}
	}
	return names
}

// Circuit returns the breaker settings.
func (c *Config) Circuit() resilience.CircuitBreakerConfig {
	return resilience.CircuitFromConfig(c.Defaults.Circuit.FailureThreshold, c.Defaults.Circuit.ResetTimeout)
}
