package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/omegalab/histcollect/internal/model"
	"github.com/omegalab/histcollect/internal/resilience"
	"github.com/omegalab/histcollect/internal/validate"
)

// EnvPrefix prefixes every environment override, e.g.
// HISTCOLLECT_ODDSAPI_KEY.
const EnvPrefix = "HISTCOLLECT"

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Collector   CollectorConfig   `yaml:"collector" mapstructure:"collector"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit" mapstructure:"ratelimit"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Balldontlie BalldontlieConfig `yaml:"balldontlie" mapstructure:"balldontlie"`
	OddsAPI     OddsAPIConfig     `yaml:"oddsapi" mapstructure:"oddsapi"`
	Sportsref   SportsrefConfig   `yaml:"sportsref" mapstructure:"sportsref"`
	Perplexity  PerplexityConfig  `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Jina        JinaConfig        `yaml:"jina" mapstructure:"jina"`
	Firecrawl   FirecrawlConfig   `yaml:"firecrawl" mapstructure:"firecrawl"`
	Browser     BrowserConfig     `yaml:"browser" mapstructure:"browser"`
	Waterfall   WaterfallConfig   `yaml:"waterfall" mapstructure:"waterfall"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the provider response cache.
type CacheConfig struct {
	Dir      string        `yaml:"dir" mapstructure:"dir"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Disabled bool          `yaml:"disabled" mapstructure:"disabled"`
}

// CollectorConfig tunes the coordinator and the season checks.
type CollectorConfig struct {
	Workers         int            `yaml:"workers" mapstructure:"workers"`
	Tolerance       float64        `yaml:"tolerance" mapstructure:"tolerance"`
	PropsPerGame    int            `yaml:"props_per_game" mapstructure:"props_per_game"`
	MinPropCoverage float64        `yaml:"min_prop_coverage" mapstructure:"min_prop_coverage"`
	ExpectedGames   map[string]int `yaml:"expected_games" mapstructure:"expected_games"`
}

// RateLimitConfig holds the minimum interval between requests per provider.
type RateLimitConfig struct {
	Default     time.Duration `yaml:"default" mapstructure:"default"`
	Balldontlie time.Duration `yaml:"balldontlie" mapstructure:"balldontlie"`
	Sportsref   time.Duration `yaml:"sportsref" mapstructure:"sportsref"`
	OddsAPI     time.Duration `yaml:"oddsapi" mapstructure:"oddsapi"`
	Perplexity  time.Duration `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic   time.Duration `yaml:"anthropic" mapstructure:"anthropic"`
}

// RetryConfig configures retries of transient HTTP failures inside each
// client.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
}

// BalldontlieConfig holds BALLDONTLIE API settings.
type BalldontlieConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OddsAPIConfig holds The Odds API settings.
type OddsAPIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Regions string `yaml:"regions" mapstructure:"regions"`
}

// SportsrefConfig configures the reference-site scraper.
type SportsrefConfig struct {
	BasketballURL string `yaml:"basketball_url" mapstructure:"basketball_url"`
	FootballURL   string `yaml:"football_url" mapstructure:"football_url"`
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl settings. The fetcher is enabled only
// when a key is set.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BrowserConfig controls the headless Chrome fallback of the scraper.
type BrowserConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	ExecPath string        `yaml:"exec_path" mapstructure:"exec_path"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// WaterfallConfig points at the provider chain definition.
type WaterfallConfig struct {
	ConfigPath       string        `yaml:"config_path" mapstructure:"config_path"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" mapstructure:"reset_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment, in
// increasing precedence.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches the
// working directory for config.yaml; a named file must exist.
func LoadFrom(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a useful default still need registering so that
	// environment-only values are picked up by Unmarshal.
	for _, key := range []string{
		"store.database_url", "balldontlie.key", "oddsapi.key", "perplexity.key",
		"anthropic.key", "jina.key", "firecrawl.key", "sportsref.user_agent", "browser.exec_path",
		"waterfall.config_path",
	} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/sports_data.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.disabled", false)
	v.SetDefault("collector.workers", 1)
	v.SetDefault("collector.tolerance", validate.DefaultTolerance)
	v.SetDefault("collector.props_per_game", validate.DefaultPropsPerGame)
	v.SetDefault("collector.min_prop_coverage", validate.DefaultMinPropCoverage)
	v.SetDefault("ratelimit.default", time.Second)
	v.SetDefault("ratelimit.balldontlie", 600*time.Millisecond)
	v.SetDefault("ratelimit.sportsref", 3*time.Second)
	v.SetDefault("ratelimit.oddsapi", time.Second)
	v.SetDefault("ratelimit.perplexity", time.Second)
	v.SetDefault("ratelimit.anthropic", time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("balldontlie.base_url", "https://api.balldontlie.io")
	v.SetDefault("oddsapi.base_url", "https://api.the-odds-api.com")
	v.SetDefault("oddsapi.regions", "us")
	v.SetDefault("sportsref.basketball_url", "https://www.basketball-reference.com")
	v.SetDefault("sportsref.football_url", "https://www.pro-football-reference.com")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_retries", 1)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.timeout", 45*time.Second)
	v.SetDefault("waterfall.failure_threshold", 5)
	v.SetDefault("waterfall.reset_timeout", 60*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Intervals returns the per-provider pacing intervals keyed by provider
// name.
func (r RateLimitConfig) Intervals() map[string]time.Duration {
	return map[string]time.Duration{
		"balldontlie": r.Balldontlie,
		"sportsref":   r.Sportsref,
		"oddsapi":     r.OddsAPI,
		"perplexity":  r.Perplexity,
		"anthropic":   r.Anthropic,
	}
}

// Policy returns the retry policy handed to every HTTP client.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.RetryFromConfig(r.MaxAttempts, r.InitialBackoff)
}

// Thresholds returns the season checks with configured overrides applied
// over the defaults. Expected-game keys are sport names in any case.
func (c CollectorConfig) Thresholds() validate.Thresholds {
	th := validate.DefaultThresholds()
	if c.Tolerance > 0 {
		th.Tolerance = c.Tolerance
	}
	if c.PropsPerGame > 0 {
		th.PropsPerGame = c.PropsPerGame
	}
	if c.MinPropCoverage > 0 {
		th.MinPropCoverage = c.MinPropCoverage
	}
	for k, n := range c.ExpectedGames {
		sport, err := model.ParseSport(k)
		if err != nil {
			zap.L().Warn("config: ignoring expected_games entry", zap.String("sport", k))
			continue
		}
		th.ExpectedGames[sport] = n
	}
	return th
}

// Validate checks the configuration for the given command mode: "collect",
// "status", "export" or "cache".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "collect":
		errs = append(errs, c.validateStore()...)
		if c.Collector.Workers < 1 || c.Collector.Workers > 64 {
			errs = append(errs, "collector.workers must be between 1 and 64")
		}
		if c.Collector.Tolerance <= 0 || c.Collector.Tolerance > 1 {
			errs = append(errs, "collector.tolerance must be in (0, 1]")
		}
		if c.Collector.MinPropCoverage < 0 || c.Collector.MinPropCoverage > 1 {
			errs = append(errs, "collector.min_prop_coverage must be between 0 and 1")
		}
		if c.Collector.PropsPerGame < 1 {
			errs = append(errs, "collector.props_per_game must be > 0")
		}
		for k := range c.Collector.ExpectedGames {
			if _, err := model.ParseSport(k); err != nil {
				errs = append(errs, "collector.expected_games: unknown sport "+k)
			}
		}
		if !c.Cache.Disabled && c.Cache.Dir == "" {
			errs = append(errs, "cache.dir is required unless cache.disabled")
		}
	case "status", "export", "store":
		errs = append(errs, c.validateStore()...)
	case "cache":
		if c.Cache.Dir == "" {
			errs = append(errs, "cache.dir is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return []string{"store.path is required for sqlite"}
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
