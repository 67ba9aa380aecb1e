// Package config loads tierhub settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/aaron/tierhub/internal/freshness"
	"github.com/aaron/tierhub/internal/player"
)

// ClassConfig holds the freshness and refresh settings of one data class.
type ClassConfig struct {
	FreshWindow     time.Duration `env:"FRESH_WINDOW"`
	HardExpiry      time.Duration `env:"HARD_EXPIRY"`
	MaxEntries      int           `env:"MAX_ENTRIES"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL"`
}

type Config struct {
	Addr      string `env:"TIERHUB_ADDR"       envDefault:":8080"`
	Debug     bool   `env:"TIERHUB_DEBUG"`
	LogLevel  string `env:"TIERHUB_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"TIERHUB_LOG_FORMAT" envDefault:"text"`

	RankingsURL        string        `env:"TIERHUB_RANKINGS_URL"`
	RankingsAPIKey     string        `env:"TIERHUB_RANKINGS_API_KEY"`
	RankingsPageSize   int           `env:"TIERHUB_RANKINGS_PAGE_SIZE"   envDefault:"50"`
	RankingsTimeout    time.Duration `env:"TIERHUB_RANKINGS_TIMEOUT"     envDefault:"10s"`
	RankingsMaxRetries int           `env:"TIERHUB_RANKINGS_MAX_RETRIES" envDefault:"2"`
	RankingsMinBackoff time.Duration `env:"TIERHUB_RANKINGS_MIN_BACKOFF" envDefault:"1s"`

	FetchTimeout       time.Duration `env:"TIERHUB_FETCH_TIMEOUT"       envDefault:"10s"`
	FailureCooldown    time.Duration `env:"TIERHUB_FAILURE_COOLDOWN"    envDefault:"30s"`
	RefreshConcurrency int           `env:"TIERHUB_REFRESH_CONCURRENCY" envDefault:"4"`
	AutoRefresh        bool          `env:"TIERHUB_AUTO_REFRESH"        envDefault:"true"`
	WarmKeys           []string      `env:"TIERHUB_WARM_KEYS"           envDefault:"qb:ppr,rb:ppr,wr:ppr,te:ppr,flex:ppr,overall:ppr" envSeparator:","`

	Position  ClassConfig `envPrefix:"TIERHUB_POSITION_"`
	Aggregate ClassConfig `envPrefix:"TIERHUB_AGGREGATE_"`

	TierMemoSize     int           `env:"TIERHUB_TIER_MEMO_SIZE"     envDefault:"100"`
	TierMemoTTL      time.Duration `env:"TIERHUB_TIER_MEMO_TTL"      envDefault:"30m"`
	DefaultTierCount int           `env:"TIERHUB_DEFAULT_TIER_COUNT" envDefault:"6"`

	InboundRateLimit            int           `env:"TIERHUB_INBOUND_RATE_LIMIT"             envDefault:"60"`
	InboundRateLimitPer         time.Duration `env:"TIERHUB_INBOUND_RATE_LIMIT_PER"         envDefault:"1m"`
	InboundRetryAfterSec        int           `env:"TIERHUB_INBOUND_RETRY_AFTER"            envDefault:"60"`
	InboundBucketMaxStale       time.Duration `env:"TIERHUB_INBOUND_BUCKET_MAX_STALE"       envDefault:"5m"`
	InboundBucketEvictThreshold int           `env:"TIERHUB_INBOUND_BUCKET_EVICT_THRESHOLD" envDefault:"100"`

	OTelEndpoint string `env:"TIERHUB_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"TIERHUB_OTEL_ENABLED" envDefault:"true"`
	ServiceName  string `env:"TIERHUB_SERVICE_NAME" envDefault:"tierhub"`
}

// Default returns the configuration used when no variables are set. The
// per-class values have no envDefault tags because both classes share one
// struct type.
func Default() Config {
	policies := freshness.DefaultPolicies()
	pos, agg := policies[player.ClassPosition], policies[player.ClassAggregate]
	return Config{
		Position: ClassConfig{
			FreshWindow:     pos.FreshWindow,
			HardExpiry:      pos.HardExpiry,
			MaxEntries:      pos.MaxEntries,
			RefreshInterval: 5 * time.Minute,
		},
		Aggregate: ClassConfig{
			FreshWindow:     agg.FreshWindow,
			HardExpiry:      agg.HardExpiry,
			MaxEntries:      agg.MaxEntries,
			RefreshInterval: 10 * time.Minute,
		},
	}
}

// Load reads an optional .env file and then the process environment.
func Load(dotenvPaths ...string) (Config, error) {
	if err := LoadDotEnv(dotenvPaths...); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given files (".env" by default)
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	for name, cc := range map[string]ClassConfig{"position": c.Position, "aggregate": c.Aggregate} {
		if err := cc.policy().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		if cc.RefreshInterval <= 0 {
			errs = append(errs, fmt.Errorf("%s: refresh interval must be positive", name))
		}
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.RankingsPageSize <= 0 || c.RankingsPageSize > 50 {
		errs = append(errs, fmt.Errorf("rankings page size %d out of range [1, 50]", c.RankingsPageSize))
	}
	if c.TierMemoSize <= 0 {
		errs = append(errs, errors.New("tier memo size must be positive"))
	}
	if c.DefaultTierCount <= 0 {
		errs = append(errs, errors.New("default tier count must be positive"))
	}
	if c.InboundRateLimit <= 0 || c.InboundRateLimitPer <= 0 {
		errs = append(errs, errors.New("inbound rate limit must be positive"))
	}
	if _, err := c.ParsedWarmKeys(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (cc ClassConfig) policy() freshness.Policy {
	return freshness.Policy{
		FreshWindow: cc.FreshWindow,
		HardExpiry:  cc.HardExpiry,
		MaxEntries:  cc.MaxEntries,
	}
}

// TracingEndpoint returns the OTLP endpoint, or "" when tracing is off.
func (c Config) TracingEndpoint() string {
	if !c.OTelEnabled {
		return ""
	}
	return c.OTelEndpoint
}

// Policies returns the freshness policy per data class.
func (c Config) Policies() map[player.DataClass]freshness.Policy {
	return map[player.DataClass]freshness.Policy{
		player.ClassPosition:  c.Position.policy(),
		player.ClassAggregate: c.Aggregate.policy(),
	}
}

// RefreshIntervals returns the auto-refresh period per data class.
func (c Config) RefreshIntervals() map[player.DataClass]time.Duration {
	return map[player.DataClass]time.Duration{
		player.ClassPosition:  c.Position.RefreshInterval,
		player.ClassAggregate: c.Aggregate.RefreshInterval,
	}
}

// ParsedWarmKeys parses WarmKeys ("qb:ppr" form).
func (c Config) ParsedWarmKeys() ([]player.Key, error) {
	keys := make([]player.Key, 0, len(c.WarmKeys))
	for _, s := range c.WarmKeys {
		if s == "" {
			continue
		}
		k, err := player.ParseKey(s)
		if err != nil {
			return nil, fmt.Errorf("warm key %q: %w", s, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}
