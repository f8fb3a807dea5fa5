// Package config provides configuration management for the engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is unset.
const (
	defaultRefreshInterval = 60 * time.Second
	defaultConcurrency     = 8
	defaultDisplayPlaces   = 4
	defaultDashboardPort   = 8080
	defaultCacheTTL        = 7 * 24 * time.Hour
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Owner       string            `yaml:"owner"`
	Market      MarketConfig      `yaml:"market"`
	Network     NetworkConfig     `yaml:"network"`
	Scales      *models.Scales    `yaml:"scales"`
	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Engine      EngineConfig      `yaml:"engine"`
	Cache       CacheConfig       `yaml:"cache"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// MarketConfig lists the vaults of one option market.
type MarketConfig struct {
	Name   string        `yaml:"name"`
	Vaults []VaultConfig `yaml:"vaults"`
}

// VaultConfig identifies one vault. Side and PaperSpot only seed paper mode;
// live mode reads both from the chain.
type VaultConfig struct {
	Address    string  `yaml:"address"`
	Underlying string  `yaml:"underlying"`
	Side       string  `yaml:"side"` // call | put
	PaperSpot  float64 `yaml:"paper_spot"`
}

// NetworkConfig defines the data source endpoints.
type NetworkConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	SubgraphURL    string `yaml:"subgraph_url"`
	SubgraphAPIKey string `yaml:"subgraph_api_key"`
}

// RetryConfig bounds retries at the data source boundary.
// A nil MaxRetries keeps the retry default; zero disables retries.
type RetryConfig struct {
	MaxRetries     *int   `yaml:"max_retries"`
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	Timeout        string `yaml:"timeout"`
}

// BreakerConfig configures the source circuit breakers.
type BreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// ScheduleConfig defines how often the engine refreshes.
type ScheduleConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// EngineConfig tunes the computation.
type EngineConfig struct {
	Concurrency   int    `yaml:"concurrency"`
	DisplayPlaces *int32 `yaml:"display_places"`
}

// Places returns the display rounding, defaulting when unset. Zero rounds
// to whole numbers.
func (e EngineConfig) Places() int32 {
	if e.DisplayPlaces == nil {
		return defaultDisplayPlaces
	}
	return *e.DisplayPlaces
}

// CacheConfig defines the optional Redis epoch cache.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
	TTL      string `yaml:"ttl"`
}

// DashboardConfig defines the JSON API server.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent,
// filling in defaults for unset optional fields.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("owner %q is not a hex address", c.Owner)
	}

	// Market validation
	if len(c.Market.Vaults) == 0 {
		return fmt.Errorf("market.vaults must list at least one vault")
	}
	seen := make(map[common.Address]bool, len(c.Market.Vaults))
	for i, v := range c.Market.Vaults {
		if !common.IsHexAddress(v.Address) {
			return fmt.Errorf("market.vaults[%d].address %q is not a hex address", i, v.Address)
		}
		addr := common.HexToAddress(v.Address)
		if seen[addr] {
			return fmt.Errorf("market.vaults[%d].address %s is listed twice", i, addr.Hex())
		}
		seen[addr] = true
		if v.Side != "" && !models.OptionSide(v.Side).Valid() {
			return fmt.Errorf("market.vaults[%d].side must be 'call' or 'put'", i)
		}
		if v.PaperSpot < 0 {
			return fmt.Errorf("market.vaults[%d].paper_spot must be >= 0", i)
		}
	}

	// Network validation
	if !c.IsPaperTrading() {
		if c.Network.RPCURL == "" {
			return fmt.Errorf("network.rpc_url is required in live mode")
		}
		if c.Network.SubgraphURL == "" {
			return fmt.Errorf("network.subgraph_url is required in live mode")
		}
	}

	// Retry validation
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	for name, v := range map[string]string{
		"retry.initial_backoff":     c.Retry.InitialBackoff,
		"retry.max_backoff":         c.Retry.MaxBackoff,
		"retry.timeout":             c.Retry.Timeout,
		"breaker.interval":          c.Breaker.Interval,
		"breaker.timeout":           c.Breaker.Timeout,
		"schedule.refresh_interval": c.Schedule.RefreshInterval,
		"cache.ttl":                 c.Cache.TTL,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	// Breaker validation
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("breaker.failure_ratio must be between 0 and 1")
	}

	// Engine validation
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be > 0")
	}
	if c.Engine.Places() > 18 {
		return fmt.Errorf("engine.display_places must be <= 18")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when the cache is enabled")
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// normalize sets default values for optional fields
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Scales == nil {
		s := models.DefaultScales
		c.Scales = &s
	}
	if c.Engine.Concurrency == 0 {
		c.Engine.Concurrency = defaultConcurrency
	}
	if c.Engine.DisplayPlaces == nil {
		places := int32(defaultDisplayPlaces)
		c.Engine.DisplayPlaces = &places
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
}

// IsPaperTrading returns true if the engine runs against generated data.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// OwnerAddress returns the configured owner, or the zero address when unset.
func (c *Config) OwnerAddress() common.Address {
	if c.Owner == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Owner)
}

// VaultAddresses returns the market's vaults in configuration order.
func (c *Config) VaultAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Market.Vaults))
	for _, v := range c.Market.Vaults {
		out = append(out, common.HexToAddress(v.Address))
	}
	return out
}

// GetRefreshInterval returns the configured refresh interval.
func (c *Config) GetRefreshInterval() time.Duration {
	return durationOr(c.Schedule.RefreshInterval, defaultRefreshInterval)
}

// GetCacheTTL returns how long settled epochs stay cached.
func (c *Config) GetCacheTTL() time.Duration {
	return durationOr(c.Cache.TTL, defaultCacheTTL)
}

// Durations returns the parsed retry durations; zero means unset.
func (r RetryConfig) Durations() (initial, maxBackoff, timeout time.Duration) {
	return durationOr(r.InitialBackoff, 0), durationOr(r.MaxBackoff, 0), durationOr(r.Timeout, 0)
}

// Durations returns the parsed breaker durations; zero means unset.
func (b BreakerConfig) Durations() (interval, timeout time.Duration) {
	return durationOr(b.Interval, 0), durationOr(b.Timeout, 0)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
