package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	require.NoError(t, err, "example config must load")

	assert.True(t, cfg.IsPaperTrading())
	assert.Equal(t, common.HexToAddress("0xaa"), cfg.OwnerAddress())
	assert.Len(t, cfg.VaultAddresses(), 2)
	assert.Equal(t, models.DefaultScales, *cfg.Scales)
	assert.Equal(t, 60*time.Second, cfg.GetRefreshInterval())
	assert.Equal(t, 168*time.Hour, cfg.GetCacheTTL())

	initial, maxBackoff, timeout := cfg.Retry.Durations()
	assert.Equal(t, time.Second, initial)
	assert.Equal(t, 30*time.Second, maxBackoff)
	assert.Equal(t, 2*time.Minute, timeout)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	assert.Error(t, err)
}

func TestLoad_ExpandsEnvAndRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_SSOV_RPC", "http://localhost:8545")

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
environment:
  mode: live
market:
  vaults:
    - address: "0x0000000000000000000000000000000000000c01"
network:
  rpc_url: "${TEST_SSOV_RPC}"
  subgraph_url: "http://localhost:8000/subgraphs/ssov"
`), 0o600))
	cfg, err := Load(good)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Network.RPCURL)
	assert.Equal(t, "info", cfg.Environment.LogLevel, "defaults applied")
	assert.Equal(t, "text", cfg.Environment.LogFormat)
	assert.Equal(t, 8, cfg.Engine.Concurrency)
	assert.Equal(t, int32(4), cfg.Engine.Places())
	assert.Nil(t, cfg.Retry.MaxRetries, "unset retries keep the retry default")
	assert.Equal(t, common.Address{}, cfg.OwnerAddress())

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("environment:\n  mode: paper\n  colour: blue\n"), 0o600))
	_, err = Load(unknown)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func ptr[T any](v T) *T { return &v }

func TestLoad_ExplicitZeroes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zeroes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment:
  mode: paper
market:
  vaults:
    - address: "0x0000000000000000000000000000000000000c01"
retry:
  max_retries: 0
engine:
  display_places: 0
`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Retry.MaxRetries)
	assert.Equal(t, 0, *cfg.Retry.MaxRetries, "explicit zero disables retries")
	assert.Equal(t, int32(0), cfg.Engine.Places(), "explicit zero rounds to whole numbers")
}

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info", LogFormat: "json"},
		Owner:       "0x00000000000000000000000000000000000000aa",
		Market: MarketConfig{
			Name: "test",
			Vaults: []VaultConfig{
				{Address: "0x0000000000000000000000000000000000000c01", Side: "call", PaperSpot: 1800},
			},
		},
		Retry:     RetryConfig{MaxRetries: ptr(3), InitialBackoff: "1s", MaxBackoff: "30s", Timeout: "2m"},
		Breaker:   BreakerConfig{FailureRatio: 0.6},
		Schedule:  ScheduleConfig{RefreshInterval: "30s"},
		Dashboard: DashboardConfig{Enabled: true, Port: 9090},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Environment.Mode = "demo" }, "environment.mode must be 'paper' or 'live'"},
		{"bad level", func(c *Config) { c.Environment.LogLevel = "trace" }, "environment.log_level"},
		{"bad format", func(c *Config) { c.Environment.LogFormat = "xml" }, "environment.log_format"},
		{"bad owner", func(c *Config) { c.Owner = "alice" }, "owner \"alice\" is not a hex address"},
		{"no vaults", func(c *Config) { c.Market.Vaults = nil }, "market.vaults must list at least one vault"},
		{"bad vault", func(c *Config) { c.Market.Vaults[0].Address = "0x123" }, "market.vaults[0].address"},
		{"duplicate vault", func(c *Config) {
			c.Market.Vaults = append(c.Market.Vaults, VaultConfig{Address: "0x0000000000000000000000000000000000000C01"})
		}, "market.vaults[1].address"},
		{"bad side", func(c *Config) { c.Market.Vaults[0].Side = "straddle" }, "market.vaults[0].side"},
		{"negative spot", func(c *Config) { c.Market.Vaults[0].PaperSpot = -1 }, "market.vaults[0].paper_spot"},
		{"live without rpc", func(c *Config) {
			c.Environment.Mode = "live"
			c.Network.SubgraphURL = "http://x"
		}, "network.rpc_url is required in live mode"},
		{"live without subgraph", func(c *Config) {
			c.Environment.Mode = "live"
			c.Network.RPCURL = "http://x"
		}, "network.subgraph_url is required in live mode"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = ptr(-1) }, "retry.max_retries must be >= 0"},
		{"bad duration", func(c *Config) { c.Retry.Timeout = "soon" }, "retry.timeout invalid"},
		{"zero interval", func(c *Config) { c.Schedule.RefreshInterval = "0s" }, "schedule.refresh_interval must be > 0"},
		{"bad ratio", func(c *Config) { c.Breaker.FailureRatio = 1.5 }, "breaker.failure_ratio"},
		{"negative concurrency", func(c *Config) { c.Engine.Concurrency = -2 }, "engine.concurrency must be > 0"},
		{"too many places", func(c *Config) { c.Engine.DisplayPlaces = ptr(int32(30)) }, "engine.display_places"},
		{"cache without addr", func(c *Config) { c.Cache.Enabled = true }, "cache.addr is required"},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }, "dashboard.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %q, want %q", err.Error(), tt.wantErr)
		})
	}
}

func TestDurationsFallBack(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 30*time.Second, c.GetRefreshInterval())

	c.Schedule.RefreshInterval = ""
	assert.Equal(t, defaultRefreshInterval, c.GetRefreshInterval())

	interval, timeout := c.Breaker.Durations()
	assert.Zero(t, interval)
	assert.Zero(t, timeout)
}
