package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/config"
	"github.com/eddiefleurent/ssov_engine/internal/retry"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Owner:       "0x00000000000000000000000000000000000000aa",
		Market: config.MarketConfig{Vaults: []config.VaultConfig{
			{Address: "0x0000000000000000000000000000000000000c01", Side: "call", PaperSpot: 1800},
			{Address: "0x0000000000000000000000000000000000000b01", Side: "put"},
		}},
		Retry: config.RetryConfig{MaxRetries: ptr(1), InitialBackoff: "10ms"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewLogger(t *testing.T) {
	l := newLogger(config.EnvironmentConfig{LogLevel: "debug", LogFormat: "json"})
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l = newLogger(config.EnvironmentConfig{LogLevel: "bogus", LogFormat: "text"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
}

func ptr[T any](v T) *T { return &v }

func TestRetryConfigOverlay(t *testing.T) {
	got := retryConfig(config.RetryConfig{MaxRetries: ptr(5), MaxBackoff: "5s"})
	assert.Equal(t, 5, got.MaxRetries)
	assert.Equal(t, retry.DefaultConfig.InitialBackoff, got.InitialBackoff)
	assert.Equal(t, 5*time.Second, got.MaxBackoff)
	assert.Equal(t, retry.DefaultConfig.Timeout, got.Timeout)
}

func TestRetryConfig_NoRetrySection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment:
  mode: paper
market:
  vaults:
    - address: "0x0000000000000000000000000000000000000c01"
`), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	got := retryConfig(cfg.Retry)
	assert.Equal(t, retry.DefaultConfig, got, "missing retry section keeps the defaults")
	assert.Positive(t, got.MaxRetries)

	got = retryConfig(config.RetryConfig{MaxRetries: ptr(0)})
	assert.Zero(t, got.MaxRetries, "explicit zero disables retries")
}

func TestBreakerSettingsOverlay(t *testing.T) {
	got := breakerSettings(config.BreakerConfig{FailureRatio: 0.9, Timeout: "1m"})
	assert.Equal(t, 0.9, got.FailureRatio)
	assert.Equal(t, time.Minute, got.Timeout)
	assert.Equal(t, source.DefaultCircuitBreakerSettings.MinRequests, got.MinRequests)
	assert.Equal(t, source.DefaultCircuitBreakerSettings.Interval, got.Interval)
}

func TestBuildSources_Paper(t *testing.T) {
	cfg := paperConfig(t)
	logger, _ := test.NewNullLogger()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	src, err := buildSources(context.Background(), cfg, logger, func() time.Time { return now })
	require.NoError(t, err)
	defer src.Close()

	assert.IsType(t, &retry.Ledger{}, src.Ledger)
	assert.IsType(t, &retry.Chain{}, src.Chain)

	vaults := cfg.VaultAddresses()
	buys, err := src.Ledger.BuyPositions(context.Background(), cfg.OwnerAddress(), vaults)
	require.NoError(t, err)
	assert.Len(t, buys, 4)

	isPut, err := src.Chain.IsPut(context.Background(), vaults[1])
	require.NoError(t, err)
	assert.True(t, isPut)

	spot, err := src.Chain.SpotPrice(context.Background(), vaults[1])
	require.NoError(t, err)
	assert.InDelta(t, 1000, spot.Decimal().InexactFloat64(), 20, "unset paper spot defaults to 1000")
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := paperConfig(t)
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, run(ctx, cfg, logger))
}
