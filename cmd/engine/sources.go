package main

import (
	"context"
	"fmt"
	"time"

	rediscache "github.com/eddiefleurent/ssov_engine/internal/cache/redis"
	"github.com/eddiefleurent/ssov_engine/internal/config"
	"github.com/eddiefleurent/ssov_engine/internal/mock"
	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/retry"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/eddiefleurent/ssov_engine/internal/source/onchain"
	"github.com/eddiefleurent/ssov_engine/internal/source/subgraph"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// sources is the fully wrapped data layer the engine reads from.
type sources struct {
	Ledger  source.Ledger
	Chain   source.ChainState
	closers []func() error
}

func (s *sources) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// buildSources wires the raw readers behind a circuit breaker, then retry,
// then the optional settled-epoch cache.
func buildSources(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, now func() time.Time) (*sources, error) {
	src := &sources{}

	var (
		ledger source.Ledger
		chain  source.ChainState
	)
	if cfg.IsPaperTrading() {
		m := mock.NewSampleProvider(cfg.OwnerAddress(), sampleVaults(cfg), *cfg.Scales, now())
		ledger, chain = m, m
	} else {
		reader, err := onchain.Dial(ctx, cfg.Network.RPCURL, *cfg.Scales)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		src.closers = append(src.closers, func() error { reader.Close(); return nil })
		ledger = subgraph.NewClient(cfg.Network.SubgraphURL, cfg.Network.SubgraphAPIKey, *cfg.Scales)
		chain = reader
	}

	breaker := breakerSettings(cfg.Breaker)
	retryCfg := retryConfig(cfg.Retry)
	ledger = retry.NewLedger(source.NewCircuitBreakerLedger(ledger, breaker, logger), retryCfg, logger)
	chain = retry.NewChain(source.NewCircuitBreakerChain(chain, breaker, logger), retryCfg, logger)

	if cfg.Cache.Enabled {
		client, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Cache.Addr,
			Password:   cfg.Cache.Password,
			DB:         cfg.Cache.DB,
			TLSEnabled: cfg.Cache.TLS,
		})
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("connect epoch cache: %w", err)
		}
		src.closers = append(src.closers, client.Close)
		chain = rediscache.NewEpochCache(client, chain, cfg.GetCacheTTL(), logger)
	}

	src.Ledger, src.Chain = ledger, chain
	return src, nil
}

func sampleVaults(cfg *config.Config) []mock.SampleVault {
	out := make([]mock.SampleVault, 0, len(cfg.Market.Vaults))
	for _, v := range cfg.Market.Vaults {
		spot := v.PaperSpot
		if spot == 0 {
			spot = 1000
		}
		out = append(out, mock.SampleVault{
			Address: common.HexToAddress(v.Address),
			IsPut:   models.OptionSide(v.Side).IsPut(),
			Spot:    spot,
		})
	}
	return out
}

// retryConfig overlays configured values on the defaults.
func retryConfig(c config.RetryConfig) retry.Config {
	out := retry.DefaultConfig
	if c.MaxRetries != nil {
		out.MaxRetries = *c.MaxRetries
	}
	initial, maxBackoff, timeout := c.Durations()
	if initial > 0 {
		out.InitialBackoff = initial
	}
	if maxBackoff > 0 {
		out.MaxBackoff = maxBackoff
	}
	if timeout > 0 {
		out.Timeout = timeout
	}
	return out
}

func breakerSettings(c config.BreakerConfig) source.CircuitBreakerSettings {
	out := source.DefaultCircuitBreakerSettings
	if c.MaxRequests > 0 {
		out.MaxRequests = c.MaxRequests
	}
	if c.MinRequests > 0 {
		out.MinRequests = c.MinRequests
	}
	if c.FailureRatio > 0 {
		out.FailureRatio = c.FailureRatio
	}
	interval, timeout := c.Durations()
	if interval > 0 {
		out.Interval = interval
	}
	if timeout > 0 {
		out.Timeout = timeout
	}
	return out
}
