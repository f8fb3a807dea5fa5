// Package retry applies bounded, jittered exponential backoff at the data
// source boundary.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Config bounds a retried operation.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // whole operation, including backoff waits
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// sanitize replaces unusable values with their defaults.
func (c Config) sanitize() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	return c
}

// Do runs fn until it succeeds, returns a non-transient error, or the
// attempts or the timeout run out.
func Do[T any](ctx context.Context, cfg Config, logger logrus.FieldLogger, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cfg = cfg.sanitize()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	opCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		}
		if opCtx.Err() != nil {
			return zero, fmt.Errorf("%s timed out after %v: %w", op, cfg.Timeout, opCtx.Err())
		}

		res, err := fn(opCtx)
		if err == nil {
			if attempt > 0 {
				logger.WithFields(logrus.Fields{"op": op, "attempt": attempt + 1}).Info("succeeded after retry")
			}
			return res, nil
		}

		lastErr = err
		if !IsTransientError(err) || attempt == cfg.MaxRetries {
			break
		}

		logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt + 1,
			"of":      cfg.MaxRetries + 1,
			"backoff": backoff,
		}).WithError(err).Warn("transient error, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff = calculateNextBackoff(backoff, cfg.MaxBackoff)
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		case <-opCtx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s timed out during backoff: %w", op, opCtx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after retries: %w", op, lastErr)
}

func calculateNextBackoff(currentBackoff, maxBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err == nil {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"server error",
	"rate limit",
	"too many requests",
	"429",              // HTTP 429 Too Many Requests
	"502",              // HTTP 502 Bad Gateway
	"503",              // HTTP 503 Service Unavailable
	"504",              // HTTP 504 Gateway Timeout
	"header not found", // lagging RPC node
	"eof",
	"network",
	"dns",
	"tcp",
}

// IsTransientError reports whether err looks like a condition worth retrying.
// Missing records and cancellations never are.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, source.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Ledger retries every call of the wrapped source.Ledger.
type Ledger struct {
	next   source.Ledger
	cfg    Config
	logger logrus.FieldLogger
}

var _ source.Ledger = (*Ledger)(nil)

func NewLedger(next source.Ledger, cfg Config, logger logrus.FieldLogger) *Ledger {
	return &Ledger{next: next, cfg: cfg.sanitize(), logger: logger}
}

func (l *Ledger) BuyPositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.BuyPositionRecord, error) {
	return Do(ctx, l.cfg, l.logger, "BuyPositions", func(ctx context.Context) ([]models.BuyPositionRecord, error) {
		return l.next.BuyPositions(ctx, owner, vaults)
	})
}

func (l *Ledger) OptionBalances(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.OptionTokenBalanceRecord, error) {
	return Do(ctx, l.cfg, l.logger, "OptionBalances", func(ctx context.Context) ([]models.OptionTokenBalanceRecord, error) {
		return l.next.OptionBalances(ctx, owner, vaults)
	})
}

func (l *Ledger) WritePositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.WriteLedgerRecord, error) {
	return Do(ctx, l.cfg, l.logger, "WritePositions", func(ctx context.Context) ([]models.WriteLedgerRecord, error) {
		return l.next.WritePositions(ctx, owner, vaults)
	})
}

// Chain retries every call of the wrapped source.ChainState.
type Chain struct {
	next   source.ChainState
	cfg    Config
	logger logrus.FieldLogger
}

var _ source.ChainState = (*Chain)(nil)

func NewChain(next source.ChainState, cfg Config, logger logrus.FieldLogger) *Chain {
	return &Chain{next: next, cfg: cfg.sanitize(), logger: logger}
}

func (c *Chain) CurrentEpoch(ctx context.Context, vault common.Address) (uint64, error) {
	return Do(ctx, c.cfg, c.logger, "CurrentEpoch", func(ctx context.Context) (uint64, error) {
		return c.next.CurrentEpoch(ctx, vault)
	})
}

func (c *Chain) EpochSnapshot(ctx context.Context, vault common.Address, epoch uint64) (models.EpochSnapshot, error) {
	return Do(ctx, c.cfg, c.logger, "EpochSnapshot", func(ctx context.Context) (models.EpochSnapshot, error) {
		return c.next.EpochSnapshot(ctx, vault, epoch)
	})
}

func (c *Chain) StrikeData(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (source.StrikeData, error) {
	return Do(ctx, c.cfg, c.logger, "StrikeData", func(ctx context.Context) (source.StrikeData, error) {
		return c.next.StrikeData(ctx, vault, epoch, strike)
	})
}

func (c *Chain) PremiumQuote(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	return Do(ctx, c.cfg, c.logger, "PremiumQuote", func(ctx context.Context) (models.Amount, error) {
		return c.next.PremiumQuote(ctx, vault, epoch, strike)
	})
}

func (c *Chain) PurchaseFee(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	return Do(ctx, c.cfg, c.logger, "PurchaseFee", func(ctx context.Context) (models.Amount, error) {
		return c.next.PurchaseFee(ctx, vault, epoch, strike)
	})
}

func (c *Chain) Volatility(ctx context.Context, vault common.Address, strike models.Amount) (models.Amount, error) {
	return Do(ctx, c.cfg, c.logger, "Volatility", func(ctx context.Context) (models.Amount, error) {
		return c.next.Volatility(ctx, vault, strike)
	})
}

func (c *Chain) SpotPrice(ctx context.Context, vault common.Address) (models.Amount, error) {
	return Do(ctx, c.cfg, c.logger, "SpotPrice", func(ctx context.Context) (models.Amount, error) {
		return c.next.SpotPrice(ctx, vault)
	})
}

func (c *Chain) IsPut(ctx context.Context, vault common.Address) (bool, error) {
	return Do(ctx, c.cfg, c.logger, "IsPut", func(ctx context.Context) (bool, error) {
		return c.next.IsPut(ctx, vault)
	})
}
