package source

import (
	"context"
	"errors"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips at 60% failures over at least five requests.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

func newBreaker(name string, settings CircuitBreakerSettings, logger logrus.FieldLogger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// a missing record or a canceled pass says nothing about source health
			return err == nil || errors.Is(err, ErrNotFound) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerLedger wraps a Ledger with circuit breaker functionality
type CircuitBreakerLedger struct {
	ledger  Ledger
	breaker *gobreaker.CircuitBreaker
}

var _ Ledger = (*CircuitBreakerLedger)(nil)

// NewCircuitBreakerLedger creates a CircuitBreakerLedger with custom settings
func NewCircuitBreakerLedger(ledger Ledger, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerLedger {
	return &CircuitBreakerLedger{
		ledger:  ledger,
		breaker: newBreaker("LedgerCircuitBreaker", settings, logger),
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerLedger) State() gobreaker.State {
	return c.breaker.State()
}

// BuyPositions wraps the underlying ledger call with circuit breaker
func (c *CircuitBreakerLedger) BuyPositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.BuyPositionRecord, error) {
	return execCircuitBreaker(c.breaker, func() ([]models.BuyPositionRecord, error) {
		return c.ledger.BuyPositions(ctx, owner, vaults)
	})
}

// OptionBalances wraps the underlying ledger call with circuit breaker
func (c *CircuitBreakerLedger) OptionBalances(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.OptionTokenBalanceRecord, error) {
	return execCircuitBreaker(c.breaker, func() ([]models.OptionTokenBalanceRecord, error) {
		return c.ledger.OptionBalances(ctx, owner, vaults)
	})
}

// WritePositions wraps the underlying ledger call with circuit breaker
func (c *CircuitBreakerLedger) WritePositions(ctx context.Context, owner common.Address, vaults []common.Address) ([]models.WriteLedgerRecord, error) {
	return execCircuitBreaker(c.breaker, func() ([]models.WriteLedgerRecord, error) {
		return c.ledger.WritePositions(ctx, owner, vaults)
	})
}

// CircuitBreakerChain wraps a ChainState with circuit breaker functionality
type CircuitBreakerChain struct {
	chain   ChainState
	breaker *gobreaker.CircuitBreaker
}

var _ ChainState = (*CircuitBreakerChain)(nil)

// NewCircuitBreakerChain creates a CircuitBreakerChain with custom settings
func NewCircuitBreakerChain(chain ChainState, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerChain {
	return &CircuitBreakerChain{
		chain:   chain,
		breaker: newBreaker("ChainCircuitBreaker", settings, logger),
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerChain) State() gobreaker.State {
	return c.breaker.State()
}

// CurrentEpoch wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) CurrentEpoch(ctx context.Context, vault common.Address) (uint64, error) {
	return execCircuitBreaker(c.breaker, func() (uint64, error) {
		return c.chain.CurrentEpoch(ctx, vault)
	})
}

// EpochSnapshot wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) EpochSnapshot(ctx context.Context, vault common.Address, epoch uint64) (models.EpochSnapshot, error) {
	return execCircuitBreaker(c.breaker, func() (models.EpochSnapshot, error) {
		return c.chain.EpochSnapshot(ctx, vault, epoch)
	})
}

// StrikeData wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) StrikeData(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (StrikeData, error) {
	return execCircuitBreaker(c.breaker, func() (StrikeData, error) {
		return c.chain.StrikeData(ctx, vault, epoch, strike)
	})
}

// PremiumQuote wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) PremiumQuote(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	return execCircuitBreaker(c.breaker, func() (models.Amount, error) {
		return c.chain.PremiumQuote(ctx, vault, epoch, strike)
	})
}

// PurchaseFee wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) PurchaseFee(ctx context.Context, vault common.Address, epoch uint64, strike models.Amount) (models.Amount, error) {
	return execCircuitBreaker(c.breaker, func() (models.Amount, error) {
		return c.chain.PurchaseFee(ctx, vault, epoch, strike)
	})
}

// Volatility wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) Volatility(ctx context.Context, vault common.Address, strike models.Amount) (models.Amount, error) {
	return execCircuitBreaker(c.breaker, func() (models.Amount, error) {
		return c.chain.Volatility(ctx, vault, strike)
	})
}

// SpotPrice wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) SpotPrice(ctx context.Context, vault common.Address) (models.Amount, error) {
	return execCircuitBreaker(c.breaker, func() (models.Amount, error) {
		return c.chain.SpotPrice(ctx, vault)
	})
}

// IsPut wraps the underlying chain call with circuit breaker
func (c *CircuitBreakerChain) IsPut(ctx context.Context, vault common.Address) (bool, error) {
	return execCircuitBreaker(c.breaker, func() (bool, error) {
		return c.chain.IsPut(ctx, vault)
	})
}
