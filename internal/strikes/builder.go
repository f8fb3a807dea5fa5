package strikes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config controls row precision and fetch concurrency.
type Config struct {
	DisplayPlaces int32 // negative disables rounding
	Concurrency   int
	Now           func() time.Time
}

// Builder loads and computes strike chains.
type Builder struct {
	cfg    Config
	logger logrus.FieldLogger
}

// NewBuilder creates a Builder. Zero concurrency means 8 parallel strikes.
func NewBuilder(cfg Config, logger logrus.FieldLogger) *Builder {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Chain is the full strike chain of one vault epoch.
type Chain struct {
	Vault   common.Address    `json:"vault"`
	Epoch   uint64            `json:"epoch"`
	Side    models.OptionSide `json:"side"`
	Spot    decimal.Decimal   `json:"spot"`
	Expiry  time.Time         `json:"expiry"`
	Rows    []Row             `json:"rows"`
	Skipped []string          `json:"skipped,omitempty"` // strikes whose reads failed
}

// Build computes rows for already fetched inputs, sorted by strike.
func (b *Builder) Build(m Market, inputs []StrikeInput) *Chain {
	c := &Chain{
		Vault:  m.Vault,
		Epoch:  m.Epoch.Epoch,
		Side:   m.Side,
		Spot:   m.Spot.Decimal(),
		Expiry: m.Epoch.Expiry,
		Rows:   make([]Row, 0, len(inputs)),
	}
	for _, in := range inputs {
		c.Rows = append(c.Rows, b.BuildRow(m, in))
	}
	sort.Slice(c.Rows, func(i, j int) bool { return c.Rows[i].Strike.LessThan(c.Rows[j].Strike) })
	return c
}

// LoadCurrent loads the chain of the vault's current epoch.
func (b *Builder) LoadCurrent(ctx context.Context, chain source.ChainState, vault common.Address) (*Chain, error) {
	epoch, err := chain.CurrentEpoch(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("current epoch of %s: %w", vault.Hex(), err)
	}
	return b.Load(ctx, chain, vault, epoch)
}

// Load reads the epoch snapshot, spot and side once, then every strike
// concurrently. A strike whose reads fail is skipped and reported in
// Chain.Skipped.
func (b *Builder) Load(ctx context.Context, chain source.ChainState, vault common.Address, epoch uint64) (*Chain, error) {
	m := Market{Vault: vault, Now: b.cfg.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		isPut, err := chain.IsPut(gctx, vault)
		if err != nil {
			return fmt.Errorf("vault side: %w", err)
		}
		m.Side = models.SideFromIsPut(isPut)
		return nil
	})
	g.Go(func() error {
		spot, err := chain.SpotPrice(gctx, vault)
		if err != nil {
			return fmt.Errorf("spot price: %w", err)
		}
		m.Spot = spot
		return nil
	})
	g.Go(func() error {
		snap, err := chain.EpochSnapshot(gctx, vault, epoch)
		if err != nil {
			return fmt.Errorf("epoch %d snapshot: %w", epoch, err)
		}
		m.Epoch = snap
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load strike chain %s/%d: %w", vault.Hex(), epoch, err)
	}

	inputs := make([]StrikeInput, len(m.Epoch.Strikes))
	ok := make([]bool, len(m.Epoch.Strikes))
	var (
		mu      sync.Mutex
		skipped []string
	)

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for i, strike := range m.Epoch.Strikes {
		g.Go(func() error {
			in, err := b.fetchStrike(gctx, chain, vault, epoch, strike)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.logger.WithFields(logrus.Fields{
					"vault":  vault.Hex(),
					"epoch":  epoch,
					"strike": strike.String(),
				}).WithError(err).Warn("skipping strike")
				mu.Lock()
				skipped = append(skipped, strike.String())
				mu.Unlock()
				return nil
			}
			inputs[i] = in
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	loaded := inputs[:0]
	for i, in := range inputs {
		if ok[i] {
			loaded = append(loaded, in)
		}
	}

	c := b.Build(m, loaded)
	sort.Strings(skipped)
	c.Skipped = skipped
	return c, nil
}

func (b *Builder) fetchStrike(ctx context.Context, chain source.ChainState, vault common.Address, epoch uint64, strike models.Amount) (StrikeInput, error) {
	data, err := chain.StrikeData(ctx, vault, epoch, strike)
	if err != nil {
		return StrikeInput{}, fmt.Errorf("strike data: %w", err)
	}
	premium, err := chain.PremiumQuote(ctx, vault, epoch, strike)
	if err != nil {
		return StrikeInput{}, fmt.Errorf("premium quote: %w", err)
	}
	fee, err := chain.PurchaseFee(ctx, vault, epoch, strike)
	if err != nil {
		return StrikeInput{}, fmt.Errorf("purchase fee: %w", err)
	}
	vol, err := chain.Volatility(ctx, vault, strike)
	if err != nil {
		return StrikeInput{}, fmt.Errorf("volatility: %w", err)
	}
	return StrikeInput{Strike: strike, Data: data, Premium: premium, Fee: fee, Volatility: vol}, nil
}
