// Package reconcile merges an owner's ledger history and live option-token
// balances into the canonical set of held and written positions.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config tunes the metadata fan-out.
type Config struct {
	Concurrency int // parallel epoch snapshot reads, default 8
}

// Reconciler rebuilds an owner's positions from scratch on every call.
type Reconciler struct {
	ledger source.Ledger
	chain  source.ChainState
	cfg    Config
	logger logrus.FieldLogger
}

// New creates a Reconciler.
func New(ledger source.Ledger, chain source.ChainState, cfg Config, logger logrus.FieldLogger) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{ledger: ledger, chain: chain, cfg: cfg, logger: logger}
}

// Request scopes one reconciliation pass to an owner and a market's vaults.
type Request struct {
	Owner  common.Address
	Vaults []common.Address
}

// Result is the outcome of one pass. Active and Writes only hold positions
// whose epoch metadata was attached; nonzero positions whose metadata failed
// to load are reported in Partial and PartialWrites instead.
type Result struct {
	RunID         string                                   `json:"run_id"`
	Owner         common.Address                           `json:"owner"`
	Active        []models.ActivePosition                  `json:"active"`
	Writes        []models.WritePositionRecord             `json:"writes"`
	Partial       []models.ActivePosition                  `json:"partial,omitempty"`
	PartialWrites []models.WritePositionRecord             `json:"partial_writes,omitempty"`
	Warnings      []string                                 `json:"warnings,omitempty"`
	Epochs        map[models.EpochKey]models.EpochSnapshot `json:"-"`
}

// Reconcile runs one full pass. A missing owner or an empty vault list
// yields an empty result. Ledger failures abort the pass; epoch metadata
// failures only isolate the positions of that epoch.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	res := &Result{
		RunID:  uuid.NewString(),
		Owner:  req.Owner,
		Active: []models.ActivePosition{},
		Writes: []models.WritePositionRecord{},
		Epochs: map[models.EpochKey]models.EpochSnapshot{},
	}
	log := r.logger.WithFields(logrus.Fields{"run_id": res.RunID, "owner": req.Owner.Hex()})

	if req.Owner == (common.Address{}) || len(req.Vaults) == 0 {
		log.Debug("nothing to reconcile: no owner or no vaults")
		return res, nil
	}

	var (
		buys     []models.BuyPositionRecord
		balances []models.OptionTokenBalanceRecord
		writes   []models.WriteLedgerRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		buys, err = r.ledger.BuyPositions(gctx, req.Owner, req.Vaults)
		return wrapFetch("buy positions", err)
	})
	g.Go(func() (err error) {
		balances, err = r.ledger.OptionBalances(gctx, req.Owner, req.Vaults)
		return wrapFetch("option balances", err)
	})
	g.Go(func() (err error) {
		writes, err = r.ledger.WritePositions(gctx, req.Owner, req.Vaults)
		return wrapFetch("write positions", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	positions, warnings := Merge(req.Vaults, buys, balances)
	writePositions, writeWarnings := MergeWrites(req.Vaults, writes)
	res.Warnings = append(warnings, writeWarnings...)
	for _, w := range res.Warnings {
		log.Warn(w)
	}

	failed, err := r.loadEpochs(ctx, log, res.Epochs, epochKeys(positions, writePositions))
	if err != nil {
		return nil, err
	}

	for _, p := range positions {
		if cause, bad := failed[p.EpochKey()]; bad {
			p.Status = models.StatusPartial
			p.Warning = "epoch metadata unavailable: " + cause
			res.Partial = append(res.Partial, p)
			continue
		}
		attach(&p, res.Epochs[p.EpochKey()])
		res.Active = append(res.Active, p)
	}
	for _, w := range writePositions {
		if cause, bad := failed[w.EpochKey()]; bad {
			w.Status = models.StatusPartial
			w.Warning = "epoch metadata unavailable: " + cause
			res.PartialWrites = append(res.PartialWrites, w)
			continue
		}
		attach(&w.ActivePosition, res.Epochs[w.EpochKey()])
		attachRewardOptions(&w, res.Epochs)
		res.Writes = append(res.Writes, w)
	}

	for k, cause := range failed {
		res.Warnings = append(res.Warnings, fmt.Sprintf("epoch %s: %s", k, cause))
	}
	sort.Strings(res.Warnings)

	SortPositions(res.Active)
	SortPositions(res.Partial)
	SortWrites(res.Writes)
	SortWrites(res.PartialWrites)

	log.WithFields(logrus.Fields{
		"buys":     len(buys),
		"balances": len(balances),
		"active":   len(res.Active),
		"writes":   len(res.Writes),
		"partial":  len(res.Partial) + len(res.PartialWrites),
	}).Info("reconciled positions")
	return res, nil
}

func wrapFetch(what string, err error) error {
	if err != nil {
		return fmt.Errorf("fetch %s: %w", what, err)
	}
	return nil
}

// epochKeys collects every epoch referenced by a position or by a reward
// that is itself an option, deduplicated and in a stable order.
func epochKeys(positions []models.ActivePosition, writes []models.WritePositionRecord) []models.EpochKey {
	seen := make(map[models.EpochKey]bool)
	var keys []models.EpochKey
	add := func(k models.EpochKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, p := range positions {
		add(p.EpochKey())
	}
	for _, w := range writes {
		add(w.EpochKey())
		for _, a := range w.RewardsAccrued {
			if a.IsOption && a.Option != nil {
				add(models.EpochKey{Vault: a.Option.Vault, Epoch: a.Option.Epoch})
			}
		}
	}
	return keys
}

// loadEpochs fetches every snapshot once, concurrently. It returns the
// failure cause per key; only a canceled context aborts the batch.
func (r *Reconciler) loadEpochs(ctx context.Context, log logrus.FieldLogger, into map[models.EpochKey]models.EpochSnapshot, keys []models.EpochKey) (map[models.EpochKey]string, error) {
	var mu sync.Mutex
	failed := make(map[models.EpochKey]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, k := range keys {
		g.Go(func() error {
			snap, err := r.chain.EpochSnapshot(gctx, k.Vault, k.Epoch)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithFields(logrus.Fields{"vault": k.Vault.Hex(), "epoch": k.Epoch}).
					WithError(err).Warn("epoch metadata unavailable")
				mu.Lock()
				failed[k] = err.Error()
				mu.Unlock()
				return nil
			}
			mu.Lock()
			into[k] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load epoch metadata: %w", err)
	}
	return failed, nil
}

func attach(p *models.ActivePosition, e models.EpochSnapshot) {
	p.Expiry = e.Expiry
	p.SettlementPrice = e.SettlementPrice
}

// attachRewardOptions fills expiry and settlement price of option-token
// rewards. The accrual slice is copied so ledger records are never mutated.
func attachRewardOptions(w *models.WritePositionRecord, epochs map[models.EpochKey]models.EpochSnapshot) {
	for i, a := range w.RewardsAccrued {
		if !a.IsOption || a.Option == nil {
			continue
		}
		e, ok := epochs[models.EpochKey{Vault: a.Option.Vault, Epoch: a.Option.Epoch}]
		if !ok {
			continue
		}
		ref := *a.Option
		ref.Expiry = e.Expiry
		ref.SettlementPrice = e.SettlementPrice
		w.RewardsAccrued[i].Option = &ref
	}
}
