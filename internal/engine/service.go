// Package engine runs reconciliation passes and publishes their outcome as
// an immutable Snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/lifecycle"
	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/reconcile"
	"github.com/eddiefleurent/ssov_engine/internal/settlement"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/eddiefleurent/ssov_engine/internal/strikes"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStaleRefresh is returned by a pass that was superseded by a newer one
	// before it finished. Its result is discarded.
	ErrStaleRefresh = errors.New("refresh superseded by a newer pass")
	// ErrNoOwner is returned when an owner change names the zero address.
	ErrNoOwner = errors.New("owner address is required")
)

// Status of the published snapshot.
type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Snapshot is the outcome of one pass. A published Snapshot is never mutated.
type Snapshot struct {
	Generation    uint64                            `json:"generation"`
	Status        Status                            `json:"status"`
	Error         string                            `json:"error,omitempty"`
	UpdatedAt     time.Time                         `json:"updated_at"`
	RunID         string                            `json:"run_id,omitempty"`
	Owner         common.Address                    `json:"owner"`
	Positions     []models.ActivePosition           `json:"positions"`
	Partial       []models.ActivePosition           `json:"partial,omitempty"`
	Writes        []models.WritePositionRecord      `json:"writes"`
	PartialWrites []models.WritePositionRecord      `json:"partial_writes,omitempty"`
	Chains        map[common.Address]*strikes.Chain `json:"chains"`
	Actions       []models.ActionRequest            `json:"actions"`
	Warnings      []string                          `json:"warnings,omitempty"`
}

func emptySnapshot(owner common.Address) *Snapshot {
	return &Snapshot{
		Status:    StatusLoading,
		Owner:     owner,
		Positions: []models.ActivePosition{},
		Writes:    []models.WritePositionRecord{},
		Chains:    map[common.Address]*strikes.Chain{},
		Actions:   []models.ActionRequest{},
	}
}

// withStatus returns a shallow copy carrying a different status. Slices are
// shared, which is safe because snapshots are read-only.
func (s *Snapshot) withStatus(gen uint64, status Status, errMsg string) *Snapshot {
	cp := *s
	cp.Generation = gen
	cp.Status = status
	cp.Error = errMsg
	return &cp
}

// Config scopes the service to one owner and one market.
type Config struct {
	Owner       common.Address
	Vaults      []common.Address
	Concurrency int
	Now         func() time.Time
}

// Service owns the current Snapshot. Every Refresh supersedes the pass in
// flight, so only the newest pass can publish.
type Service struct {
	reconciler *reconcile.Reconciler
	builder    *strikes.Builder
	chain      source.ChainState
	evaluator  *lifecycle.Evaluator
	vaults     []common.Address
	now        func() time.Time
	logger     logrus.FieldLogger

	mu      sync.RWMutex
	owner   common.Address
	gen     uint64
	cancel  context.CancelFunc
	current *Snapshot
}

// New creates a Service over the given data sources.
func New(ledger source.Ledger, chain source.ChainState, builder *strikes.Builder, cfg Config, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if builder == nil {
		builder = strikes.NewBuilder(strikes.Config{Concurrency: cfg.Concurrency, Now: cfg.Now}, logger)
	}
	return &Service{
		reconciler: reconcile.New(ledger, chain, reconcile.Config{Concurrency: cfg.Concurrency}, logger),
		builder:    builder,
		chain:      chain,
		evaluator:  lifecycle.NewEvaluator(cfg.Now, logger),
		vaults:     append([]common.Address(nil), cfg.Vaults...),
		now:        cfg.Now,
		logger:     logger,
		owner:      cfg.Owner,
		current:    emptySnapshot(cfg.Owner),
	}
}

// Snapshot returns the most recently published snapshot.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Owner returns the owner subsequent passes reconcile.
func (s *Service) Owner() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// SetOwner switches the wallet and starts a pass for it.
func (s *Service) SetOwner(ctx context.Context, owner common.Address) (*Snapshot, error) {
	if owner == (common.Address{}) {
		return nil, ErrNoOwner
	}
	s.mu.Lock()
	s.owner = owner
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// ClearOwner drops the wallet. The next pass publishes strike chains only.
func (s *Service) ClearOwner(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	s.owner = common.Address{}
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Refresh runs a full pass and publishes it. A pass still in flight is
// canceled and will return ErrStaleRefresh. On failure the previous data is
// kept and the published status becomes error.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	passCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	owner := s.owner
	prev := s.current
	s.current = prev.withStatus(prev.Generation, StatusLoading, "")
	s.mu.Unlock()
	defer cancel()

	log := s.logger.WithFields(logrus.Fields{"generation": gen, "owner": owner.Hex()})
	snap, err := s.build(passCtx, log, gen, owner, prev)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		log.Debug("discarding superseded pass")
		return nil, ErrStaleRefresh
	}
	s.cancel = nil
	if err != nil {
		s.current = prev.withStatus(gen, StatusError, err.Error())
		s.current.UpdatedAt = s.now()
		log.WithError(err).Error("refresh failed")
		return nil, fmt.Errorf("refresh: %w", err)
	}
	s.current = snap
	return snap, nil
}

func (s *Service) build(ctx context.Context, log logrus.FieldLogger, gen uint64, owner common.Address, prev *Snapshot) (*Snapshot, error) {
	snap := emptySnapshot(owner)
	snap.Generation = gen

	var (
		res      *reconcile.Result
		chainsMu sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		res, err = s.reconciler.Reconcile(gctx, reconcile.Request{Owner: owner, Vaults: s.vaults})
		return err
	})
	for _, vault := range s.vaults {
		g.Go(func() error {
			c, err := s.builder.LoadCurrent(gctx, s.chain, vault)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithError(err).WithField("vault", vault.Hex()).Warn("strike chain unavailable")
				chainsMu.Lock()
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("strike chain %s: %v", vault.Hex(), err))
				chainsMu.Unlock()
				return nil
			}
			chainsMu.Lock()
			snap.Chains[vault] = c
			chainsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.evaluator.ApplyAll(res.Writes)
	for _, err := range s.evaluator.CheckTransitions(prev.Writes, res.Writes) {
		snap.Warnings = append(snap.Warnings, err.Error())
	}

	snap.RunID = res.RunID
	snap.Positions = res.Active
	snap.Partial = res.Partial
	snap.Writes = res.Writes
	snap.PartialWrites = res.PartialWrites
	snap.Warnings = append(snap.Warnings, res.Warnings...)
	sort.Strings(snap.Warnings)
	snap.Actions = s.actions(owner, res)
	snap.Status = StatusReady
	snap.UpdatedAt = s.now()

	log.WithFields(logrus.Fields{
		"run_id":  res.RunID,
		"chains":  len(snap.Chains),
		"actions": len(snap.Actions),
	}).Info("snapshot published")
	return snap, nil
}

// actions lists every action currently available to owner: one lifecycle
// action per write position, settle actions for rewards that are options,
// and settle actions for held positions.
func (s *Service) actions(owner common.Address, res *reconcile.Result) []models.ActionRequest {
	out := []models.ActionRequest{}
	for i := range res.Writes {
		w := &res.Writes[i]
		if req := s.evaluator.NextAction(w, owner); req != nil {
			out = append(out, *req)
		}
		out = append(out, s.evaluator.SettleActions(w, owner)...)
	}
	now := s.now()
	for _, p := range res.Active {
		if req, _ := settlement.SettleRequest(p, owner, now); req != nil {
			out = append(out, *req)
		}
	}
	return out
}

// Run refreshes immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be > 0, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refreshLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refreshLogged(ctx)
		}
	}
}

func (s *Service) refreshLogged(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil {
		switch {
		case errors.Is(err, ErrStaleRefresh), ctx.Err() != nil:
			s.logger.WithError(err).Debug("scheduled refresh dropped")
		default:
			s.logger.WithError(err).Warn("scheduled refresh failed")
		}
	}
}
