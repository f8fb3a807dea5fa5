package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/eddiefleurent/ssov_engine/internal/source"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultEpochTTL bounds how long a settled epoch stays cached.
const DefaultEpochTTL = 7 * 24 * time.Hour

// store is the subset of *redis.Client the cache uses.
type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// EpochCache fronts a source.ChainState and serves settled epoch snapshots
// from Redis. A settled epoch never changes, so only those are stored; every
// other read passes through. Cache failures are logged and never fail a read.
//
// Key schema:
//
//	ssov:epoch:{vault}:{epoch} - JSON encoded models.EpochSnapshot
type EpochCache struct {
	source.ChainState
	rdb    store
	ttl    time.Duration
	now    func() time.Time
	logger logrus.FieldLogger
}

var _ source.ChainState = (*EpochCache)(nil)

// NewEpochCache wraps next with a cache backed by c.
func NewEpochCache(c *Client, next source.ChainState, ttl time.Duration, logger logrus.FieldLogger) *EpochCache {
	return newEpochCache(c.rdb, next, ttl, logger)
}

func newEpochCache(rdb store, next source.ChainState, ttl time.Duration, logger logrus.FieldLogger) *EpochCache {
	if ttl <= 0 {
		ttl = DefaultEpochTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EpochCache{ChainState: next, rdb: rdb, ttl: ttl, now: time.Now, logger: logger}
}

func epochKey(vault common.Address, epoch uint64) string {
	return fmt.Sprintf("ssov:epoch:%s:%d", vault.Hex(), epoch)
}

// EpochSnapshot returns the cached snapshot when present.
func (c *EpochCache) EpochSnapshot(ctx context.Context, vault common.Address, epoch uint64) (models.EpochSnapshot, error) {
	key := epochKey(vault, epoch)
	log := c.logger.WithFields(logrus.Fields{"vault": vault.Hex(), "epoch": epoch})

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snap models.EpochSnapshot
		decodeErr := json.Unmarshal(data, &snap)
		if decodeErr == nil {
			return snap, nil
		}
		log.WithError(decodeErr).Warn("redis: discarding undecodable epoch entry")
	case !errors.Is(err, redis.Nil):
		log.WithError(err).Warn("redis: epoch cache read failed")
	}

	snap, err := c.ChainState.EpochSnapshot(ctx, vault, epoch)
	if err != nil {
		return models.EpochSnapshot{}, err
	}
	if !snap.Settled() || !snap.Expired(c.now()) {
		return snap, nil
	}

	encoded, err := json.Marshal(snap)
	if err != nil {
		log.WithError(err).Warn("redis: marshal epoch")
		return snap, nil
	}
	if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		log.WithError(err).Warn("redis: epoch cache write failed")
	}
	return snap, nil
}
