// Package cache provides a stale-tolerant read cache for balance snapshots.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/piggybank/internal/model"
)

// SnapshotCache stores balance snapshots keyed by user.
type SnapshotCache interface {
	// Get returns the cached snapshot and whether it was present.
	Get(ctx context.Context, userID uuid.UUID) (model.BalanceSnapshot, bool, error)
	// Set stores a snapshot.
	Set(ctx context.Context, userID uuid.UUID, s model.BalanceSnapshot) error
	// Invalidate drops the cached snapshot.
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Nop never caches anything.
type Nop struct{}

func (Nop) Get(context.Context, uuid.UUID) (model.BalanceSnapshot, bool, error) {
	return model.BalanceSnapshot{}, false, nil
}
func (Nop) Set(context.Context, uuid.UUID, model.BalanceSnapshot) error { return nil }
func (Nop) Invalidate(context.Context, uuid.UUID) error                 { return nil }

// Redis caches snapshots as JSON documents with a TTL.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedis wraps client. A non-positive ttl defaults to one minute.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{client: client, ttl: ttl, prefix: "piggybank:balance:"}
}

func (r *Redis) key(userID uuid.UUID) string { return r.prefix + userID.String() }

// Get reads a snapshot. A miss is not an error.
func (r *Redis) Get(ctx context.Context, userID uuid.UUID) (model.BalanceSnapshot, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.BalanceSnapshot{}, false, nil
	}
	if err != nil {
		return model.BalanceSnapshot{}, false, err
	}
	s, err := decode(raw)
	if err != nil {
		return model.BalanceSnapshot{}, false, err
	}
	return s, true, nil
}

// Set writes a snapshot with the configured TTL.
func (r *Redis) Set(ctx context.Context, userID uuid.UUID, s model.BalanceSnapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(userID), raw, r.ttl).Err()
}

// Invalidate deletes the snapshot.
func (r *Redis) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}

func decode(raw []byte) (model.BalanceSnapshot, error) {
	var s model.BalanceSnapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("cached snapshot: %w", err)
	}
	if s.Deposits == nil {
		s.Deposits = []model.DepositView{}
	}
	return s, nil
}
