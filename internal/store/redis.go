package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Cache failures are
// treated as misses.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) PutPool(ctx context.Context, pool model.Pool) error {
	if err := s.primary.PutPool(ctx, pool); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(pool.Key()))
	return nil
}

func (s *CachedStore) PutVault(ctx context.Context, position model.VaultPosition) error {
	if err := s.primary.PutVault(ctx, position); err != nil {
		return err
	}
	s.rdb.Del(ctx, vaultKey(position.Owner))
	return nil
}

func (s *CachedStore) PutPerpAccount(ctx context.Context, account model.PerpAccount) error {
	if err := s.primary.PutPerpAccount(ctx, account); err != nil {
		return err
	}
	s.rdb.Del(ctx, perpKey(account.Owner))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, key pair.Key) (model.Pool, error) {
	var p model.Pool
	if s.fromCache(ctx, poolKey(key), &p) {
		return p, nil
	}
	p, err := s.primary.GetPool(ctx, key)
	if err != nil {
		return model.Pool{}, err
	}
	s.toCache(ctx, poolKey(key), p)
	return p, nil
}

func (s *CachedStore) GetVault(ctx context.Context, owner string) (model.VaultPosition, error) {
	var v model.VaultPosition
	if s.fromCache(ctx, vaultKey(owner), &v) {
		return v, nil
	}
	v, err := s.primary.GetVault(ctx, owner)
	if err != nil {
		return model.VaultPosition{}, err
	}
	s.toCache(ctx, vaultKey(owner), v)
	return v, nil
}

func (s *CachedStore) GetPerpAccount(ctx context.Context, owner string) (model.PerpAccount, error) {
	var a model.PerpAccount
	if s.fromCache(ctx, perpKey(owner), &a) {
		return a, nil
	}
	a, err := s.primary.GetPerpAccount(ctx, owner)
	if err != nil {
		return model.PerpAccount{}, err
	}
	s.toCache(ctx, perpKey(owner), a)
	return a, nil
}

// --- Passthrough (not cached) ---

// ListPools always reads the primary; routing needs the full set and a
// partial cache would hide pools.
func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) fromCache(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) toCache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func poolKey(k pair.Key) string   { return fmt.Sprintf("pool:%s", k) }
func vaultKey(owner string) string { return fmt.Sprintf("vault:%s", owner) }
func perpKey(owner string) string  { return fmt.Sprintf("perp:%s", owner) }
