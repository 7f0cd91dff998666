package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
)

// MemoryStore implements Store with in-memory maps. Used for tests and for
// offline runs against a snapshot file. Not suitable for production (no
// persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	pools  map[pair.Key]model.Pool
	vaults map[string]model.VaultPosition
	perps  map[string]model.PerpAccount
}

// NewMemoryStore creates a new in-memory store seeded with pools.
func NewMemoryStore(pools ...model.Pool) *MemoryStore {
	s := &MemoryStore{
		pools:  make(map[pair.Key]model.Pool),
		vaults: make(map[string]model.VaultPosition),
		perps:  make(map[string]model.PerpAccount),
	}
	for _, p := range pools {
		s.pools[p.Key()] = p.Clone()
	}
	return s
}

// Every value is cloned on the way in and out so callers never share words
// with the store.

func (s *MemoryStore) GetPool(_ context.Context, key pair.Key) (model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[key]
	if !ok {
		return model.Pool{}, fmt.Errorf("%w: pool %s", ErrNotFound, key)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p.Clone())
	}
	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Key().String() < pools[j].Key().String()
	})
	return pools, nil
}

func (s *MemoryStore) PutPool(_ context.Context, pool model.Pool) error {
	if _, err := pair.Of(pool.TokenA, pool.TokenB); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools[pool.Key()] = pool.Clone()
	return nil
}

func (s *MemoryStore) GetVault(_ context.Context, owner string) (model.VaultPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vaults[owner]
	if !ok {
		return model.VaultPosition{}, fmt.Errorf("%w: vault %s", ErrNotFound, owner)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) PutVault(_ context.Context, position model.VaultPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vaults[position.Owner] = position.Clone()
	return nil
}

func (s *MemoryStore) GetPerpAccount(_ context.Context, owner string) (model.PerpAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.perps[owner]
	if !ok {
		return model.PerpAccount{}, fmt.Errorf("%w: perp account %s", ErrNotFound, owner)
	}
	a.Positions = append([]model.PerpPosition(nil), a.Positions...)
	return a, nil
}

func (s *MemoryStore) PutPerpAccount(_ context.Context, account model.PerpAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.Positions = append([]model.PerpPosition(nil), account.Positions...)
	s.perps[account.Owner] = account
	return nil
}
