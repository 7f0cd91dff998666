// Package store provides chain-state snapshots to the engine. The
// implementations are PostgreSQL (indexed chain state), Redis (read-through
// cache) and in-memory (tests and offline runs).
//
// A store is a read model of on-chain state. It is written by an indexer or
// by snapshot ingest, never by the engine itself.
package store

import (
	"context"
	"errors"

	"github.com/prismfinance/synth-engine/internal/model"
	"github.com/prismfinance/synth-engine/internal/pair"
)

// ErrNotFound is returned when no snapshot exists for a key.
var ErrNotFound = errors.New("store: not found")

// Store is the chain-state provider interface.
type Store interface {
	// --- Pools ---

	// GetPool returns the pool for an ordered pair key.
	GetPool(ctx context.Context, key pair.Key) (model.Pool, error)

	// ListPools returns every known pool.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// PutPool replaces the snapshot of one pool.
	PutPool(ctx context.Context, pool model.Pool) error

	// --- Vaults ---

	GetVault(ctx context.Context, owner string) (model.VaultPosition, error)
	PutVault(ctx context.Context, position model.VaultPosition) error

	// --- Perp accounts ---

	// GetPerpAccount returns the balance and open positions of one owner.
	GetPerpAccount(ctx context.Context, owner string) (model.PerpAccount, error)

	// PutPerpAccount replaces the balance and the full position set.
	PutPerpAccount(ctx context.Context, account model.PerpAccount) error
}

// LoadIndex reads every pool into a routing index.
func LoadIndex(ctx context.Context, s Store) (model.PoolIndex, error) {
	pools, err := s.ListPools(ctx)
	if err != nil {
		return nil, err
	}
	return model.NewPoolIndex(pools...), nil
}
