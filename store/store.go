// Package store persists pools, ticks and positions.
//
// Readers serve queries directly. All writes go through Apply, which
// implementations must perform atomically: either the whole Batch becomes
// visible or none of it does. The pair engine never writes to a Store
// directly; it stages changes in an Overlay and commits them on success.
package store

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNotFound = errors.New("store: not found")

// Reader is the read side of a store. List methods return ascending keys
// strictly after startAfter (nil for the beginning); a limit <= 0 means no
// limit.
type Reader interface {
	Pool(ctx context.Context, id clpool.PoolID) (clpool.PoolState, error)
	Pools(ctx context.Context) ([]clpool.PoolState, error)
	Tick(ctx context.Context, pool clpool.PoolID, index int32) (clpool.TickInfo, bool, error)
	Ticks(ctx context.Context, pool clpool.PoolID, startAfter *int32, limit int) ([]clpool.TickInfo, error)
	Position(ctx context.Context, id uint64) (clpool.Position, error)
	Positions(ctx context.Context, owner common.Address, startAfter *uint64, limit int) ([]clpool.Position, error)
	LastPositionID(ctx context.Context) (uint64, error)
}

// Store is a Reader that accepts atomic batches of writes.
type Store interface {
	Reader
	Apply(ctx context.Context, b Batch) error
	Close() error
}

// TickRecord is a tick together with the pool it belongs to.
type TickRecord struct {
	Pool clpool.PoolID
	Tick clpool.TickInfo
}

// Batch is a set of writes applied as a unit. Deletions are applied after
// saves.
type Batch struct {
	Pools            []clpool.PoolState
	Ticks            []TickRecord
	Positions        []clpool.Position
	DeletedPositions []uint64
	// LastPositionID is written when non-nil.
	LastPositionID *uint64
}

// IsEmpty reports whether applying b would change nothing.
func (b Batch) IsEmpty() bool {
	return len(b.Pools) == 0 && len(b.Ticks) == 0 && len(b.Positions) == 0 &&
		len(b.DeletedPositions) == 0 && b.LastPositionID == nil
}

// Pool loads a pool with all of its ticks.
func Pool(ctx context.Context, r Reader, id clpool.PoolID) (clpool.Pool, error) {
	state, err := r.Pool(ctx, id)
	if err != nil {
		return clpool.Pool{}, err
	}
	ticks, err := r.Ticks(ctx, id, nil, 0)
	if err != nil {
		return clpool.Pool{}, err
	}
	return clpool.Pool{PoolState: state, Ticks: ticks}, nil
}

// AllPools loads every pool with its ticks, ordered by ID.
func AllPools(ctx context.Context, r Reader) ([]clpool.Pool, error) {
	states, err := r.Pools(ctx)
	if err != nil {
		return nil, err
	}
	pools := make([]clpool.Pool, 0, len(states))
	for _, state := range states {
		ticks, err := r.Ticks(ctx, state.ID, nil, 0)
		if err != nil {
			return nil, err
		}
		pools = append(pools, clpool.Pool{PoolState: state, Ticks: ticks})
	}
	return pools, nil
}

func sortPoolStates(pools []clpool.PoolState) {
	sort.Slice(pools, func(i, j int) bool {
		return bytes.Compare(pools[i].ID[:], pools[j].ID[:]) < 0
	})
}

// pagePositions filters positions of owner, orders them by ID and applies
// startAfter and limit.
func pagePositions(all []clpool.Position, owner common.Address, startAfter *uint64, limit int) []clpool.Position {
	var out []clpool.Position
	for _, p := range all {
		if p.Owner != owner {
			continue
		}
		if startAfter != nil && p.ID <= *startAfter {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func copyPosition(p clpool.Position) clpool.Position {
	c := p
	if p.FeeSnapshots != nil {
		c.FeeSnapshots = make([]clpool.FeeInfo, len(p.FeeSnapshots))
		copy(c.FeeSnapshots, p.FeeSnapshots)
	}
	return c
}
