package clpool

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CopyPool returns a copy of p that shares no memory with it.
func CopyPool(p Pool) Pool {
	c := p
	c.PoolState = CopyPoolState(p.PoolState)
	if p.Ticks != nil {
		c.Ticks = make([]TickInfo, len(p.Ticks))
		copy(c.Ticks, p.Ticks)
	}
	return c
}

// CopyPoolState returns a copy of s with its own sqrt price.
func CopyPoolState(s PoolState) PoolState {
	c := s
	if s.SqrtPrice != nil {
		c.SqrtPrice = new(uint256.Int).Set(s.SqrtPrice)
	}
	return c
}

// Patch applies diff to prev and returns the new pool set ordered by ID.
// prev is never modified. Deleting or updating an unknown pool is an error,
// as is adding one that already exists.
func Patch(prev []Pool, diff PoolsDiff) ([]Pool, error) {
	state := make(map[PoolID]Pool, len(prev))
	for _, pool := range prev {
		state[pool.ID] = CopyPool(pool)
	}

	for _, id := range diff.Deletions {
		if _, ok := state[id]; !ok {
			return nil, fmt.Errorf("patch: delete unknown pool %s", id)
		}
		delete(state, id)
	}
	for _, pool := range diff.Updates {
		if _, ok := state[pool.ID]; !ok {
			return nil, fmt.Errorf("patch: update unknown pool %s", pool.ID)
		}
		state[pool.ID] = CopyPool(pool)
	}
	for _, pool := range diff.Additions {
		if _, ok := state[pool.ID]; ok {
			return nil, fmt.Errorf("patch: pool %s already exists", pool.ID)
		}
		state[pool.ID] = CopyPool(pool)
	}

	out := make([]Pool, 0, len(state))
	for _, pool := range state {
		out = append(out, pool)
	}
	sortPools(out)
	return out, nil
}
