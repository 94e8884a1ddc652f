package clpool

import (
	"bytes"
	"sort"
)

// PoolsDiff is the change set between two snapshots of the pool set.
type PoolsDiff struct {
	Additions []Pool   `json:"additions,omitempty" yaml:"additions,omitempty"`
	Updates   []Pool   `json:"updates,omitempty" yaml:"updates,omitempty"`
	Deletions []PoolID `json:"deletions,omitempty" yaml:"deletions,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d PoolsDiff) IsEmpty() bool {
	return len(d.Additions) == 0 && len(d.Updates) == 0 && len(d.Deletions) == 0
}

func tickChanged(old, new TickInfo) bool {
	return old.Index != new.Index ||
		!old.FeeGrowth0.Equal(new.FeeGrowth0) ||
		!old.FeeGrowth1.Equal(new.FeeGrowth1) ||
		!old.TotalLiquidity.Equals(new.TotalLiquidity)
}

// poolChanged compares the mutable fields of two versions of a pool. Ticks are
// compared position by position since both slices are in ascending order.
func poolChanged(old, new Pool) bool {
	if old.TickIndex != new.TickIndex {
		return true
	}
	if !old.SqrtPrice.Eq(new.SqrtPrice) {
		return true
	}
	if old.Volume != new.Volume {
		return true
	}

	if len(old.Ticks) != len(new.Ticks) {
		return true
	}
	for i := range old.Ticks {
		if tickChanged(old.Ticks[i], new.Ticks[i]) {
			return true
		}
	}
	return false
}

func sortPools(pools []Pool) {
	sort.Slice(pools, func(i, j int) bool {
		return bytes.Compare(pools[i].ID[:], pools[j].ID[:]) < 0
	})
}

// Diff computes the changes that turn old into new. Pools are matched by ID
// and every list in the result is ordered by ID.
func Diff(old, new []Pool) PoolsDiff {
	oldPools := make(map[PoolID]Pool, len(old))
	for _, pool := range old {
		oldPools[pool.ID] = pool
	}
	newPools := make(map[PoolID]Pool, len(new))
	for _, pool := range new {
		newPools[pool.ID] = pool
	}

	var diff PoolsDiff
	for id, newPool := range newPools {
		oldPool, exists := oldPools[id]
		if !exists {
			diff.Additions = append(diff.Additions, newPool)
		} else if poolChanged(oldPool, newPool) {
			diff.Updates = append(diff.Updates, newPool)
		}
	}
	for id := range oldPools {
		if _, exists := newPools[id]; !exists {
			diff.Deletions = append(diff.Deletions, id)
		}
	}

	sortPools(diff.Additions)
	sortPools(diff.Updates)
	sort.Slice(diff.Deletions, func(i, j int) bool {
		return bytes.Compare(diff.Deletions[i][:], diff.Deletions[j][:]) < 0
	})
	return diff
}
