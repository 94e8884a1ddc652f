package tickbitmap

import (
	"sort"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
)

// Find returns the position of index in a slice of ticks sorted by index.
// When the index is absent, pos is where it would be inserted.
func Find(ticks []clpool.TickInfo, index int32) (pos int, found bool) {
	pos = sort.Search(len(ticks), func(i int) bool {
		return ticks[i].Index >= index
	})
	return pos, pos < len(ticks) && ticks[pos].Index == index
}

// Upsert writes tick into the sorted slice, replacing any tick with the same
// index, and returns the updated slice.
func Upsert(ticks []clpool.TickInfo, tick clpool.TickInfo) []clpool.TickInfo {
	pos, found := Find(ticks, tick.Index)
	if found {
		ticks[pos] = tick
		return ticks
	}
	ticks = append(ticks, clpool.TickInfo{})
	copy(ticks[pos+1:], ticks[pos:])
	ticks[pos] = tick
	return ticks
}

// Page returns up to limit ticks with an index strictly greater than
// *startAfter, or from the start when startAfter is nil.
func Page(ticks []clpool.TickInfo, startAfter *int32, limit int) []clpool.TickInfo {
	start := 0
	if startAfter != nil {
		start = sort.Search(len(ticks), func(i int) bool {
			return ticks[i].Index > *startAfter
		})
	}
	end := start + limit
	if end > len(ticks) {
		end = len(ticks)
	}
	if start >= end {
		return nil
	}
	out := make([]clpool.TickInfo, end-start)
	copy(out, ticks[start:end])
	return out
}
