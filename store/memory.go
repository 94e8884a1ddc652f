package store

import (
	"context"
	"sync"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/tickbitmap"
	"github.com/ethereum/go-ethereum/common"
)

// MemStore keeps everything in memory. Ticks are held per pool in a slice
// sorted by index.
type MemStore struct {
	mu             sync.RWMutex
	pools          map[clpool.PoolID]clpool.PoolState
	ticks          map[clpool.PoolID][]clpool.TickInfo
	positions      map[uint64]clpool.Position
	lastPositionID uint64
}

func NewMemStore() *MemStore {
	return &MemStore{
		pools:     make(map[clpool.PoolID]clpool.PoolState),
		ticks:     make(map[clpool.PoolID][]clpool.TickInfo),
		positions: make(map[uint64]clpool.Position),
	}
}

func (s *MemStore) Pool(_ context.Context, id clpool.PoolID) (clpool.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[id]
	if !ok {
		return clpool.PoolState{}, ErrNotFound
	}
	return clpool.CopyPoolState(pool), nil
}

func (s *MemStore) Pools(_ context.Context) ([]clpool.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]clpool.PoolState, 0, len(s.pools))
	for _, pool := range s.pools {
		out = append(out, clpool.CopyPoolState(pool))
	}
	sortPoolStates(out)
	return out, nil
}

func (s *MemStore) Tick(_ context.Context, pool clpool.PoolID, index int32) (clpool.TickInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticks := s.ticks[pool]
	pos, found := tickbitmap.Find(ticks, index)
	if !found {
		return clpool.TickInfo{}, false, nil
	}
	return ticks[pos], true, nil
}

func (s *MemStore) Ticks(_ context.Context, pool clpool.PoolID, startAfter *int32, limit int) ([]clpool.TickInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticks := s.ticks[pool]
	if limit <= 0 {
		limit = len(ticks)
	}
	return tickbitmap.Page(ticks, startAfter, limit), nil
}

func (s *MemStore) Position(_ context.Context, id uint64) (clpool.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return clpool.Position{}, ErrNotFound
	}
	return copyPosition(p), nil
}

func (s *MemStore) Positions(_ context.Context, owner common.Address, startAfter *uint64, limit int) ([]clpool.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]clpool.Position, 0, len(s.positions))
	for _, p := range s.positions {
		all = append(all, copyPosition(p))
	}
	return pagePositions(all, owner, startAfter, limit), nil
}

func (s *MemStore) LastPositionID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPositionID, nil
}

// Apply writes b under a single lock.
func (s *MemStore) Apply(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pool := range b.Pools {
		s.pools[pool.ID] = clpool.CopyPoolState(pool)
	}
	for _, rec := range b.Ticks {
		s.ticks[rec.Pool] = tickbitmap.Upsert(s.ticks[rec.Pool], rec.Tick)
	}
	for _, p := range b.Positions {
		s.positions[p.ID] = copyPosition(p)
	}
	for _, id := range b.DeletedPositions {
		delete(s.positions, id)
	}
	if b.LastPositionID != nil {
		s.lastPositionID = *b.LastPositionID
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}
