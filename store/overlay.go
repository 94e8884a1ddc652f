package store

import (
	"bytes"
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/tickbitmap"
	"github.com/ethereum/go-ethereum/common"
)

type tickKey struct {
	pool  clpool.PoolID
	index int32
}

// Overlay stages writes on top of a Store. Reads see staged writes first.
// Nothing reaches the base store until Commit, which hands every staged
// write to Store.Apply as one Batch. An Overlay is not safe for concurrent
// use.
type Overlay struct {
	base Store

	pools          map[clpool.PoolID]clpool.PoolState
	ticks          map[tickKey]clpool.TickInfo
	positions      map[uint64]clpool.Position
	deleted        mapset.Set[uint64]
	touched        mapset.Set[clpool.PoolID]
	lastPositionID *uint64
}

func NewOverlay(base Store) *Overlay {
	o := &Overlay{base: base}
	o.Discard()
	return o
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.pools = make(map[clpool.PoolID]clpool.PoolState)
	o.ticks = make(map[tickKey]clpool.TickInfo)
	o.positions = make(map[uint64]clpool.Position)
	o.deleted = mapset.NewThreadUnsafeSet[uint64]()
	o.touched = mapset.NewThreadUnsafeSet[clpool.PoolID]()
	o.lastPositionID = nil
}

// Touched returns the pools whose state or ticks have staged writes.
func (o *Overlay) Touched() []clpool.PoolID {
	ids := o.touched.ToSlice()
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

func (o *Overlay) Pool(ctx context.Context, id clpool.PoolID) (clpool.PoolState, error) {
	if p, ok := o.pools[id]; ok {
		return clpool.CopyPoolState(p), nil
	}
	return o.base.Pool(ctx, id)
}

func (o *Overlay) Pools(ctx context.Context) ([]clpool.PoolState, error) {
	base, err := o.base.Pools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]clpool.PoolState, 0, len(base)+len(o.pools))
	for _, p := range base {
		if _, ok := o.pools[p.ID]; !ok {
			out = append(out, p)
		}
	}
	for _, p := range o.pools {
		out = append(out, clpool.CopyPoolState(p))
	}
	sortPoolStates(out)
	return out, nil
}

func (o *Overlay) SavePool(_ context.Context, p clpool.PoolState) error {
	o.pools[p.ID] = clpool.CopyPoolState(p)
	o.touched.Add(p.ID)
	return nil
}

func (o *Overlay) Tick(ctx context.Context, pool clpool.PoolID, index int32) (clpool.TickInfo, bool, error) {
	if t, ok := o.ticks[tickKey{pool, index}]; ok {
		return t, true, nil
	}
	return o.base.Tick(ctx, pool, index)
}

func (o *Overlay) Ticks(ctx context.Context, pool clpool.PoolID, startAfter *int32, limit int) ([]clpool.TickInfo, error) {
	merged, err := o.base.Ticks(ctx, pool, nil, 0)
	if err != nil {
		return nil, err
	}
	for key, t := range o.ticks {
		if key.pool == pool {
			merged = tickbitmap.Upsert(merged, t)
		}
	}
	if limit <= 0 {
		limit = len(merged)
	}
	return tickbitmap.Page(merged, startAfter, limit), nil
}

func (o *Overlay) SaveTick(_ context.Context, pool clpool.PoolID, t clpool.TickInfo) error {
	o.ticks[tickKey{pool, t.Index}] = t
	o.touched.Add(pool)
	return nil
}

func (o *Overlay) Position(ctx context.Context, id uint64) (clpool.Position, error) {
	if o.deleted.Contains(id) {
		return clpool.Position{}, ErrNotFound
	}
	if p, ok := o.positions[id]; ok {
		return copyPosition(p), nil
	}
	return o.base.Position(ctx, id)
}

func (o *Overlay) Positions(ctx context.Context, owner common.Address, startAfter *uint64, limit int) ([]clpool.Position, error) {
	base, err := o.base.Positions(ctx, owner, startAfter, 0)
	if err != nil {
		return nil, err
	}
	all := make([]clpool.Position, 0, len(base)+len(o.positions))
	for _, p := range base {
		if _, staged := o.positions[p.ID]; !staged && !o.deleted.Contains(p.ID) {
			all = append(all, p)
		}
	}
	for _, p := range o.positions {
		all = append(all, copyPosition(p))
	}
	return pagePositions(all, owner, startAfter, limit), nil
}

func (o *Overlay) SavePosition(_ context.Context, p clpool.Position) error {
	o.positions[p.ID] = copyPosition(p)
	o.deleted.Remove(p.ID)
	return nil
}

func (o *Overlay) DeletePosition(_ context.Context, id uint64) error {
	delete(o.positions, id)
	o.deleted.Add(id)
	return nil
}

func (o *Overlay) LastPositionID(ctx context.Context) (uint64, error) {
	if o.lastPositionID != nil {
		return *o.lastPositionID, nil
	}
	return o.base.LastPositionID(ctx)
}

func (o *Overlay) SetLastPositionID(_ context.Context, id uint64) error {
	o.lastPositionID = &id
	return nil
}

// Batch returns the staged writes in deterministic order.
func (o *Overlay) Batch() Batch {
	var b Batch
	for _, p := range o.pools {
		b.Pools = append(b.Pools, clpool.CopyPoolState(p))
	}
	sortPoolStates(b.Pools)

	for key, t := range o.ticks {
		b.Ticks = append(b.Ticks, TickRecord{Pool: key.pool, Tick: t})
	}
	sort.Slice(b.Ticks, func(i, j int) bool {
		if c := bytes.Compare(b.Ticks[i].Pool[:], b.Ticks[j].Pool[:]); c != 0 {
			return c < 0
		}
		return b.Ticks[i].Tick.Index < b.Ticks[j].Tick.Index
	})

	for _, p := range o.positions {
		b.Positions = append(b.Positions, copyPosition(p))
	}
	sort.Slice(b.Positions, func(i, j int) bool { return b.Positions[i].ID < b.Positions[j].ID })

	b.DeletedPositions = o.deleted.ToSlice()
	sort.Slice(b.DeletedPositions, func(i, j int) bool { return b.DeletedPositions[i] < b.DeletedPositions[j] })

	if o.lastPositionID != nil {
		id := *o.lastPositionID
		b.LastPositionID = &id
	}
	return b
}

// Commit applies the staged writes to the base store and clears the overlay.
// On error the staged writes are kept and the base store is unchanged.
func (o *Overlay) Commit(ctx context.Context) error {
	b := o.Batch()
	if b.IsEmpty() {
		return nil
	}
	if err := o.base.Apply(ctx, b); err != nil {
		return err
	}
	o.Discard()
	return nil
}
