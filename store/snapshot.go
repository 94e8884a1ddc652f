package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
	"lukechampine.com/uint128"
)

// SnapshotVersion is the layout version written by Export.
const SnapshotVersion = 1

// Snapshot is a portable dump of a store. Large integers are decimal strings.
type Snapshot struct {
	Version        int              `yaml:"version"`
	LastPositionID uint64           `yaml:"lastPositionId"`
	Pools          []PoolSnapshot   `yaml:"pools"`
	Positions      []PositionRecord `yaml:"positions,omitempty"`
}

type PoolSnapshot struct {
	ID          clpool.PoolID       `yaml:"id"`
	Asset0      common.Address      `yaml:"asset0"`
	Asset1      common.Address      `yaml:"asset1"`
	TickSpacing uint16              `yaml:"tickSpacing"`
	FeeRate     decimalmath.Decimal `yaml:"feeRate"`
	TickIndex   int32               `yaml:"tickIndex"`
	SqrtPrice   string              `yaml:"sqrtPrice"`
	Volume0     string              `yaml:"volume0"`
	Volume1     string              `yaml:"volume1"`
	Ticks       []TickSnapshot      `yaml:"ticks,omitempty"`
}

type TickSnapshot struct {
	Index          int32               `yaml:"index"`
	FeeGrowth0     decimalmath.Decimal `yaml:"feeGrowth0"`
	FeeGrowth1     decimalmath.Decimal `yaml:"feeGrowth1"`
	TotalLiquidity string              `yaml:"totalLiquidity"`
}

type PositionRecord struct {
	ID           uint64           `yaml:"id"`
	PoolID       clpool.PoolID    `yaml:"poolId"`
	Owner        common.Address   `yaml:"owner"`
	Liquidity    string           `yaml:"liquidity"`
	Lower        int32            `yaml:"lowerTickIndex"`
	Upper        int32            `yaml:"upperTickIndex"`
	FeeSnapshots []clpool.FeeInfo `yaml:"feeSnapshots,omitempty"`
}

// NewPoolSnapshot converts a pool into its snapshot form.
func NewPoolSnapshot(p clpool.Pool) PoolSnapshot {
	ps := PoolSnapshot{
		ID:          p.ID,
		Asset0:      p.Key.Asset0,
		Asset1:      p.Key.Asset1,
		TickSpacing: p.Key.TickSpacing,
		FeeRate:     p.Key.FeeRate,
		TickIndex:   p.TickIndex,
		SqrtPrice:   p.SqrtPrice.Dec(),
		Volume0:     p.Volume[0].String(),
		Volume1:     p.Volume[1].String(),
	}
	for _, t := range p.Ticks {
		ps.Ticks = append(ps.Ticks, TickSnapshot{
			Index:          t.Index,
			FeeGrowth0:     t.FeeGrowth0,
			FeeGrowth1:     t.FeeGrowth1,
			TotalLiquidity: t.TotalLiquidity.String(),
		})
	}
	return ps
}

// Pool converts the snapshot back into a pool.
func (ps PoolSnapshot) Pool() (clpool.Pool, error) {
	key := clpool.PoolKey{Asset0: ps.Asset0, Asset1: ps.Asset1, TickSpacing: ps.TickSpacing, FeeRate: ps.FeeRate}
	if id := key.ID(); id != ps.ID {
		return clpool.Pool{}, fmt.Errorf("snapshot: pool %s does not match its key (want %s)", ps.ID, id)
	}
	price, err := uint256.FromDecimal(ps.SqrtPrice)
	if err != nil {
		return clpool.Pool{}, fmt.Errorf("snapshot: pool %s sqrt price: %w", ps.ID, err)
	}
	p := clpool.Pool{PoolState: clpool.PoolState{ID: ps.ID, Key: key, TickIndex: ps.TickIndex, SqrtPrice: price}}
	if p.Volume[0], err = uint128.FromString(ps.Volume0); err != nil {
		return clpool.Pool{}, fmt.Errorf("snapshot: pool %s volume0: %w", ps.ID, err)
	}
	if p.Volume[1], err = uint128.FromString(ps.Volume1); err != nil {
		return clpool.Pool{}, fmt.Errorf("snapshot: pool %s volume1: %w", ps.ID, err)
	}

	var prev *int32
	for _, ts := range ps.Ticks {
		if prev != nil && ts.Index <= *prev {
			return clpool.Pool{}, fmt.Errorf("snapshot: pool %s ticks not in ascending order at %d", ps.ID, ts.Index)
		}
		idx := ts.Index
		prev = &idx
		liquidity, err := uint128.FromString(ts.TotalLiquidity)
		if err != nil {
			return clpool.Pool{}, fmt.Errorf("snapshot: pool %s tick %d liquidity: %w", ps.ID, ts.Index, err)
		}
		p.Ticks = append(p.Ticks, clpool.TickInfo{
			Index:          ts.Index,
			FeeGrowth0:     ts.FeeGrowth0,
			FeeGrowth1:     ts.FeeGrowth1,
			TotalLiquidity: liquidity,
		})
	}
	return p, nil
}

// Position converts the record back into a position.
func (pr PositionRecord) Position() (clpool.Position, error) {
	liquidity, err := uint128.FromString(pr.Liquidity)
	if err != nil {
		return clpool.Position{}, fmt.Errorf("snapshot: position %d liquidity: %w", pr.ID, err)
	}
	return clpool.Position{
		ID:           pr.ID,
		PoolID:       pr.PoolID,
		Owner:        pr.Owner,
		Liquidity:    liquidity,
		Lower:        pr.Lower,
		Upper:        pr.Upper,
		FeeSnapshots: pr.FeeSnapshots,
	}, nil
}

// PoolSet converts every pool in the snapshot.
func (s *Snapshot) PoolSet() ([]clpool.Pool, error) {
	pools := make([]clpool.Pool, 0, len(s.Pools))
	for _, ps := range s.Pools {
		p, err := ps.Pool()
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// Export reads the whole store into a snapshot.
func Export(ctx context.Context, r Reader) (*Snapshot, error) {
	pools, err := AllPools(ctx, r)
	if err != nil {
		return nil, err
	}
	last, err := r.LastPositionID(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Version: SnapshotVersion, LastPositionID: last}
	for _, p := range pools {
		snap.Pools = append(snap.Pools, NewPoolSnapshot(p))
	}
	// position IDs are allocated sequentially from 1
	for id := uint64(1); id <= last; id++ {
		p, err := r.Position(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Positions = append(snap.Positions, PositionRecord{
			ID:           p.ID,
			PoolID:       p.PoolID,
			Owner:        p.Owner,
			Liquidity:    p.Liquidity.String(),
			Lower:        p.Lower,
			Upper:        p.Upper,
			FeeSnapshots: p.FeeSnapshots,
		})
	}
	return snap, nil
}

// Import writes the snapshot into s as a single batch.
func Import(ctx context.Context, s Store, snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("snapshot: unsupported version %d", snap.Version)
	}
	pools, err := snap.PoolSet()
	if err != nil {
		return err
	}

	b := Batch{LastPositionID: &snap.LastPositionID}
	for _, p := range pools {
		b.Pools = append(b.Pools, p.PoolState)
		for _, t := range p.Ticks {
			b.Ticks = append(b.Ticks, TickRecord{Pool: p.ID, Tick: t})
		}
	}
	for _, pr := range snap.Positions {
		if pr.ID == 0 || pr.ID > snap.LastPositionID {
			return fmt.Errorf("snapshot: position id %d outside [1, %d]", pr.ID, snap.LastPositionID)
		}
		p, err := pr.Position()
		if err != nil {
			return err
		}
		b.Positions = append(b.Positions, p)
	}
	return s.Apply(ctx, b)
}

// WriteSnapshot encodes snap as YAML.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return err
	}
	return enc.Close()
}

// ReadSnapshot decodes a YAML snapshot, rejecting unknown fields.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &snap, nil
}
