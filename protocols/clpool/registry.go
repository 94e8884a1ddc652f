package clpool

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
	"lukechampine.com/uint128"
)

// Token selects one side of a pool.
type Token uint8

const (
	Token0 Token = iota
	Token1
)

// Other returns the opposite side.
func (t Token) Other() Token {
	if t == Token0 {
		return Token1
	}
	return Token0
}

func (t Token) String() string {
	switch t {
	case Token0:
		return "token0"
	case Token1:
		return "token1"
	default:
		return fmt.Sprintf("token(%d)", uint8(t))
	}
}

// PoolID identifies a pool. It is derived from the pool key.
type PoolID = common.Hash

// PoolKey is the immutable configuration of a pool.
type PoolKey struct {
	Asset0      common.Address      `json:"asset0"`
	Asset1      common.Address      `json:"asset1"`
	TickSpacing uint16              `json:"tickSpacing"`
	FeeRate     decimalmath.Decimal `json:"feeRate"`
}

// Canonical returns the key with its assets in ascending byte order.
func (k PoolKey) Canonical() PoolKey {
	if bytes.Compare(k.Asset0[:], k.Asset1[:]) > 0 {
		k.Asset0, k.Asset1 = k.Asset1, k.Asset0
	}
	return k
}

// ID hashes the canonical key: BLAKE3(asset0 || asset1 || spacing || fee atomics).
func (k PoolKey) ID() PoolID {
	c := k.Canonical()
	h := blake3.New()
	h.Write(c.Asset0[:])
	h.Write(c.Asset1[:])

	var spacing [2]byte
	binary.BigEndian.PutUint16(spacing[:], c.TickSpacing)
	h.Write(spacing[:])

	var fee [16]byte
	c.FeeRate.Atomics().PutBytesBE(fee[:])
	h.Write(fee[:])

	var id PoolID
	h.Digest().Read(id[:])
	return id
}

// Asset returns the address of one side of the pool.
func (k PoolKey) Asset(t Token) common.Address {
	if t == Token0 {
		return k.Asset0
	}
	return k.Asset1
}

// TokenOf reports which side asset is on.
func (k PoolKey) TokenOf(asset common.Address) (Token, bool) {
	switch asset {
	case k.Asset0:
		return Token0, true
	case k.Asset1:
		return Token1, true
	default:
		return 0, false
	}
}

// PoolState is the mutable core of a pool without its ticks.
type PoolState struct {
	ID  PoolID  `json:"id"`
	Key PoolKey `json:"key"`
	// TickIndex is the bucket containing SqrtPrice.
	TickIndex int32        `json:"tickIndex"`
	SqrtPrice *uint256.Int `json:"sqrtPrice"`
	// Volume is the wrapping cumulative traded amount per token.
	Volume [2]uint128.Uint128 `json:"-"`
}

// TickInfo is the per-bucket state. A bucket covers
// [index*spacing, (index+1)*spacing) in tick space.
type TickInfo struct {
	Index          int32               `json:"index"`
	FeeGrowth0     decimalmath.Decimal `json:"feeGrowth0"`
	FeeGrowth1     decimalmath.Decimal `json:"feeGrowth1"`
	TotalLiquidity uint128.Uint128     `json:"-"`
}

// FeeGrowth returns the accumulated fee per unit of liquidity for t.
func (ti TickInfo) FeeGrowth(t Token) decimalmath.Decimal {
	if t == Token0 {
		return ti.FeeGrowth0
	}
	return ti.FeeGrowth1
}

// AddFeeGrowth adds delta to the growth of t.
func (ti *TickInfo) AddFeeGrowth(t Token, delta decimalmath.Decimal) error {
	var err error
	if t == Token0 {
		ti.FeeGrowth0, err = ti.FeeGrowth0.Add(delta)
	} else {
		ti.FeeGrowth1, err = ti.FeeGrowth1.Add(delta)
	}
	return err
}

// FeeInfo is a fee growth snapshot for one tick, taken when a position last
// claimed or was minted.
type FeeInfo struct {
	TickIndex  int32               `json:"tickIndex" yaml:"tickIndex"`
	FeeGrowth0 decimalmath.Decimal `json:"feeGrowth0" yaml:"feeGrowth0"`
	FeeGrowth1 decimalmath.Decimal `json:"feeGrowth1" yaml:"feeGrowth1"`
}

// Position is a liquidity position over the tick index range [Lower, Upper].
type Position struct {
	ID        uint64          `json:"id"`
	PoolID    PoolID          `json:"poolId"`
	Owner     common.Address  `json:"owner"`
	Liquidity uint128.Uint128 `json:"-"`
	Lower     int32           `json:"lowerTickIndex"`
	Upper     int32           `json:"upperTickIndex"`
	// FeeSnapshots holds one entry per tick in [Lower, Upper].
	FeeSnapshots []FeeInfo `json:"feeSnapshots"`
}

// Pool is the full view of a pool, combining the core state with its ticks
// in ascending index order.
type Pool struct {
	PoolState `json:",inline"`
	Ticks     []TickInfo `json:"ticks"`
}
