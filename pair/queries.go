package pair

import (
	"context"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/position"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/liquiditymath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/sqrtpricemath"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

const (
	DefaultTickInfosLimit = 10
	MaxTickInfosLimit     = 30
)

// PoolInfo is a pool's configuration and current price.
type PoolInfo struct {
	clpool.PoolState
	// Price is token1 per token0, truncated to 18 digits.
	Price decimal.Decimal `json:"price"`
}

func (e *Engine) PoolInfo(ctx context.Context, id clpool.PoolID) (PoolInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pool, err := e.store.Pool(ctx, id)
	if err != nil {
		return PoolInfo{}, fmt.Errorf("pool %s: %w", id, err)
	}
	price, err := sqrtpricemath.SqrtPriceToPrice(pool.SqrtPrice)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{PoolState: pool, Price: price}, nil
}

// Pools lists every pool ordered by ID.
func (e *Engine) Pools(ctx context.Context) ([]clpool.PoolState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Pools(ctx)
}

func (e *Engine) TickInfo(ctx context.Context, id clpool.PoolID, index int32) (clpool.TickInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tick, ok, err := e.store.Tick(ctx, id, index)
	if err != nil {
		return clpool.TickInfo{}, err
	}
	if !ok {
		return clpool.TickInfo{}, fmt.Errorf("pool %s tick %d: %w", id, index, store.ErrNotFound)
	}
	return tick, nil
}

// TickInfos pages through the ticks of a pool in ascending index order.
// limit defaults to DefaultTickInfosLimit and is capped at MaxTickInfosLimit.
func (e *Engine) TickInfos(ctx context.Context, id clpool.PoolID, startAfter *int32, limit int) ([]clpool.TickInfo, error) {
	if limit <= 0 {
		limit = DefaultTickInfosLimit
	}
	if limit > MaxTickInfosLimit {
		limit = MaxTickInfosLimit
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Ticks(ctx, id, startAfter, limit)
}

// ProvideCalculation quotes how much of the other asset must accompany
// amount of asset to open liquidity over [lower, upper] at the current price.
func (e *Engine) ProvideCalculation(ctx context.Context, id clpool.PoolID, asset common.Address, amount uint128.Uint128, upper, lower int32) (common.Address, uint128.Uint128, error) {
	if upper < lower {
		return common.Address{}, uint128.Zero, fmt.Errorf("%w: lower %d upper %d", ErrInvalidTickRange, lower, upper)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	pool, err := e.store.Pool(ctx, id)
	if err != nil {
		return common.Address{}, uint128.Zero, fmt.Errorf("pool %s: %w", id, err)
	}
	token, ok := pool.Key.TokenOf(asset)
	if !ok {
		return common.Address{}, uint128.Zero, fmt.Errorf("%w: %s", ErrAssetMismatch, asset)
	}
	other := pool.Key.Asset(token.Other())

	high, low, err := liquiditymath.RangeSqrtPrices(upper, lower, pool.Key.TickSpacing)
	if err != nil {
		return common.Address{}, uint128.Zero, fmt.Errorf("%w: %v", ErrInvalidTickRange, err)
	}
	price := pool.SqrtPrice

	var liquidity uint128.Uint128
	switch token {
	case clpool.Token0:
		switch {
		// the range is all token1
		case !price.Lt(high):
			return common.Address{}, uint128.Zero, ErrAsset0MustBeZero
		case price.Lt(low):
			return other, uint128.Zero, nil
		}
		liquidity, err = liquiditymath.ComputeTokenLiquidity(clpool.Token0, amount, high, price)
	default:
		switch {
		// the range is all token0
		case !low.Lt(price):
			return common.Address{}, uint128.Zero, ErrAsset1MustBeZero
		case !price.Lt(high):
			return other, uint128.Zero, nil
		}
		liquidity, err = liquiditymath.ComputeTokenLiquidity(clpool.Token1, amount, price, low)
	}
	if err != nil {
		return common.Address{}, uint128.Zero, err
	}

	amount0, amount1, err := liquiditymath.AmountsFromLiquidity(upper, lower, pool.Key.TickSpacing, price, liquidity)
	if err != nil {
		return common.Address{}, uint128.Zero, err
	}
	if token == clpool.Token0 {
		return other, amount1, nil
	}
	return other, amount0, nil
}

// WithdrawCalculation quotes the amounts a full withdrawal would return.
func (e *Engine) WithdrawCalculation(ctx context.Context, positionID uint64) ([2]uint128.Uint128, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.positions.Get(ctx, e.store, positionID)
	if err != nil {
		return [2]uint128.Uint128{}, err
	}
	pool, err := e.store.Pool(ctx, p.PoolID)
	if err != nil {
		return [2]uint128.Uint128{}, fmt.Errorf("pool %s: %w", p.PoolID, err)
	}
	amount0, amount1, err := liquiditymath.AmountsFromLiquidity(p.Upper, p.Lower, pool.Key.TickSpacing, pool.SqrtPrice, p.Liquidity)
	if err != nil {
		return [2]uint128.Uint128{}, err
	}
	return [2]uint128.Uint128{amount0, amount1}, nil
}

// Simulate quotes a swap of amount of offerAsset without changing state.
func (e *Engine) Simulate(ctx context.Context, id clpool.PoolID, offerAsset common.Address, amount uint128.Uint128) (calculator.SwapResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pool, token, err := e.poolToken(ctx, id, offerAsset)
	if err != nil {
		return calculator.SwapResult{}, err
	}
	return calculator.SimulateSwap(ctx, e.store, pool, token, amount, e.maxSteps)
}

// ReverseSimulate quotes the offer needed to receive amount of askAsset.
func (e *Engine) ReverseSimulate(ctx context.Context, id clpool.PoolID, askAsset common.Address, amount uint128.Uint128) (calculator.ReverseResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pool, token, err := e.poolToken(ctx, id, askAsset)
	if err != nil {
		return calculator.ReverseResult{}, err
	}
	return calculator.ReverseSwap(ctx, e.store, pool, token, amount, e.maxSteps)
}

func (e *Engine) poolToken(ctx context.Context, id clpool.PoolID, asset common.Address) (clpool.PoolState, clpool.Token, error) {
	pool, err := e.store.Pool(ctx, id)
	if err != nil {
		return clpool.PoolState{}, 0, fmt.Errorf("pool %s: %w", id, err)
	}
	token, ok := pool.Key.TokenOf(asset)
	if !ok {
		return clpool.PoolState{}, 0, fmt.Errorf("%w: %s", ErrAssetMismatch, asset)
	}
	return pool, token, nil
}

// CumulativeVolume returns the wrapping traded volume per token.
func (e *Engine) CumulativeVolume(ctx context.Context, id clpool.PoolID) ([2]uint128.Uint128, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pool, err := e.store.Pool(ctx, id)
	if err != nil {
		return [2]uint128.Uint128{}, fmt.Errorf("pool %s: %w", id, err)
	}
	return pool.Volume, nil
}

// Reward returns the fees a position could claim now.
func (e *Engine) Reward(ctx context.Context, positionID uint64) (position.Rewards, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.positions.Get(ctx, e.store, positionID)
	if err != nil {
		return position.Rewards{}, err
	}
	return position.Reward(ctx, e.store, p)
}

func (e *Engine) Position(ctx context.Context, positionID uint64) (clpool.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions.Get(ctx, e.store, positionID)
}

// Positions lists the positions of owner in ascending ID order.
func (e *Engine) Positions(ctx context.Context, owner common.Address, startAfter *uint64, limit int) ([]clpool.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions.Owned(ctx, e.store, owner, startAfter, limit)
}
