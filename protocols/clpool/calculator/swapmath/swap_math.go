package swapmath

import (
	"errors"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/liquiditymath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/sqrtpricemath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/tickmath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// ErrOutOfTick is returned with a zero StepResult when the price is outside
// the tick's bucket or the tick has no liquidity. The walk cannot continue.
var ErrOutOfTick = errors.New("price outside tick or tick has no liquidity")

// StepResult is the outcome of trading inside a single tick.
type StepResult struct {
	// AmountIn is the offer consumed by the step.
	AmountIn uint128.Uint128
	// AmountOut is the gross return, fee included.
	AmountOut uint128.Uint128
	// Fee is floor(AmountOut * feeRate).
	Fee           uint128.Uint128
	SqrtPriceNext *uint256.Int
	TickIndexNext int32
}

// tickState holds the bucket bounds and the token amounts of one tick.
type tickState struct {
	low, high        *uint256.Int
	amount0, amount1 uint128.Uint128
	amount0Max       uint128.Uint128
	amount1Max       uint128.Uint128
}

func loadTick(tickIndex int32, spacing uint16, price *uint256.Int, liquidity uint128.Uint128) (*tickState, error) {
	low, high, err := tickmath.TickIndexBounds(tickIndex, spacing)
	if err != nil {
		return nil, err
	}
	if price.Gt(high) || price.Lt(low) || liquidity.IsZero() {
		return nil, ErrOutOfTick
	}

	ts := &tickState{low: low, high: high}
	if ts.amount0, ts.amount1, err = liquiditymath.AmountsFromLiquidity(tickIndex, tickIndex, spacing, price, liquidity); err != nil {
		return nil, err
	}
	if ts.amount0Max, _, err = liquiditymath.AmountsFromLiquidity(tickIndex, tickIndex, spacing, low, liquidity); err != nil {
		return nil, err
	}
	if _, ts.amount1Max, err = liquiditymath.AmountsFromLiquidity(tickIndex, tickIndex, spacing, high, liquidity); err != nil {
		return nil, err
	}
	return ts, nil
}

// boundaryStep is the zero step taken when the price already sits on the edge
// the trade moves toward.
func boundaryStep(price *uint256.Int, next int32) StepResult {
	return StepResult{
		AmountIn:      uint128.Zero,
		AmountOut:     uint128.Zero,
		Fee:           uint128.Zero,
		SqrtPriceNext: new(uint256.Int).Set(price),
		TickIndexNext: next,
	}
}

func exhaustStep(in, out uint128.Uint128, feeRate decimalmath.Decimal, edge *uint256.Int, next int32) (StepResult, error) {
	fee, err := feeRate.MulUint(out)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{
		AmountIn:      in,
		AmountOut:     out,
		Fee:           fee,
		SqrtPriceNext: new(uint256.Int).Set(edge),
		TickIndexNext: next,
	}, nil
}

// ComputeSwapTick trades up to amount of offer inside the tick at tickIndex.
// If the tick cannot absorb the whole amount the price moves to the tick's
// edge and the tick index advances in the trade direction.
func ComputeSwapTick(tickIndex int32, spacing uint16, price *uint256.Int, liquidity uint128.Uint128, offer clpool.Token, amount uint128.Uint128, feeRate decimalmath.Decimal) (StepResult, error) {
	ts, err := loadTick(tickIndex, spacing, price, liquidity)
	if err != nil {
		return StepResult{}, err
	}

	var (
		edge     *uint256.Int
		next     int32
		maxOffer uint128.Uint128
		maxOut   uint128.Uint128
	)
	if offer == clpool.Token0 {
		edge, next, maxOut = ts.low, tickIndex-1, ts.amount1
		maxOffer, err = fullmath.SubUint128(ts.amount0Max, ts.amount0)
	} else {
		edge, next, maxOut = ts.high, tickIndex+1, ts.amount0
		maxOffer, err = fullmath.SubUint128(ts.amount1Max, ts.amount1)
	}
	if err != nil {
		return StepResult{}, err
	}

	if price.Eq(edge) {
		return boundaryStep(edge, next), nil
	}
	if amount.Cmp(maxOffer) > 0 {
		return exhaustStep(maxOffer, maxOut, feeRate, edge, next)
	}

	nextPrice, err := sqrtpricemath.NextSqrtPrice(price, liquidity, amount, offer)
	if err != nil {
		return StepResult{}, err
	}
	// Rounding can carry an absorbable offer onto or past the edge. The price
	// is pinned there and the tick index is kept; a later step in the same
	// direction leaves the tick through a boundary step.
	if offer == clpool.Token0 && nextPrice.Lt(ts.low) {
		nextPrice.Set(ts.low)
	}
	if offer == clpool.Token1 && nextPrice.Gt(ts.high) {
		nextPrice.Set(ts.high)
	}

	out, err := sqrtpricemath.ReturnAmount(offer, price, nextPrice, liquidity)
	if err != nil {
		return StepResult{}, err
	}
	fee, err := feeRate.MulUint(out)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{
		AmountIn:      amount,
		AmountOut:     out,
		Fee:           fee,
		SqrtPriceNext: nextPrice,
		TickIndexNext: tickIndex,
	}, nil
}

// GrossReturn inflates a net return by 1/(1-feeRate):
// floor(amount * floor(1/(1-feeRate))), both at 18-digit precision.
func GrossReturn(amount uint128.Uint128, feeRate decimalmath.Decimal) (uint128.Uint128, error) {
	oneMinusFee, err := feeRate.OneMinus()
	if err != nil {
		return uint128.Zero, err
	}
	inv, err := oneMinusFee.Inv()
	if err != nil {
		return uint128.Zero, err
	}
	return inv.MulUint(amount)
}

// ComputeSwapTickReverse finds the offer needed inside the tick at tickIndex
// to receive amount (net of fee) of returnToken.
//
// When the tick covers the whole target the step reports the current price
// unchanged rather than the price the trade would reach, unlike
// ComputeSwapTick. Reverse walks are quotes, so the final price is never
// stored.
func ComputeSwapTickReverse(tickIndex int32, spacing uint16, price *uint256.Int, liquidity uint128.Uint128, returnToken clpool.Token, amount uint128.Uint128, feeRate decimalmath.Decimal) (StepResult, error) {
	ts, err := loadTick(tickIndex, spacing, price, liquidity)
	if err != nil {
		return StepResult{}, err
	}
	gross, err := GrossReturn(amount, feeRate)
	if err != nil {
		return StepResult{}, err
	}

	var (
		edge      *uint256.Int
		next      int32
		available uint128.Uint128
		maxOffer  uint128.Uint128
	)
	if returnToken == clpool.Token1 {
		// token0 is offered and the price falls
		edge, next, available = ts.low, tickIndex-1, ts.amount1
		maxOffer, err = fullmath.SubUint128(ts.amount0Max, ts.amount0)
	} else {
		edge, next, available = ts.high, tickIndex+1, ts.amount0
		maxOffer, err = fullmath.SubUint128(ts.amount1Max, ts.amount1)
	}
	if err != nil {
		return StepResult{}, err
	}

	if price.Eq(edge) {
		return boundaryStep(edge, next), nil
	}
	if gross.Cmp(available) > 0 {
		return exhaustStep(maxOffer, available, feeRate, edge, next)
	}

	in, err := sqrtpricemath.OfferAmount(returnToken, price, gross, liquidity)
	if err != nil {
		return StepResult{}, err
	}
	fee, err := feeRate.MulUint(gross)
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{
		AmountIn:      in,
		AmountOut:     gross,
		Fee:           fee,
		SqrtPriceNext: new(uint256.Int).Set(price),
		TickIndexNext: tickIndex,
	}, nil
}
