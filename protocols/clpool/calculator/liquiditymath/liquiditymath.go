package liquiditymath

import (
	"errors"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/tickmath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// Rounding keeps a provide/withdraw round trip from paying out more than was
// put in: liquidity from amounts rounds down, amounts from liquidity round up,
// and withdrawals are computed from the stored liquidity.

var (
	ErrLiquidityOverflow  = fmt.Errorf("liquidity overflow: %w", fullmath.ErrOverflow)
	ErrLiquidityUnderflow = fmt.Errorf("liquidity underflow: %w", fullmath.ErrUnderflow)
	ErrInvalidPriceRange  = errors.New("price range is empty")
)

// RangeSqrtPrices returns the sqrt prices at the lower edge of bucket lower
// and at the upper edge of bucket upper.
func RangeSqrtPrices(upper, lower int32, spacing uint16) (high, low *uint256.Int, err error) {
	lowTick, err := tickmath.TickIndexToTick(lower, spacing)
	if err != nil {
		return nil, nil, err
	}
	highTick, err := tickmath.TickIndexToTick(upper, spacing)
	if err != nil {
		return nil, nil, err
	}
	highTick += int32(spacing)
	if low, err = tickmath.SqrtPriceAtTick(lowTick); err != nil {
		return nil, nil, err
	}
	if high, err = tickmath.SqrtPriceAtTick(highTick); err != nil {
		return nil, nil, err
	}
	return high, low, nil
}

// AmountsFromLiquidity returns the token amounts backing liquidity over the
// index range [lower, upper] at price, rounding up. An inverted range yields zeros.
func AmountsFromLiquidity(upper, lower int32, spacing uint16, price *uint256.Int, liquidity uint128.Uint128) (amount0, amount1 uint128.Uint128, err error) {
	if upper < lower {
		return uint128.Zero, uint128.Zero, nil
	}
	high, low, err := RangeSqrtPrices(upper, lower, spacing)
	if err != nil {
		return uint128.Zero, uint128.Zero, err
	}

	l := fullmath.FromUint128(liquidity)
	switch {
	case price.Lt(low):
		amount0, err = amount0Delta(l, high, low)
		return amount0, uint128.Zero, err
	case !price.Lt(high):
		amount1, err = amount1Delta(l, high, low)
		return uint128.Zero, amount1, err
	default:
		if amount0, err = amount0Delta(l, high, price); err != nil {
			return uint128.Zero, uint128.Zero, err
		}
		if amount1, err = amount1Delta(l, price, low); err != nil {
			return uint128.Zero, uint128.Zero, err
		}
		return amount0, amount1, nil
	}
}

// amount0Delta returns L * (high - low) / high / low, rounded up.
func amount0Delta(l, high, low *uint256.Int) (uint128.Uint128, error) {
	lq, err := fullmath.Lsh(l, 128)
	if err != nil {
		return uint128.Zero, err
	}
	v, err := fullmath.MulDiv(lq, new(uint256.Int).Sub(high, low), high, true)
	if err != nil {
		return uint128.Zero, err
	}
	if v, err = fullmath.Div(v, low, true); err != nil {
		return uint128.Zero, err
	}
	return fullmath.ToUint128(v)
}

// amount1Delta returns L * (high - low), rounded up.
func amount1Delta(l, high, low *uint256.Int) (uint128.Uint128, error) {
	v, err := fullmath.MulDiv(l, new(uint256.Int).Sub(high, low), fullmath.Q128, true)
	if err != nil {
		return uint128.Zero, err
	}
	return fullmath.ToUint128(v)
}

// ComputeLiquidity returns the largest liquidity the given amounts can back
// over [lower, upper] at price, rounding down.
func ComputeLiquidity(amount0, amount1 uint128.Uint128, price *uint256.Int, upper, lower int32, spacing uint16) (uint128.Uint128, error) {
	if upper < lower {
		return uint128.Zero, nil
	}
	high, low, err := RangeSqrtPrices(upper, lower, spacing)
	if err != nil {
		return uint128.Zero, err
	}

	switch {
	case price.Lt(low):
		return ComputeTokenLiquidity(clpool.Token0, amount0, high, low)
	case !price.Lt(high):
		return ComputeTokenLiquidity(clpool.Token1, amount1, high, low)
	default:
		l0, err := ComputeTokenLiquidity(clpool.Token0, amount0, high, price)
		if err != nil {
			return uint128.Zero, err
		}
		// At the lower edge the range holds no token1, so token0 alone bounds L.
		if price.Eq(low) {
			return l0, nil
		}
		l1, err := ComputeTokenLiquidity(clpool.Token1, amount1, price, low)
		if err != nil {
			return uint128.Zero, err
		}
		if l0.Cmp(l1) > 0 {
			return l1, nil
		}
		return l0, nil
	}
}

// ComputeTokenLiquidity returns the liquidity a single token amount backs
// between the sqrt prices low and high, rounding down.
func ComputeTokenLiquidity(token clpool.Token, amount uint128.Uint128, high, low *uint256.Int) (uint128.Uint128, error) {
	if !low.Lt(high) {
		return uint128.Zero, ErrInvalidPriceRange
	}
	diff := new(uint256.Int).Sub(high, low)
	a := fullmath.FromUint128(amount)

	var (
		l   *uint256.Int
		err error
	)
	switch token {
	case clpool.Token0:
		// amount * high * low / (high - low)
		var hl *uint256.Int
		if hl, err = fullmath.MulDiv(high, low, diff, false); err != nil {
			return uint128.Zero, err
		}
		l, err = fullmath.MulShr(hl, a, 128)
	default:
		// amount / (high - low)
		var aq *uint256.Int
		if aq, err = fullmath.Lsh(a, 128); err != nil {
			return uint128.Zero, err
		}
		l, err = fullmath.Div(aq, diff, false)
	}
	if err != nil {
		return uint128.Zero, err
	}
	out, err := fullmath.ToUint128(l)
	if err != nil {
		return uint128.Zero, ErrLiquidityOverflow
	}
	return out, nil
}

// AddLiquidity returns x + y.
func AddLiquidity(x, y uint128.Uint128) (uint128.Uint128, error) {
	z, err := fullmath.AddUint128(x, y)
	if err != nil {
		return uint128.Zero, ErrLiquidityOverflow
	}
	return z, nil
}

// SubLiquidity returns x - y.
func SubLiquidity(x, y uint128.Uint128) (uint128.Uint128, error) {
	z, err := fullmath.SubUint128(x, y)
	if err != nil {
		return uint128.Zero, ErrLiquidityUnderflow
	}
	return z, nil
}
