package sqrtpricemath

import (
	"errors"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

var (
	ErrLiquidityZero = errors.New("liquidity must be greater than zero")
	ErrSqrtPriceZero = errors.New("sqrt price must be greater than zero")
	ErrPriceZero     = errors.New("price must be greater than zero")

	// e18 is 10^18, the scale of an 18-digit decimal.
	e18 = uint256.NewInt(1_000_000_000_000_000_000)
)

// NextSqrtPrice returns the sqrt price after offering amount of offer into
// liquidity at price. Offering token1 raises the price and rounds down;
// offering token0 lowers it and rounds the result half up.
func NextSqrtPrice(price *uint256.Int, liquidity, amount uint128.Uint128, offer clpool.Token) (*uint256.Int, error) {
	if price.IsZero() {
		return nil, ErrSqrtPriceZero
	}
	if liquidity.IsZero() {
		return nil, ErrLiquidityZero
	}
	l := fullmath.FromUint128(liquidity)
	a := fullmath.FromUint128(amount)

	if offer == clpool.Token1 {
		// p + amount / L
		aq, err := fullmath.Lsh(a, 128)
		if err != nil {
			return nil, err
		}
		delta, err := fullmath.Div(aq, l, false)
		if err != nil {
			return nil, err
		}
		return fullmath.Add(price, delta)
	}

	// L / (L/p + amount)
	lq, err := fullmath.Lsh(l, 128)
	if err != nil {
		return nil, err
	}
	den, err := fullmath.Add(new(uint256.Int).Div(lq, price), a)
	if err != nil {
		return nil, err
	}
	return fullmath.Div(lq, den, true)
}

// ReturnAmount is the amount paid out when the price moves from before to
// after with offer offered, rounded down.
func ReturnAmount(offer clpool.Token, before, after *uint256.Int, liquidity uint128.Uint128) (uint128.Uint128, error) {
	l := fullmath.FromUint128(liquidity)

	var (
		out *uint256.Int
		err error
	)
	if offer == clpool.Token0 {
		// L * (before - after)
		var diff *uint256.Int
		if diff, err = fullmath.Sub(before, after); err != nil {
			return uint128.Zero, err
		}
		out, err = fullmath.MulDiv(l, diff, fullmath.Q128, false)
	} else {
		// L * (after - before) / after / before
		var diff, lq *uint256.Int
		if diff, err = fullmath.Sub(after, before); err != nil {
			return uint128.Zero, err
		}
		if lq, err = fullmath.Lsh(l, 128); err != nil {
			return uint128.Zero, err
		}
		if out, err = fullmath.MulDiv(lq, diff, after, false); err != nil {
			return uint128.Zero, err
		}
		out, err = fullmath.Div(out, before, false)
	}
	if err != nil {
		return uint128.Zero, err
	}
	return fullmath.ToUint128(out)
}

// OfferAmount is the amount that must be offered at price to receive ask of
// returnToken, rounded half up.
func OfferAmount(returnToken clpool.Token, price *uint256.Int, ask, liquidity uint128.Uint128) (uint128.Uint128, error) {
	if price.IsZero() {
		return uint128.Zero, ErrSqrtPriceZero
	}
	l := fullmath.FromUint128(liquidity)
	a := fullmath.FromUint128(ask)

	var (
		out *uint256.Int
		err error
	)
	if returnToken == clpool.Token0 {
		// L * ask / (L/p - ask) * p
		var lq, lOverP, den *uint256.Int
		if lq, err = fullmath.Lsh(l, 128); err != nil {
			return uint128.Zero, err
		}
		if lOverP, err = fullmath.Div(lq, price, true); err != nil {
			return uint128.Zero, err
		}
		if den, err = fullmath.Sub(lOverP, a); err != nil {
			return uint128.Zero, err
		}
		if out, err = fullmath.MulDiv(l, a, den, true); err != nil {
			return uint128.Zero, err
		}
		out, err = fullmath.MulDiv(out, price, fullmath.Q128, true)
	} else {
		// (ask / p) * L / (L*p - ask)
		var aq, lTimesP, den *uint256.Int
		if aq, err = fullmath.Lsh(a, 128); err != nil {
			return uint128.Zero, err
		}
		if out, err = fullmath.MulDiv(aq, l, price, true); err != nil {
			return uint128.Zero, err
		}
		if lTimesP, err = fullmath.MulDiv(l, price, fullmath.Q128, true); err != nil {
			return uint128.Zero, err
		}
		if den, err = fullmath.Sub(lTimesP, a); err != nil {
			return uint128.Zero, err
		}
		out, err = fullmath.Div(out, den, true)
	}
	if err != nil {
		return uint128.Zero, err
	}
	return fullmath.ToUint128(out)
}

// SqrtPriceToPrice returns (p*p) >> 128 as a decimal ratio over 2^128,
// truncated to 18 fractional digits.
func SqrtPriceToPrice(sqrtPrice *uint256.Int) (decimal.Decimal, error) {
	p, err := fullmath.MulShr(sqrtPrice, sqrtPrice, 128)
	if err != nil {
		return decimal.Decimal{}, err
	}
	atomics, err := fullmath.MulDiv(p, e18, fullmath.Q128, false)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(atomics.ToBig(), -decimalmath.Places), nil
}

// SqrtPriceFromPrice returns floor(floor(sqrt(price) * 10^18) * 2^128 / 10^18).
// The root is truncated to 18 fractional digits before scaling, so results
// move in steps of about 2^128/10^18 (3.4e20) and prices closer than that map
// to the same sqrt price.
func SqrtPriceFromPrice(price decimalmath.Decimal) (*uint256.Int, error) {
	if price.IsZero() {
		return nil, ErrPriceZero
	}
	scaled, err := fullmath.Mul(fullmath.FromUint128(price.Atomics()), e18)
	if err != nil {
		return nil, err
	}
	// sqrt(price) * 10^18
	root := new(uint256.Int).Sqrt(scaled)
	return fullmath.MulDiv(root, fullmath.Q128, e18, false)
}
