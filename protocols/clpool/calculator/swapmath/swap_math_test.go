package swapmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/liquiditymath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/tickmath"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func u128(v uint64) uint128.Uint128 {
	return uint128.From64(v)
}

// assertWithin checks |got - want| <= tol.
func assertWithin(t *testing.T, want, got uint128.Uint128, tol uint64, msgAndArgs ...any) {
	t.Helper()
	diff := new(big.Int).Sub(want.Big(), got.Big())
	assert.LessOrEqual(t, diff.CmpAbs(new(big.Int).SetUint64(tol)), 0, msgAndArgs...)
}

func randBelow(t *testing.T, max *big.Int) *big.Int {
	n, err := rand.Int(rand.Reader, max)
	require.NoError(t, err)
	return n
}

func TestComputeSwapTick(t *testing.T) {
	liquidity := u128(10_000_000_000)

	t.Run("offer token1 inside one tick", func(t *testing.T) {
		res, err := ComputeSwapTick(0, 20000, fullmath.Q128, liquidity, clpool.Token1, u128(10_000_000_000), decimalmath.Zero())
		require.NoError(t, err)
		assertWithin(t, u128(5_000_000_000), res.AmountOut, 1)
		assert.Equal(t, u128(10_000_000_000), res.AmountIn)
		assert.True(t, res.Fee.IsZero())
		assert.Equal(t, int32(0), res.TickIndexNext)
		// sqrt price 1 -> 2
		assert.Equal(t, new(uint256.Int).Lsh(fullmath.Q128, 1), res.SqrtPriceNext)
	})

	t.Run("offer token0 inside one tick", func(t *testing.T) {
		res, err := ComputeSwapTick(-1, 20000, fullmath.Q128, liquidity, clpool.Token0, u128(10_000_000_000), decimalmath.Zero())
		require.NoError(t, err)
		assertWithin(t, u128(5_000_000_000), res.AmountOut, 1)
		assert.Equal(t, int32(-1), res.TickIndexNext)
		// sqrt price 1 -> 0.5
		assert.Equal(t, new(uint256.Int).Rsh(fullmath.Q128, 1), res.SqrtPriceNext)
	})

	t.Run("fee is taken from the gross return", func(t *testing.T) {
		fee := decimalmath.MustParse("0.003")
		res, err := ComputeSwapTick(0, 20000, fullmath.Q128, liquidity, clpool.Token1, u128(10_000_000_000), fee)
		require.NoError(t, err)
		want, err := fee.MulUint(res.AmountOut)
		require.NoError(t, err)
		assert.Equal(t, want, res.Fee)
	})

	t.Run("offer larger than the tick exhausts it", func(t *testing.T) {
		res, err := ComputeSwapTick(0, 10, fullmath.Q128, liquidity, clpool.Token1, u128(1_000_000_000_000), decimalmath.Zero())
		require.NoError(t, err)

		_, high, err := tickmath.TickIndexBounds(0, 10)
		require.NoError(t, err)
		a0, _, err := liquiditymath.AmountsFromLiquidity(0, 0, 10, fullmath.Q128, liquidity)
		require.NoError(t, err)

		assert.Equal(t, high, res.SqrtPriceNext)
		assert.Equal(t, int32(1), res.TickIndexNext)
		assert.Equal(t, a0, res.AmountOut)
		assert.True(t, res.AmountIn.Cmp(u128(1_000_000_000_000)) < 0)
	})

	t.Run("price on the lower edge advances down without trading", func(t *testing.T) {
		low, _, err := tickmath.TickIndexBounds(3, 60)
		require.NoError(t, err)
		res, err := ComputeSwapTick(3, 60, low, liquidity, clpool.Token0, u128(1_000), decimalmath.Zero())
		require.NoError(t, err)
		assert.True(t, res.AmountIn.IsZero())
		assert.True(t, res.AmountOut.IsZero())
		assert.Equal(t, int32(2), res.TickIndexNext)
		assert.Equal(t, low, res.SqrtPriceNext)
	})

	t.Run("price on the upper edge advances up without trading", func(t *testing.T) {
		_, high, err := tickmath.TickIndexBounds(-4, 60)
		require.NoError(t, err)
		res, err := ComputeSwapTick(-4, 60, high, liquidity, clpool.Token1, u128(1_000), decimalmath.Zero())
		require.NoError(t, err)
		assert.True(t, res.AmountIn.IsZero())
		assert.Equal(t, int32(-3), res.TickIndexNext)
		assert.Equal(t, high, res.SqrtPriceNext)
	})

	t.Run("offer rounded onto the upper edge keeps its tick", func(t *testing.T) {
		thin := u128(1_000_003)
		_, high, err := tickmath.TickIndexBounds(0, 1)
		require.NoError(t, err)
		_, a1, err := liquiditymath.AmountsFromLiquidity(0, 0, 1, fullmath.Q128, thin)
		require.NoError(t, err)
		_, a1Max, err := liquiditymath.AmountsFromLiquidity(0, 0, 1, high, thin)
		require.NoError(t, err)
		maxOffer, err := fullmath.SubUint128(a1Max, a1)
		require.NoError(t, err)
		require.Equal(t, u128(50), maxOffer)

		res, err := ComputeSwapTick(0, 1, fullmath.Q128, thin, clpool.Token1, maxOffer, decimalmath.Zero())
		require.NoError(t, err)
		assert.Equal(t, maxOffer, res.AmountIn)
		assert.Equal(t, u128(49), res.AmountOut)
		assert.Equal(t, high, res.SqrtPriceNext)
		assert.Equal(t, int32(0), res.TickIndexNext)

		// the next token1 step leaves through the edge without trading
		res, err = ComputeSwapTick(0, 1, res.SqrtPriceNext, thin, clpool.Token1, u128(1), decimalmath.Zero())
		require.NoError(t, err)
		assert.True(t, res.AmountIn.IsZero())
		assert.Equal(t, int32(1), res.TickIndexNext)
	})

	t.Run("price outside the tick", func(t *testing.T) {
		res, err := ComputeSwapTick(5, 60, fullmath.Q128, liquidity, clpool.Token1, u128(1_000), decimalmath.Zero())
		assert.ErrorIs(t, err, ErrOutOfTick)
		assert.Equal(t, StepResult{}, res)
	})

	t.Run("zero liquidity", func(t *testing.T) {
		_, err := ComputeSwapTick(0, 60, fullmath.Q128, uint128.Zero, clpool.Token1, u128(1_000), decimalmath.Zero())
		assert.ErrorIs(t, err, ErrOutOfTick)
	})
}

func TestComputeSwapTickReverse(t *testing.T) {
	t.Run("ask token0", func(t *testing.T) {
		price := new(uint256.Int).Lsh(fullmath.Q128, 1)
		res, err := ComputeSwapTickReverse(0, 30000, price, u128(20_000_000_000), clpool.Token0, u128(5_000_000_000), decimalmath.Zero())
		require.NoError(t, err)
		assertWithin(t, u128(40_000_000_000), res.AmountIn, 1)
		assert.Equal(t, u128(5_000_000_000), res.AmountOut)
		// the interior reverse step reports the starting price
		assert.Equal(t, price, res.SqrtPriceNext)
		assert.Equal(t, int32(0), res.TickIndexNext)
	})

	t.Run("ask token1", func(t *testing.T) {
		res, err := ComputeSwapTickReverse(-1, 30000, fullmath.Q128, u128(10_000_000_000), clpool.Token1, u128(5_000_000_000), decimalmath.Zero())
		require.NoError(t, err)
		assertWithin(t, u128(10_000_000_000), res.AmountIn, 1)
		assert.Equal(t, fullmath.Q128, res.SqrtPriceNext)
	})

	t.Run("gross return includes the fee", func(t *testing.T) {
		fee := decimalmath.MustParse("0.003")
		res, err := ComputeSwapTickReverse(-1, 30000, fullmath.Q128, u128(10_000_000_000), clpool.Token1, u128(997_000), fee)
		require.NoError(t, err)
		assert.Equal(t, u128(999_999), res.AmountOut)
		assert.Equal(t, u128(2_999), res.Fee)
	})

	t.Run("ask beyond the tick exhausts it", func(t *testing.T) {
		res, err := ComputeSwapTickReverse(-1, 10, fullmath.Q128, u128(10_000_000_000), clpool.Token1, u128(1_000_000_000_000), decimalmath.Zero())
		require.NoError(t, err)
		low, _, err := tickmath.TickIndexBounds(-1, 10)
		require.NoError(t, err)
		assert.Equal(t, low, res.SqrtPriceNext)
		assert.Equal(t, int32(-2), res.TickIndexNext)
	})

	t.Run("boundary start", func(t *testing.T) {
		res, err := ComputeSwapTickReverse(0, 10, fullmath.Q128, u128(10_000_000_000), clpool.Token1, u128(10), decimalmath.Zero())
		require.NoError(t, err)
		assert.True(t, res.AmountIn.IsZero())
		assert.Equal(t, int32(-1), res.TickIndexNext)
	})

	t.Run("fee rate of one cannot be inverted", func(t *testing.T) {
		_, err := ComputeSwapTickReverse(-1, 30000, fullmath.Q128, u128(10_000_000_000), clpool.Token1, u128(5), decimalmath.One())
		assert.ErrorIs(t, err, fullmath.ErrDivisionByZero)
	})
}

// A forward step followed by a reverse step for its return recovers the
// offer to within one return unit priced in the offer token, plus 2.
//
// The extra 2 units come from the rounding chain: the forward return is
// floored, the reverse offer is rounded up through the next sqrt price, and
// both pass through the 128-bit shift. Near price 1 the gap reaches 2 atomic
// units, one more than a single rounding would allow.
func TestSwapStepInverse_Invariants(t *testing.T) {
	const spacing = uint16(60)
	for i := 0; i < 300; i++ {
		idx := int32(randBelow(t, big.NewInt(11)).Int64() - 5)
		liquidity := uint128.FromBig(new(big.Int).Add(randBelow(t, big.NewInt(1e15)), big.NewInt(1e9)))
		offer := clpool.Token(randBelow(t, big.NewInt(2)).Int64())

		low, high, err := tickmath.TickIndexBounds(idx, spacing)
		require.NoError(t, err)
		price := new(big.Int).Add(low.ToBig(), randBelow(t, new(big.Int).Sub(high.ToBig(), low.ToBig())))

		amount := uint128.FromBig(new(big.Int).Add(randBelow(t, big.NewInt(1e10)), big.NewInt(1)))
		fwd, err := ComputeSwapTick(idx, spacing, uint256.MustFromBig(price), liquidity, offer, amount, decimalmath.Zero())
		require.NoError(t, err)
		// edge-pinned steps trade a rounded price and are not invertible
		if fwd.TickIndexNext != idx || fwd.AmountOut.IsZero() || fwd.SqrtPriceNext.Eq(low) || fwd.SqrtPriceNext.Eq(high) {
			continue
		}

		rev, err := ComputeSwapTickReverse(idx, spacing, uint256.MustFromBig(price), liquidity, offer.Other(), fwd.AmountOut, decimalmath.Zero())
		require.NoError(t, err)

		unit := new(big.Int).Div(amount.Big(), fwd.AmountOut.Big())
		tol := unit.Uint64() + 2
		assertWithin(t, amount, rev.AmountIn, tol, "offer %s amount %s", offer, amount)
	}
}
