package pair

import (
	"context"
	"testing"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func TestTickInfos(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	pool, err := e.CreatePool(ctx, alice, testKey, decimalmath.MustParse("1"))
	require.NoError(t, err)
	_, err = e.Provide(ctx, ProvideRequest{
		Pool:    pool.ID,
		Sender:  alice,
		Amounts: [2]uint128.Uint128{u128(1_000_000), u128(1_000_000)},
		Range:   &TickRange{Lower: -20, Upper: 20},
	})
	require.NoError(t, err)

	page, err := e.TickInfos(ctx, pool.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, page, DefaultTickInfosLimit)
	assert.Equal(t, int32(-20), page[0].Index)

	page, err = e.TickInfos(ctx, pool.ID, nil, 100)
	require.NoError(t, err)
	assert.Len(t, page, MaxTickInfosLimit)

	after := int32(-20)
	page, err = e.TickInfos(ctx, pool.ID, &after, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int32(-19), page[0].Index)
	assert.Equal(t, int32(-18), page[1].Index)

	after = 20
	page, err = e.TickInfos(ctx, pool.ID, &after, 0)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = e.TickInfo(ctx, pool.ID, 21)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProvideCalculation(t *testing.T) {
	ctx := context.Background()
	e, id := newTestPool(t)
	amount := u128(1_000_000)

	tests := []struct {
		name         string
		asset        common.Address
		lower, upper int32
		wantAsset    common.Address
		want         uint128.Uint128
		wantErr      error
	}{
		{name: "token0 in range", asset: tokenA, lower: -1, upper: 1, wantAsset: tokenB, want: u128(500_125)},
		{name: "token1 in range", asset: tokenB, lower: -1, upper: 1, wantAsset: tokenA, want: u128(1_999_500)},
		{name: "token0 above price", asset: tokenA, lower: 1, upper: 2, wantAsset: tokenB, want: uint128.Zero},
		{name: "token1 above price", asset: tokenB, lower: 1, upper: 2, wantErr: ErrAsset1MustBeZero},
		{name: "token0 below price", asset: tokenA, lower: -3, upper: -1, wantErr: ErrAsset0MustBeZero},
		{name: "token1 below price", asset: tokenB, lower: -3, upper: -1, wantAsset: tokenA, want: uint128.Zero},
		{name: "inverted range", asset: tokenA, lower: 1, upper: -1, wantErr: ErrInvalidTickRange},
		{name: "foreign asset", asset: bob, lower: -1, upper: 1, wantErr: ErrAssetMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, got, err := e.ProvideCalculation(ctx, id, tt.asset, amount, tt.upper, tt.lower)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAsset, asset)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("the quote provides without refund", func(t *testing.T) {
		_, other, err := e.ProvideCalculation(ctx, id, tokenA, amount, 1, -1)
		require.NoError(t, err)
		res, err := e.Provide(ctx, ProvideRequest{
			Pool:    id,
			Sender:  bob,
			Amounts: [2]uint128.Uint128{amount, other},
			Range:   &TickRange{Lower: -1, Upper: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, [2]uint128.Uint128{amount, other}, res.Provided)
		assert.Equal(t, [2]uint128.Uint128{}, res.Refund)
	})
}

func TestQuotes(t *testing.T) {
	ctx := context.Background()
	e, id := newTestPool(t)

	amounts, err := e.WithdrawCalculation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, [2]uint128.Uint128{u128(1_000_000), u128(500_125)}, amounts)

	_, err = e.WithdrawCalculation(ctx, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)

	t.Run("simulate", func(t *testing.T) {
		res, err := e.Simulate(ctx, id, tokenB, u128(1_000))
		require.NoError(t, err)
		assert.Equal(t, u128(997), res.NetReturn)
		assert.Equal(t, u128(2), res.Commission)
		assert.Equal(t, clpool.Token1, res.Offer)

		// the offer side and the price move the other way
		res, err = e.Simulate(ctx, id, tokenA, u128(100_000))
		require.NoError(t, err)
		assert.Equal(t, u128(99_990), res.ReturnAmount)
		assert.Equal(t, u128(299), res.Commission)
		assert.Equal(t, int32(-1), res.TickIndex)
		require.Len(t, res.Steps, 2)
		assert.True(t, res.Steps[0].AmountIn.IsZero())

		_, err = e.Simulate(ctx, id, bob, u128(1))
		assert.ErrorIs(t, err, ErrAssetMismatch)
	})

	t.Run("reverse simulate", func(t *testing.T) {
		res, err := e.ReverseSimulate(ctx, id, tokenA, u128(997))
		require.NoError(t, err)
		assert.Equal(t, u128(999), res.OfferAmount)
		assert.Equal(t, u128(2), res.Commission)
		assert.Equal(t, clpool.Token0, res.Return)
	})

	t.Run("quotes leave the pool untouched", func(t *testing.T) {
		volume, err := e.CumulativeVolume(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, [2]uint128.Uint128{}, volume)
		tick, err := e.TickInfo(ctx, id, 0)
		require.NoError(t, err)
		assert.True(t, tick.FeeGrowth0.IsZero())
		assert.True(t, tick.FeeGrowth1.IsZero())
	})

	t.Run("positions", func(t *testing.T) {
		p, err := e.Position(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, alice, p.Owner)
		assert.Equal(t, testLiquidity, p.Liquidity)

		owned, err := e.Positions(ctx, bob, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, owned)

		rewards, err := e.Reward(ctx, 1)
		require.NoError(t, err)
		assert.True(t, rewards[0].IsZero())
	})
}
