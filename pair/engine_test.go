package pair

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/defistate/concentrated-liquidity-go/journal"
	"github.com/defistate/concentrated-liquidity-go/position"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/liquiditymath"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	testKey = clpool.PoolKey{
		Asset0:      tokenA,
		Asset1:      tokenB,
		TickSpacing: 10,
		FeeRate:     decimalmath.MustParse("0.003"),
	}
	// liquidity backed by 1e6 of each token over [-1, 1] at price 1
	testLiquidity = uint128.From64(1_000_550_082)
	testTime      = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func u128(v uint64) uint128.Uint128 { return uint128.From64(v) }

type testEngine struct {
	*Engine
	registry *prometheus.Registry
	events   *bytes.Buffer
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	var buf bytes.Buffer
	sink, err := journal.NewJSONLSink(&buf)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	e, err := NewEngine(&Config{
		Store:    store.NewMemStore(),
		Registry: reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Journal:  sink,
		Now:      func() time.Time { return testTime },
	})
	require.NoError(t, err)
	return &testEngine{Engine: e, registry: reg, events: &buf}
}

func (te *testEngine) recorded(t *testing.T) []journal.Event {
	t.Helper()
	events, err := journal.ReadJSONL(bytes.NewReader(te.events.Bytes()))
	require.NoError(t, err)
	return events
}

// newTestPool creates the test pool at price 1 and provides 1e6 of each
// token over [-1, 1] as alice, yielding position 1.
func newTestPool(t *testing.T) (*testEngine, clpool.PoolID) {
	t.Helper()
	e := newTestEngine(t)
	pool, err := e.CreatePool(context.Background(), alice, testKey, decimalmath.MustParse("1"))
	require.NoError(t, err)
	_, err = e.Provide(context.Background(), ProvideRequest{
		Pool:    pool.ID,
		Sender:  alice,
		Amounts: [2]uint128.Uint128{u128(1_000_000), u128(1_000_000)},
		Range:   &TickRange{Lower: -1, Upper: 1},
	})
	require.NoError(t, err)
	return e, pool.ID
}

func TestNewEngine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing store", Config{Registry: prometheus.NewRegistry(), Logger: logger}, "config: Store cannot be nil"},
		{"missing registry", Config{Store: store.NewMemStore(), Logger: logger}, "config: Registry cannot be nil"},
		{"missing logger", Config{Store: store.NewMemStore(), Registry: prometheus.NewRegistry()}, "config: Logger cannot be nil"},
		{"negative steps", Config{Store: store.NewMemStore(), Registry: prometheus.NewRegistry(), Logger: logger, MaxSwapSteps: -1}, "config: MaxSwapSteps cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(&tt.cfg)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestCreatePool(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	pool, err := e.CreatePool(ctx, alice, testKey, decimalmath.MustParse("1"))
	require.NoError(t, err)
	assert.Equal(t, testKey.ID(), pool.ID)
	assert.Equal(t, int32(0), pool.TickIndex)
	assert.True(t, pool.SqrtPrice.Eq(fullmath.Q128))
	assert.Equal(t, [2]uint128.Uint128{}, pool.Volume)

	info, err := e.PoolInfo(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", info.Price.String())
	assert.Equal(t, testKey, info.Key)

	_, err = e.CreatePool(ctx, bob, testKey, decimalmath.MustParse("2"))
	assert.ErrorIs(t, err, ErrPoolExists)

	t.Run("tick index is floored by spacing", func(t *testing.T) {
		key := testKey
		key.TickSpacing = 60
		pool, err := e.CreatePool(ctx, alice, key, decimalmath.MustParse("4"))
		require.NoError(t, err)
		// sqrt(4) sits in tick 13863
		assert.Equal(t, int32(231), pool.TickIndex)
		assert.True(t, pool.SqrtPrice.Eq(new(uint256.Int).Lsh(fullmath.Q128, 1)))
	})

	t.Run("invalid", func(t *testing.T) {
		zeroSpacing := testKey
		zeroSpacing.TickSpacing = 0
		_, err := e.CreatePool(ctx, alice, zeroSpacing, decimalmath.MustParse("1"))
		assert.ErrorIs(t, err, ErrInvalidTickSpacing)

		fullFee := testKey
		fullFee.FeeRate = decimalmath.One()
		_, err = e.CreatePool(ctx, alice, fullFee, decimalmath.MustParse("1"))
		assert.ErrorIs(t, err, ErrInvalidFeeRate)

		reversed := testKey
		reversed.Asset0, reversed.Asset1 = tokenB, tokenA
		_, err = e.CreatePool(ctx, alice, reversed, decimalmath.MustParse("1"))
		assert.ErrorIs(t, err, ErrInvalidAssets)

		same := testKey
		same.Asset1 = tokenA
		_, err = e.CreatePool(ctx, alice, same, decimalmath.MustParse("1"))
		assert.ErrorIs(t, err, ErrInvalidAssets)

		otherFee := testKey
		otherFee.FeeRate = decimalmath.MustParse("0.01")
		_, err = e.CreatePool(ctx, alice, otherFee, decimalmath.Zero())
		assert.ErrorIs(t, err, ErrInvalidPrice)
	})

	pools, err := e.Pools(ctx)
	require.NoError(t, err)
	assert.Len(t, pools, 2)
}

func TestProvide(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	pool, err := e.CreatePool(ctx, alice, testKey, decimalmath.MustParse("1"))
	require.NoError(t, err)

	res, err := e.Provide(ctx, ProvideRequest{
		Pool:    pool.ID,
		Sender:  alice,
		Amounts: [2]uint128.Uint128{u128(1_000_000), u128(1_000_000)},
		Range:   &TickRange{Lower: -1, Upper: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Position.ID)
	assert.Equal(t, testLiquidity, res.Liquidity)
	assert.Equal(t, [2]uint128.Uint128{u128(1_000_000), u128(500_125)}, res.Provided)
	assert.Equal(t, [2]uint128.Uint128{uint128.Zero, u128(499_875)}, res.Refund)
	assert.Len(t, res.Position.FeeSnapshots, 3)

	ticks, err := e.TickInfos(ctx, pool.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	for i, tick := range ticks {
		assert.Equal(t, int32(i-1), tick.Index)
		assert.Equal(t, testLiquidity, tick.TotalLiquidity)
		assert.True(t, tick.FeeGrowth0.IsZero())
	}

	t.Run("adds to an existing position", func(t *testing.T) {
		_, err := e.Provide(ctx, ProvideRequest{
			Pool:       pool.ID,
			Sender:     bob,
			Amounts:    [2]uint128.Uint128{u128(1_000_000), u128(1_000_000)},
			PositionID: 1,
		})
		assert.ErrorIs(t, err, ErrUnauthorized)

		more, err := e.Provide(ctx, ProvideRequest{
			Pool:       pool.ID,
			Sender:     alice,
			Amounts:    [2]uint128.Uint128{u128(1_000_000), u128(1_000_000)},
			PositionID: 1,
			// ignored when a position is given
			Range: &TickRange{Lower: 5, Upper: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), more.Position.ID)
		assert.Equal(t, testLiquidity.Mul64(2), more.Position.Liquidity)
		assert.Equal(t, position.Rewards{}, more.Rewards)

		tick, err := e.TickInfo(ctx, pool.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, testLiquidity.Mul64(2), tick.TotalLiquidity)
	})

	t.Run("rejections", func(t *testing.T) {
		amounts := [2]uint128.Uint128{u128(1_000), u128(1_000)}
		tests := []struct {
			name string
			req  ProvideRequest
			want error
		}{
			{"no position or range", ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: amounts}, ErrProvideOption},
			{"inverted range", ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: amounts, Range: &TickRange{Lower: 1, Upper: -1}}, ErrInvalidTickRange},
			{"range too wide", ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: amounts, Range: &TickRange{Lower: 0, Upper: 501}}, ErrTickRangeLimit},
			{"above max tick", ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: amounts, Range: &TickRange{Lower: 88_700, Upper: 88_728}}, ErrInvalidTickRange},
			{"below min tick", ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: amounts, Range: &TickRange{Lower: -88_728, Upper: -88_700}}, ErrInvalidTickRange},
			{"zero amounts", ProvideRequest{Pool: pool.ID, Sender: alice, Range: &TickRange{Lower: -1, Upper: 1}}, ErrZeroLiquidity},
			{"unknown position", ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: amounts, PositionID: 99}, store.ErrNotFound},
			{"unknown pool", ProvideRequest{Pool: clpool.PoolID{9}, Sender: alice, Amounts: amounts, Range: &TickRange{Lower: -1, Upper: 1}}, store.ErrNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.Provide(ctx, tt.req)
				assert.ErrorIs(t, err, tt.want)
			})
		}
		assert.ErrorIs(t, ErrTickRangeLimit, ErrInvalidTickRange)

		owned, err := e.Positions(ctx, alice, nil, 0)
		require.NoError(t, err)
		assert.Len(t, owned, 1)
	})
}

func TestSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("inside one tick", func(t *testing.T) {
		e, id := newTestPool(t)

		quote, err := e.Simulate(ctx, id, tokenB, u128(1_000))
		require.NoError(t, err)

		res, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(1_000)})
		require.NoError(t, err)
		assert.Equal(t, u128(999), res.ReturnAmount)
		assert.Equal(t, u128(2), res.Commission)
		assert.Equal(t, u128(997), res.NetReturn)
		assert.Equal(t, int32(0), res.TickIndex)
		assert.Equal(t, tokenA, res.ReturnAsset)
		assert.Equal(t, bob, res.Receiver)
		assert.Equal(t, quote, res.SwapResult)

		volume, err := e.CumulativeVolume(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, [2]uint128.Uint128{u128(999), u128(1_000)}, volume)

		tick, err := e.TickInfo(ctx, id, 0)
		require.NoError(t, err)
		assert.Equal(t, decimalmath.NewFromAtomics(u128(1_998_900_440)), tick.FeeGrowth0)
		assert.True(t, tick.FeeGrowth1.IsZero())

		info, err := e.PoolInfo(ctx, id)
		require.NoError(t, err)
		assert.True(t, info.SqrtPrice.Eq(res.SqrtPrice))
		assert.True(t, info.SqrtPrice.Gt(fullmath.Q128))
	})

	t.Run("crossing into the next tick", func(t *testing.T) {
		e, id := newTestPool(t)

		res, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, Receiver: alice, OfferAsset: tokenB, Amount: u128(800_000)})
		require.NoError(t, err)
		assert.Equal(t, u128(799_360), res.ReturnAmount)
		assert.Equal(t, u128(2_397), res.Commission)
		assert.Equal(t, u128(796_963), res.NetReturn)
		assert.Equal(t, int32(1), res.TickIndex)
		assert.Equal(t, alice, res.Receiver)
		require.Len(t, res.Steps, 2)

		var in, fee uint64
		for _, s := range res.Steps {
			in += s.AmountIn.Big().Uint64()
			fee += s.Fee.Big().Uint64()
		}
		assert.Equal(t, uint64(800_000), in)
		assert.Equal(t, uint64(2_397), fee)

		rewards, err := e.Reward(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, position.Rewards{u128(2_396), uint128.Zero}, rewards)
	})

	t.Run("a failed swap changes nothing", func(t *testing.T) {
		e, id := newTestPool(t)
		before, err := e.PoolInfo(ctx, id)
		require.NoError(t, err)
		ticksBefore, err := e.TickInfos(ctx, id, nil, 0)
		require.NoError(t, err)

		_, err = e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(2_000_000)})
		assert.ErrorIs(t, err, ErrCannotSwap)

		after, err := e.PoolInfo(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		ticksAfter, err := e.TickInfos(ctx, id, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, ticksBefore, ticksAfter)
		assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.operations.WithLabelValues("swap", statusError)))
	})

	t.Run("slippage guard", func(t *testing.T) {
		e, id := newTestPool(t)
		belief := decimalmath.MustParse("1")
		tight := decimalmath.MustParse("0.001")
		loose := decimalmath.MustParse("0.01")

		_, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(1_000), BeliefPrice: &belief, MaxSlippage: &tight})
		assert.ErrorIs(t, err, ErrSlippageExceeded)
		volume, err := e.CumulativeVolume(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, [2]uint128.Uint128{}, volume)

		// only one of the two bounds disables the guard
		_, err = e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(1_000), MaxSlippage: &tight})
		assert.NoError(t, err)
		_, err = e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(1_000), BeliefPrice: &belief, MaxSlippage: &loose})
		assert.NoError(t, err)
	})

	t.Run("rejections", func(t *testing.T) {
		e, id := newTestPool(t)
		_, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: bob, Amount: u128(1)})
		assert.ErrorIs(t, err, ErrAssetMismatch)
		_, err = e.Swap(ctx, SwapRequest{Pool: clpool.PoolID{7}, Sender: bob, OfferAsset: tokenA, Amount: u128(1)})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("step limit", func(t *testing.T) {
		e := newTestEngine(t)
		e.maxSteps = 1
		pool, err := e.CreatePool(ctx, alice, testKey, decimalmath.MustParse("1"))
		require.NoError(t, err)
		_, err = e.Provide(ctx, ProvideRequest{Pool: pool.ID, Sender: alice, Amounts: [2]uint128.Uint128{u128(1_000_000), u128(1_000_000)}, Range: &TickRange{Lower: -1, Upper: 1}})
		require.NoError(t, err)

		_, err = e.Swap(ctx, SwapRequest{Pool: pool.ID, Sender: bob, OfferAsset: tokenB, Amount: u128(800_000)})
		assert.ErrorIs(t, err, ErrMaxStepsExceeded)
	})

	t.Run("concurrent swaps are serialised", func(t *testing.T) {
		e, id := newTestPool(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(1_000)})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		volume, err := e.CumulativeVolume(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, u128(8_000), volume[clpool.Token1])
		assert.Equal(t, 8.0, testutil.ToFloat64(e.metrics.operations.WithLabelValues("swap", statusOK)))
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("partial then full", func(t *testing.T) {
		e, id := newTestPool(t)
		half := u128(500_275_041)

		res, err := e.Withdraw(ctx, WithdrawRequest{Sender: alice, PositionID: 1, Liquidity: &half})
		require.NoError(t, err)
		assert.False(t, res.Burned)
		assert.Equal(t, [2]uint128.Uint128{u128(500_000), u128(250_062)}, res.Amounts)
		assert.Equal(t, testLiquidity.Sub(half), res.Position.Liquidity)

		tick, err := e.TickInfo(ctx, id, 1)
		require.NoError(t, err)
		assert.Equal(t, testLiquidity.Sub(half), tick.TotalLiquidity)

		res, err = e.Withdraw(ctx, WithdrawRequest{Sender: alice, PositionID: 1})
		require.NoError(t, err)
		assert.True(t, res.Burned)
		assert.Equal(t, [2]uint128.Uint128{u128(500_000), u128(250_062)}, res.Amounts)

		_, err = e.Position(ctx, 1)
		assert.ErrorIs(t, err, store.ErrNotFound)
		tick, err = e.TickInfo(ctx, id, 1)
		require.NoError(t, err)
		assert.True(t, tick.TotalLiquidity.IsZero())
	})

	t.Run("settles fees", func(t *testing.T) {
		e, id := newTestPool(t)
		_, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(1_000)})
		require.NoError(t, err)

		res, err := e.Withdraw(ctx, WithdrawRequest{Sender: alice, PositionID: 1})
		require.NoError(t, err)
		assert.Equal(t, position.Rewards{u128(1), uint128.Zero}, res.Rewards)
	})

	t.Run("rejections", func(t *testing.T) {
		e, _ := newTestPool(t)
		_, err := e.Withdraw(ctx, WithdrawRequest{Sender: bob, PositionID: 1})
		assert.ErrorIs(t, err, ErrUnauthorized)

		tooMuch := testLiquidity.Add64(1)
		_, err = e.Withdraw(ctx, WithdrawRequest{Sender: alice, PositionID: 1, Liquidity: &tooMuch})
		assert.ErrorIs(t, err, liquiditymath.ErrLiquidityUnderflow)

		zero := uint128.Zero
		_, err = e.Withdraw(ctx, WithdrawRequest{Sender: alice, PositionID: 1, Liquidity: &zero})
		assert.ErrorIs(t, err, ErrZeroLiquidity)

		p, err := e.Position(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, testLiquidity, p.Liquidity)
	})
}

func TestClaimAndTransfer(t *testing.T) {
	ctx := context.Background()
	e, id := newTestPool(t)

	_, err := e.Swap(ctx, SwapRequest{Pool: id, Sender: bob, OfferAsset: tokenB, Amount: u128(500_000)})
	require.NoError(t, err)

	_, err = e.ClaimReward(ctx, bob, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	rewards, err := e.ClaimReward(ctx, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, position.Rewards{u128(1_498), uint128.Zero}, rewards)

	rewards, err = e.Reward(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, position.Rewards{}, rewards)

	moved, err := e.Transfer(ctx, alice, 1, bob)
	require.NoError(t, err)
	assert.Equal(t, bob, moved.Owner)

	_, err = e.ClaimReward(ctx, alice, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = e.ClaimReward(ctx, bob, 1)
	assert.NoError(t, err)

	owned, err := e.Positions(ctx, bob, nil, 0)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, uint64(1), owned[0].ID)

	events := e.recorded(t)
	kinds := make([]journal.Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
		assert.True(t, testTime.Equal(ev.Time))
	}
	assert.Equal(t, []journal.Kind{
		journal.KindCreatePool,
		journal.KindProvide,
		journal.KindSwap,
		journal.KindClaim,
		journal.KindTransfer,
		journal.KindClaim,
	}, kinds)
	assert.Equal(t, "1498", events[3].Attributes["reward0"])

	n, err := testutil.GatherAndCount(e.registry, "clpool_tick_index", "clpool_swap_ticks")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
