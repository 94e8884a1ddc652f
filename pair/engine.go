// Package pair runs concentrated-liquidity pools on top of a state store:
// pool creation, liquidity provision and withdrawal, swaps, fee claims and
// the read-only queries that quote them.
package pair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/concentrated-liquidity-go/journal"
	"github.com/defistate/concentrated-liquidity-go/position"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/liquiditymath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/sqrtpricemath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/tickmath"
	"github.com/defistate/concentrated-liquidity-go/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"lukechampine.com/uint128"
)

// DefaultTickRangeLimit is the widest position, in tick indices, a provide
// may open.
const DefaultTickRangeLimit = 500

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the engine dependencies.
type Config struct {
	Store    store.Store
	Registry prometheus.Registerer
	Logger   Logger
	// Journal receives the events of committed operations. Nil discards them.
	Journal journal.Sink
	// MaxSwapSteps bounds the ticks a swap may visit. Zero uses
	// calculator.DefaultMaxSteps.
	MaxSwapSteps int
	// TickRangeLimit bounds upper-lower of new positions. Zero uses
	// DefaultTickRangeLimit.
	TickRangeLimit int32
	// Now stamps journal events. Nil uses time.Now.
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("config: Store cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.MaxSwapSteps < 0 {
		return errors.New("config: MaxSwapSteps cannot be negative")
	}
	if c.TickRangeLimit < 0 {
		return errors.New("config: TickRangeLimit cannot be negative")
	}
	return nil
}

// Engine executes pool operations. Mutations are serialised and each one
// commits all of its writes or none of them.
type Engine struct {
	mu         sync.RWMutex
	store      store.Store
	logger     Logger
	metrics    *Metrics
	journal    journal.Sink
	positions  *position.Manager
	maxSteps   int
	rangeLimit int32
	now        func() time.Time
}

func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	positions, err := position.NewManager(cfg.Logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:      cfg.Store,
		logger:     cfg.Logger,
		metrics:    NewMetrics(cfg.Registry),
		journal:    cfg.Journal,
		positions:  positions,
		maxSteps:   cfg.MaxSwapSteps,
		rangeLimit: cfg.TickRangeLimit,
		now:        cfg.Now,
	}
	if e.journal == nil {
		e.journal = journal.Discard
	}
	if e.maxSteps == 0 {
		e.maxSteps = calculator.DefaultMaxSteps
	}
	if e.rangeLimit == 0 {
		e.rangeLimit = DefaultTickRangeLimit
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// mutate runs fn against a fresh overlay and commits it when fn succeeds.
// Journal failures are logged; the state is already committed by then.
func (e *Engine) mutate(ctx context.Context, op string, fn func(tx *store.Overlay) ([]journal.Event, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := store.NewOverlay(e.store)
	events, err := fn(tx)
	if err == nil {
		err = tx.Commit(ctx)
	}
	e.metrics.observe(op, err)
	if err != nil {
		tx.Discard()
		e.logger.Debug("operation rejected", "operation", op, "error", err)
		return err
	}
	e.logger.Debug("operation committed", "operation", op, "pools", tx.Touched())

	now := e.now()
	for i := range events {
		events[i].Time = now
	}
	if err := e.journal.Record(ctx, events...); err != nil {
		e.logger.Error("failed to record journal events", "operation", op, "error", err)
	}
	return nil
}

// CreatePool registers a pool at initialPrice, quoted as token1 per token0.
func (e *Engine) CreatePool(ctx context.Context, creator common.Address, key clpool.PoolKey, initialPrice decimalmath.Decimal) (clpool.PoolState, error) {
	var pool clpool.PoolState
	err := e.mutate(ctx, "create_pool", func(tx *store.Overlay) ([]journal.Event, error) {
		if key.TickSpacing == 0 {
			return nil, ErrInvalidTickSpacing
		}
		if key.FeeRate.Cmp(decimalmath.One()) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFeeRate, key.FeeRate)
		}
		if key.Asset0 == key.Asset1 || key.Canonical() != key {
			return nil, ErrInvalidAssets
		}

		sqrtPrice, err := sqrtpricemath.SqrtPriceFromPrice(initialPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
		}
		if !tickmath.MinSqrtPrice.Lt(sqrtPrice) || !sqrtPrice.Lt(tickmath.MaxSqrtPrice) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, initialPrice)
		}
		tick, err := tickmath.TickAtSqrtPrice(sqrtPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
		}

		id := key.ID()
		if _, err := tx.Pool(ctx, id); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrPoolExists, id)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		pool = clpool.PoolState{
			ID:        id,
			Key:       key,
			TickIndex: tickmath.TickToTickIndex(tick, key.TickSpacing),
			SqrtPrice: sqrtPrice,
		}
		if err := tx.SavePool(ctx, pool); err != nil {
			return nil, err
		}
		return []journal.Event{{
			Kind:   journal.KindCreatePool,
			Pool:   id,
			Sender: creator,
			Attributes: map[string]string{
				"asset0":       key.Asset0.Hex(),
				"asset1":       key.Asset1.Hex(),
				"tick_spacing": fmt.Sprint(key.TickSpacing),
				"fee_rate":     key.FeeRate.String(),
				"price":        initialPrice.String(),
				"tick_index":   fmt.Sprint(pool.TickIndex),
			},
		}}, nil
	})
	if err != nil {
		return clpool.PoolState{}, err
	}
	e.metrics.tickIndex.WithLabelValues(pool.ID.Hex()).Set(float64(pool.TickIndex))
	e.logger.Info("pool created", "pool", pool.ID, "tickIndex", pool.TickIndex)
	return pool, nil
}

// TickRange is an inclusive range of tick indices.
type TickRange struct {
	Lower int32 `json:"lowerTickIndex"`
	Upper int32 `json:"upperTickIndex"`
}

// ProvideRequest adds liquidity either to an existing position (PositionID
// set) or to a new position over Range.
type ProvideRequest struct {
	Pool       clpool.PoolID
	Sender     common.Address
	Amounts    [2]uint128.Uint128
	PositionID uint64
	Range      *TickRange
}

// ProvideResult reports what a provide took and what it gives back.
type ProvideResult struct {
	Position  clpool.Position
	Liquidity uint128.Uint128
	Provided  [2]uint128.Uint128
	Refund    [2]uint128.Uint128
	// Rewards are the fees settled when adding to an existing position.
	Rewards position.Rewards
}

func (e *Engine) checkRange(spacing uint16, r TickRange) error {
	if r.Upper < r.Lower {
		return fmt.Errorf("%w: lower %d upper %d", ErrInvalidTickRange, r.Lower, r.Upper)
	}
	upperTick, err := tickmath.TickIndexToTick(r.Upper, spacing)
	if err != nil || upperTick > tickmath.MaxTick {
		return fmt.Errorf("%w: upper %d", ErrInvalidTickRange, r.Upper)
	}
	lowerTick, err := tickmath.TickIndexToTick(r.Lower, spacing)
	if err != nil || lowerTick < tickmath.MinTick {
		return fmt.Errorf("%w: lower %d", ErrInvalidTickRange, r.Lower)
	}
	if int64(r.Upper)-int64(r.Lower) > int64(e.rangeLimit) {
		return fmt.Errorf("%w: %d > %d", ErrTickRangeLimit, int64(r.Upper)-int64(r.Lower), e.rangeLimit)
	}
	return nil
}

// updateTicks adds or removes liquidity on every tick of [lower, upper].
// Adding creates missing ticks with zero fee growth.
func updateTicks(ctx context.Context, tx *store.Overlay, pool clpool.PoolID, lower, upper int32, liquidity uint128.Uint128, add bool) error {
	for i := int64(lower); i <= int64(upper); i++ {
		index := int32(i)
		tick, ok, err := tx.Tick(ctx, pool, index)
		if err != nil {
			return err
		}
		if add {
			if !ok {
				tick = clpool.TickInfo{Index: index}
			}
			tick.TotalLiquidity, err = liquiditymath.AddLiquidity(tick.TotalLiquidity, liquidity)
		} else {
			if !ok {
				return fmt.Errorf("%w: %d", ErrTickNotFound, index)
			}
			tick.TotalLiquidity, err = liquiditymath.SubLiquidity(tick.TotalLiquidity, liquidity)
		}
		if err != nil {
			return fmt.Errorf("tick %d: %w", index, err)
		}
		if err := tx.SaveTick(ctx, pool, tick); err != nil {
			return err
		}
	}
	return nil
}

// Provide adds liquidity. The amounts actually taken follow from the
// liquidity the offer can back; the remainder is reported as a refund.
func (e *Engine) Provide(ctx context.Context, req ProvideRequest) (ProvideResult, error) {
	var res ProvideResult
	err := e.mutate(ctx, "provide", func(tx *store.Overlay) ([]journal.Event, error) {
		pool, err := tx.Pool(ctx, req.Pool)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", req.Pool, err)
		}

		var (
			existing *clpool.Position
			r        TickRange
		)
		switch {
		case req.PositionID != 0:
			p, err := e.positions.GetOwned(ctx, tx, req.Sender, req.PositionID)
			if err != nil {
				return nil, err
			}
			if p.PoolID != pool.ID {
				return nil, fmt.Errorf("%w: position %d belongs to pool %s", ErrAssetMismatch, p.ID, p.PoolID)
			}
			existing = &p
			r = TickRange{Lower: p.Lower, Upper: p.Upper}
		case req.Range != nil:
			r = *req.Range
			if err := e.checkRange(pool.Key.TickSpacing, r); err != nil {
				return nil, err
			}
		default:
			return nil, ErrProvideOption
		}

		liquidity, err := liquiditymath.ComputeLiquidity(req.Amounts[0], req.Amounts[1], pool.SqrtPrice, r.Upper, r.Lower, pool.Key.TickSpacing)
		if err != nil {
			return nil, err
		}
		if liquidity.IsZero() {
			return nil, ErrZeroLiquidity
		}
		amount0, amount1, err := liquiditymath.AmountsFromLiquidity(r.Upper, r.Lower, pool.Key.TickSpacing, pool.SqrtPrice, liquidity)
		if err != nil {
			return nil, err
		}
		res.Liquidity = liquidity
		res.Provided = [2]uint128.Uint128{amount0, amount1}
		for i := range res.Refund {
			if res.Refund[i], err = fullmath.SubUint128(req.Amounts[i], res.Provided[i]); err != nil {
				return nil, fmt.Errorf("provided %s exceeds offered %s: %w", res.Provided[i], req.Amounts[i], err)
			}
		}

		if err := updateTicks(ctx, tx, pool.ID, r.Lower, r.Upper, liquidity, true); err != nil {
			return nil, err
		}

		if existing != nil {
			rewards, p, err := e.positions.Claim(ctx, tx, *existing)
			if err != nil {
				return nil, err
			}
			res.Rewards = rewards
			if res.Position, err = e.positions.UpdateLiquidity(ctx, tx, p, liquidity, true); err != nil {
				return nil, err
			}
		} else {
			if res.Position, err = e.positions.Mint(ctx, tx, pool.ID, req.Sender, liquidity, r.Lower, r.Upper); err != nil {
				return nil, err
			}
		}

		return []journal.Event{{
			Kind:       journal.KindProvide,
			Pool:       pool.ID,
			Sender:     req.Sender,
			PositionID: res.Position.ID,
			Attributes: map[string]string{
				"liquidity":        liquidity.String(),
				"provided0":        amount0.String(),
				"provided1":        amount1.String(),
				"refund0":          res.Refund[0].String(),
				"refund1":          res.Refund[1].String(),
				"reward0":          res.Rewards[0].String(),
				"reward1":          res.Rewards[1].String(),
				"lower_tick_index": fmt.Sprint(r.Lower),
				"upper_tick_index": fmt.Sprint(r.Upper),
			},
		}}, nil
	})
	if err != nil {
		return ProvideResult{}, err
	}
	return res, nil
}

// WithdrawRequest removes liquidity from a position. A nil Liquidity
// withdraws all of it.
type WithdrawRequest struct {
	Sender     common.Address
	PositionID uint64
	Liquidity  *uint128.Uint128
}

type WithdrawResult struct {
	Position  clpool.Position
	Liquidity uint128.Uint128
	Amounts   [2]uint128.Uint128
	Rewards   position.Rewards
	// Burned is set when the position was closed.
	Burned bool
}

// Withdraw removes liquidity from a position, settles its fees and burns it
// when nothing is left.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (WithdrawResult, error) {
	var res WithdrawResult
	err := e.mutate(ctx, "withdraw", func(tx *store.Overlay) ([]journal.Event, error) {
		p, err := e.positions.GetOwned(ctx, tx, req.Sender, req.PositionID)
		if err != nil {
			return nil, err
		}
		pool, err := tx.Pool(ctx, p.PoolID)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.PoolID, err)
		}

		liquidity := p.Liquidity
		if req.Liquidity != nil {
			liquidity = *req.Liquidity
		}
		if liquidity.IsZero() {
			return nil, ErrZeroLiquidity
		}
		if liquidity.Cmp(p.Liquidity) > 0 {
			return nil, fmt.Errorf("position %d holds %s: %w", p.ID, p.Liquidity, liquiditymath.ErrLiquidityUnderflow)
		}

		amount0, amount1, err := liquiditymath.AmountsFromLiquidity(p.Upper, p.Lower, pool.Key.TickSpacing, pool.SqrtPrice, liquidity)
		if err != nil {
			return nil, err
		}
		if err := updateTicks(ctx, tx, pool.ID, p.Lower, p.Upper, liquidity, false); err != nil {
			return nil, err
		}

		rewards, p, err := e.positions.Claim(ctx, tx, p)
		if err != nil {
			return nil, err
		}
		if liquidity.Equals(p.Liquidity) {
			if err := e.positions.Burn(ctx, tx, p.ID); err != nil {
				return nil, err
			}
			p.Liquidity = uint128.Zero
			res.Burned = true
		} else if p, err = e.positions.UpdateLiquidity(ctx, tx, p, liquidity, false); err != nil {
			return nil, err
		}

		res.Position = p
		res.Liquidity = liquidity
		res.Amounts = [2]uint128.Uint128{amount0, amount1}
		res.Rewards = rewards
		return []journal.Event{{
			Kind:       journal.KindWithdraw,
			Pool:       pool.ID,
			Sender:     req.Sender,
			PositionID: p.ID,
			Attributes: map[string]string{
				"liquidity": liquidity.String(),
				"amount0":   amount0.String(),
				"amount1":   amount1.String(),
				"reward0":   rewards[0].String(),
				"reward1":   rewards[1].String(),
				"burned":    fmt.Sprint(res.Burned),
			},
		}}, nil
	})
	if err != nil {
		return WithdrawResult{}, err
	}
	return res, nil
}

// SwapRequest trades Amount of OfferAsset for the other asset of Pool. The
// slippage guard applies when both BeliefPrice and MaxSlippage are set.
type SwapRequest struct {
	Pool        clpool.PoolID
	Sender      common.Address
	Receiver    common.Address
	OfferAsset  common.Address
	Amount      uint128.Uint128
	BeliefPrice *decimalmath.Decimal
	MaxSlippage *decimalmath.Decimal
}

type SwapResult struct {
	calculator.SwapResult
	ReturnAsset common.Address
	Receiver    common.Address
}

// Swap executes a trade. Price, tick, fee growth and volume change only if
// the whole trade succeeds.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	var res SwapResult
	err := e.mutate(ctx, "swap", func(tx *store.Overlay) ([]journal.Event, error) {
		pool, err := tx.Pool(ctx, req.Pool)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", req.Pool, err)
		}
		offer, ok := pool.Key.TokenOf(req.OfferAsset)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAssetMismatch, req.OfferAsset)
		}

		timer := prometheus.NewTimer(e.metrics.swapDuration.WithLabelValues())
		walked, err := calculator.Swap(ctx, tx, pool, offer, req.Amount, e.maxSteps)
		timer.ObserveDuration()
		if err != nil {
			return nil, err
		}
		if err := calculator.CheckSlippage(walked.NetReturn, req.Amount, req.BeliefPrice, req.MaxSlippage); err != nil {
			return nil, err
		}

		other := offer.Other()
		pool.Volume[offer] = pool.Volume[offer].AddWrap(req.Amount)
		pool.Volume[other] = pool.Volume[other].AddWrap(walked.ReturnAmount)
		pool.SqrtPrice = walked.SqrtPrice
		pool.TickIndex = walked.TickIndex
		if err := tx.SavePool(ctx, pool); err != nil {
			return nil, err
		}

		res = SwapResult{SwapResult: walked, ReturnAsset: pool.Key.Asset(other), Receiver: req.Receiver}
		if res.Receiver == (common.Address{}) {
			res.Receiver = req.Sender
		}
		return []journal.Event{{
			Kind:   journal.KindSwap,
			Pool:   pool.ID,
			Sender: req.Sender,
			Attributes: map[string]string{
				"receiver":          res.Receiver.Hex(),
				"offer_asset":       req.OfferAsset.Hex(),
				"return_asset":      res.ReturnAsset.Hex(),
				"offer_amount":      req.Amount.String(),
				"return_amount":     walked.NetReturn.String(),
				"commission_amount": walked.Commission.String(),
			},
		}}, nil
	})
	if err != nil {
		return SwapResult{}, err
	}
	e.metrics.ticksCrossed.Observe(float64(len(res.Steps)))
	e.metrics.tickIndex.WithLabelValues(req.Pool.Hex()).Set(float64(res.TickIndex))
	return res, nil
}

// ClaimReward pays out the fees a position has earned since its last claim.
func (e *Engine) ClaimReward(ctx context.Context, sender common.Address, positionID uint64) (position.Rewards, error) {
	var rewards position.Rewards
	err := e.mutate(ctx, "claim", func(tx *store.Overlay) ([]journal.Event, error) {
		p, err := e.positions.GetOwned(ctx, tx, sender, positionID)
		if err != nil {
			return nil, err
		}
		if rewards, _, err = e.positions.Claim(ctx, tx, p); err != nil {
			return nil, err
		}
		return []journal.Event{{
			Kind:       journal.KindClaim,
			Pool:       p.PoolID,
			Sender:     sender,
			PositionID: p.ID,
			Attributes: map[string]string{
				"owner":   p.Owner.Hex(),
				"reward0": rewards[0].String(),
				"reward1": rewards[1].String(),
			},
		}}, nil
	})
	if err != nil {
		return position.Rewards{}, err
	}
	return rewards, nil
}

// Transfer hands a position to recipient. Uncollected fees move with it.
func (e *Engine) Transfer(ctx context.Context, sender common.Address, positionID uint64, recipient common.Address) (clpool.Position, error) {
	var moved clpool.Position
	err := e.mutate(ctx, "transfer", func(tx *store.Overlay) ([]journal.Event, error) {
		var err error
		if moved, err = e.positions.Transfer(ctx, tx, sender, positionID, recipient); err != nil {
			return nil, err
		}
		return []journal.Event{{
			Kind:       journal.KindTransfer,
			Pool:       moved.PoolID,
			Sender:     sender,
			PositionID: moved.ID,
			Attributes: map[string]string{"recipient": recipient.Hex()},
		}}, nil
	})
	if err != nil {
		return clpool.Position{}, err
	}
	return moved, nil
}
