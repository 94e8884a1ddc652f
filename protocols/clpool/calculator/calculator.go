package calculator

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/decimalmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/swapmath"
	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

// DefaultMaxSteps bounds the number of ticks one swap may visit.
const DefaultMaxSteps = 1024

var (
	ErrCannotSwap         = errors.New("cannot swap: tick missing or without liquidity")
	ErrMaxStepsExceeded   = errors.New("swap exceeded the maximum number of tick steps")
	ErrSlippageExceeded   = errors.New("return amount is below the slippage bound")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidBeliefPrice = errors.New("belief price must be greater than zero")
)

// TickReader loads ticks of a pool. A missing tick reports ok == false.
type TickReader interface {
	Tick(ctx context.Context, pool clpool.PoolID, index int32) (tick clpool.TickInfo, ok bool, err error)
}

// TickStore is a TickReader that can also persist ticks.
type TickStore interface {
	TickReader
	SaveTick(ctx context.Context, pool clpool.PoolID, tick clpool.TickInfo) error
}

// Step records one tick visited by a walk.
type Step struct {
	TickIndex int32
	Liquidity uint128.Uint128
	swapmath.StepResult
}

// SwapResult is the outcome of a forward walk.
type SwapResult struct {
	Offer clpool.Token
	// AmountIn is the full offer, equal to the sum of AmountIn over Steps.
	AmountIn uint128.Uint128
	// ReturnAmount is the gross return before commission.
	ReturnAmount uint128.Uint128
	Commission   uint128.Uint128
	// NetReturn is ReturnAmount minus Commission.
	NetReturn uint128.Uint128
	SqrtPrice *uint256.Int
	TickIndex int32
	Steps     []Step
}

// ReverseResult is the outcome of a reverse walk.
type ReverseResult struct {
	Return      clpool.Token
	OfferAmount uint128.Uint128
	Commission  uint128.Uint128
	Steps       []Step
}

// walkState is the state carried between the steps of a walk.
type walkState struct {
	remain     uint128.Uint128
	tickIndex  int32
	sqrtPrice  *uint256.Int
	total      uint128.Uint128
	commission uint128.Uint128
	steps      []Step
}

type stepFunc func(tickIndex int32, spacing uint16, price *uint256.Int, liquidity uint128.Uint128, token clpool.Token, amount uint128.Uint128, feeRate decimalmath.Decimal) (swapmath.StepResult, error)

// walk runs step over consecutive ticks until advance reports nothing remains.
// visit is called for every step with the tick it ran against.
func walk(
	ctx context.Context,
	ticks TickReader,
	pool clpool.PoolState,
	token clpool.Token,
	amount uint128.Uint128,
	maxSteps int,
	step stepFunc,
	advance func(s *walkState, res swapmath.StepResult) error,
	visit func(tick clpool.TickInfo, res swapmath.StepResult) error,
) (*walkState, error) {
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	s := &walkState{
		remain:    amount,
		tickIndex: pool.TickIndex,
		sqrtPrice: new(uint256.Int).Set(pool.SqrtPrice),
	}
	for !s.remain.IsZero() {
		if len(s.steps) >= maxSteps {
			return nil, fmt.Errorf("%w: %d", ErrMaxStepsExceeded, maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tick, ok, err := ticks.Tick(ctx, pool.ID, s.tickIndex)
		if err != nil {
			return nil, fmt.Errorf("load tick %d: %w", s.tickIndex, err)
		}
		if !ok || tick.TotalLiquidity.IsZero() {
			return nil, fmt.Errorf("%w: tick index %d", ErrCannotSwap, s.tickIndex)
		}

		res, err := step(s.tickIndex, pool.Key.TickSpacing, s.sqrtPrice, tick.TotalLiquidity, token, s.remain, pool.Key.FeeRate)
		if errors.Is(err, swapmath.ErrOutOfTick) {
			return nil, fmt.Errorf("%w: tick index %d: %v", ErrCannotSwap, s.tickIndex, err)
		}
		if err != nil {
			return nil, err
		}

		if visit != nil {
			if err := visit(tick, res); err != nil {
				return nil, err
			}
		}
		if err := advance(s, res); err != nil {
			return nil, err
		}
		if s.commission, err = fullmath.AddUint128(s.commission, res.Fee); err != nil {
			return nil, err
		}
		s.steps = append(s.steps, Step{TickIndex: s.tickIndex, Liquidity: tick.TotalLiquidity, StepResult: res})
		s.tickIndex = res.TickIndexNext
		s.sqrtPrice = res.SqrtPriceNext
	}
	return s, nil
}

func forward(ctx context.Context, ticks TickReader, pool clpool.PoolState, offer clpool.Token, amount uint128.Uint128, maxSteps int, visit func(clpool.TickInfo, swapmath.StepResult) error) (SwapResult, error) {
	s, err := walk(ctx, ticks, pool, offer, amount, maxSteps, swapmath.ComputeSwapTick,
		func(s *walkState, res swapmath.StepResult) error {
			var err error
			if s.remain, err = fullmath.SubUint128(s.remain, res.AmountIn); err != nil {
				return err
			}
			s.total, err = fullmath.AddUint128(s.total, res.AmountOut)
			return err
		}, visit)
	if err != nil {
		return SwapResult{}, err
	}

	net, err := fullmath.SubUint128(s.total, s.commission)
	if err != nil {
		return SwapResult{}, err
	}
	return SwapResult{
		Offer:        offer,
		AmountIn:     amount,
		ReturnAmount: s.total,
		Commission:   s.commission,
		NetReturn:    net,
		SqrtPrice:    s.sqrtPrice,
		TickIndex:    s.tickIndex,
		Steps:        s.steps,
	}, nil
}

// Swap walks pool ticks trading amount of offer. Every step credits its
// commission to the fee growth of the returned token on the tick it ran
// against, written back through ticks. Callers persist the resulting price
// and tick index; on error they must discard everything written.
func Swap(ctx context.Context, ticks TickStore, pool clpool.PoolState, offer clpool.Token, amount uint128.Uint128, maxSteps int) (SwapResult, error) {
	return forward(ctx, ticks, pool, offer, amount, maxSteps, func(tick clpool.TickInfo, res swapmath.StepResult) error {
		if res.Fee.IsZero() {
			return nil
		}
		growth, err := decimalmath.FromRatio(res.Fee, tick.TotalLiquidity)
		if err != nil {
			return err
		}
		if err := tick.AddFeeGrowth(offer.Other(), growth); err != nil {
			return err
		}
		return ticks.SaveTick(ctx, pool.ID, tick)
	})
}

// SimulateSwap is Swap without any writes.
func SimulateSwap(ctx context.Context, ticks TickReader, pool clpool.PoolState, offer clpool.Token, amount uint128.Uint128, maxSteps int) (SwapResult, error) {
	return forward(ctx, ticks, pool, offer, amount, maxSteps, nil)
}

// ReverseSwap quotes the offer needed to receive amount of returnToken net
// of commission. It never writes.
func ReverseSwap(ctx context.Context, ticks TickReader, pool clpool.PoolState, returnToken clpool.Token, amount uint128.Uint128, maxSteps int) (ReverseResult, error) {
	s, err := walk(ctx, ticks, pool, returnToken, amount, maxSteps, swapmath.ComputeSwapTickReverse,
		func(s *walkState, res swapmath.StepResult) error {
			// remain = remain + commission - gross
			withFee, err := fullmath.AddUint128(s.remain, res.Fee)
			if err != nil {
				return err
			}
			if s.remain, err = fullmath.SubUint128(withFee, res.AmountOut); err != nil {
				return err
			}
			s.total, err = fullmath.AddUint128(s.total, res.AmountIn)
			return err
		}, nil)
	if err != nil {
		return ReverseResult{}, err
	}
	return ReverseResult{
		Return:      returnToken,
		OfferAmount: s.total,
		Commission:  s.commission,
		Steps:       s.steps,
	}, nil
}

// MinReturn is floor(floor(offer / beliefPrice) * (1 - maxSlippage)).
func MinReturn(offer uint128.Uint128, beliefPrice, maxSlippage decimalmath.Decimal) (uint128.Uint128, error) {
	if beliefPrice.IsZero() {
		return uint128.Zero, ErrInvalidBeliefPrice
	}
	expected, err := fullmath.MulDiv(fullmath.FromUint128(offer), uint256.NewInt(1_000_000_000_000_000_000), fullmath.FromUint128(beliefPrice.Atomics()), false)
	if err != nil {
		return uint128.Zero, err
	}
	exp128, err := fullmath.ToUint128(expected)
	if err != nil {
		return uint128.Zero, err
	}
	keep, err := maxSlippage.OneMinus()
	if err != nil {
		return uint128.Zero, err
	}
	return keep.MulUint(exp128)
}

// CheckSlippage fails with ErrSlippageExceeded when net is below the bound
// implied by beliefPrice and maxSlippage. The guard applies only when both
// are set.
func CheckSlippage(net, offer uint128.Uint128, beliefPrice, maxSlippage *decimalmath.Decimal) error {
	if beliefPrice == nil || maxSlippage == nil {
		return nil
	}
	min, err := MinReturn(offer, *beliefPrice, *maxSlippage)
	if err != nil {
		return err
	}
	if min.Cmp(net) > 0 {
		return fmt.Errorf("%w: minimum %s, return %s", ErrSlippageExceeded, min, net)
	}
	return nil
}
