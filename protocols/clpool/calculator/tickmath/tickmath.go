package tickmath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick a pool price may occupy.
	MinTick int32 = -887272
	// MaxTick is the highest tick a pool price may occupy.
	MaxTick int32 = 887271

	// tickLimit bounds |tick| for SqrtPriceAtTick; the multiplier table covers bits 0..19.
	tickLimit = 1 << 20
)

var (
	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
	ErrInvalidTickSpacing   = errors.New("tick spacing must be positive")

	maxUint256 = new(uint256.Int).SetAllOne()

	// oddSeed is sqrt(1.0001^-1) in Q128.128, used when the lowest bit of |tick| is set.
	oddSeed = uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001")
	// evenSeed is 1.0 in Q128.128.
	evenSeed = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	// multipliers[i] is sqrt(1.0001^-(2^(i+1))) in Q128.128.
	multipliers = [19]*uint256.Int{
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}

	// MinSqrtPrice is the sqrt price of MinTick.
	MinSqrtPrice = mustSqrtPriceAtTick(MinTick)
	// MaxSqrtPrice is the sqrt price of MaxTick+1, the exclusive upper bound of pool prices.
	MaxSqrtPrice = mustSqrtPriceAtTick(MaxTick + 1)
)

// SqrtPriceAtTick returns sqrt(1.0001^tick) in Q128.128. Ticks just beyond
// [MinTick, MaxTick] are accepted so range edges can be priced.
func SqrtPriceAtTick(tick int32) (*uint256.Int, error) {
	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}
	if absTick >= tickLimit {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfBounds, tick)
	}

	ratio := new(uint256.Int)
	if absTick&0x1 != 0 {
		ratio.Set(oddSeed)
	} else {
		ratio.Set(evenSeed)
	}

	// ratio <= 2^128 and every multiplier < 2^128, so the product fits in 256 bits.
	for i, m := range multipliers {
		if absTick&(int64(2)<<i) != 0 {
			ratio.Mul(ratio, m).Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}
	return ratio, nil
}

// TickAtSqrtPrice returns the tick whose price bucket contains sqrtPrice.
// It runs a fixed 20-step search from tick 0 and corrects by one on the last step.
func TickAtSqrtPrice(sqrtPrice *uint256.Int) (int32, error) {
	if sqrtPrice.Lt(MinSqrtPrice) || !sqrtPrice.Lt(MaxSqrtPrice) {
		return 0, ErrSqrtPriceOutOfBounds
	}

	var tick int32
	for i := 0; i < 20; i++ {
		step := int32(1) << (19 - i)
		if tick < MinTick {
			tick += step
			continue
		}
		if tick > MaxTick {
			tick -= step
			continue
		}

		tickPrice, err := SqrtPriceAtTick(tick)
		if err != nil {
			return 0, err
		}
		if sqrtPrice.Eq(tickPrice) {
			break
		}
		if sqrtPrice.Gt(tickPrice) {
			tick += step
		} else {
			tick -= step
		}

		if i == 19 {
			tickPrice, err = SqrtPriceAtTick(tick)
			if err != nil {
				return 0, err
			}
			if sqrtPrice.Lt(tickPrice) {
				tick--
			}
		}
	}
	return tick, nil
}

// TickToTickIndex returns floor(tick / spacing).
func TickToTickIndex(tick int32, spacing uint16) int32 {
	s := int32(spacing)
	idx := tick / s
	if tick < 0 && tick%s != 0 {
		idx--
	}
	return idx
}

// TickIndexToTick returns index * spacing.
func TickIndexToTick(index int32, spacing uint16) (int32, error) {
	tick := int64(index) * int64(spacing)
	if tick < -(1<<31) || tick > (1<<31)-1 {
		return 0, fmt.Errorf("%w: index %d spacing %d", ErrTickOutOfBounds, index, spacing)
	}
	return int32(tick), nil
}

// TickIndexBounds returns the lower and upper sqrt prices of the bucket at index.
func TickIndexBounds(index int32, spacing uint16) (low, high *uint256.Int, err error) {
	if spacing == 0 {
		return nil, nil, ErrInvalidTickSpacing
	}
	lowTick, err := TickIndexToTick(index, spacing)
	if err != nil {
		return nil, nil, err
	}
	highTick, err := TickIndexToTick(index+1, spacing)
	if err != nil {
		return nil, nil, err
	}
	if low, err = SqrtPriceAtTick(lowTick); err != nil {
		return nil, nil, err
	}
	if high, err = SqrtPriceAtTick(highTick); err != nil {
		return nil, nil, err
	}
	return low, high, nil
}

func mustSqrtPriceAtTick(tick int32) *uint256.Int {
	p, err := SqrtPriceAtTick(tick)
	if err != nil {
		panic(err)
	}
	return p
}
