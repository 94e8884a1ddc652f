package fullmath

import (
	"errors"

	"github.com/holiman/uint256"
	"lukechampine.com/uint128"
)

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnderflow      = errors.New("arithmetic underflow")
	ErrDivisionByZero = errors.New("division by zero")

	// Q128 is 1.0 in Q128.128 fixed point.
	Q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	// MaxUint256 is 2^256 - 1.
	MaxUint256 = new(uint256.Int).SetAllOne()
)

// Add returns a + b.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns a - b.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// Mul returns a * b.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Lsh returns a << n and fails if any set bit would be shifted out.
func Lsh(a *uint256.Int, n uint) (*uint256.Int, error) {
	if a.IsZero() {
		return new(uint256.Int), nil
	}
	if uint(a.BitLen())+n > 256 {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Lsh(a, n), nil
}

// MulShr returns (a * b) >> n computed over a 512-bit product.
func MulShr(a, b *uint256.Int, n uint) (*uint256.Int, error) {
	if n > 255 {
		return nil, ErrOverflow
	}
	d := new(uint256.Int).Lsh(uint256.NewInt(1), n)
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Div returns a / b. With roundUp set the quotient is incremented when the
// remainder exceeds b/2, or equals b/2 for an even b.
func Div(a, b *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if b.IsZero() {
		return nil, ErrDivisionByZero
	}
	q, r := new(uint256.Int).DivMod(a, b, new(uint256.Int))
	if roundUp && shouldRoundUp(r, b) {
		return Add(q, uint256.NewInt(1))
	}
	return q, nil
}

// MulDiv returns a * b / c using a 512-bit intermediate product. The rounding
// rule is the one used by Div. The quotient must fit in 256 bits.
func MulDiv(a, b, c *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	q, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrOverflow
	}
	if !roundUp {
		return q, nil
	}
	r := new(uint256.Int).MulMod(a, b, c)
	if shouldRoundUp(r, c) {
		return Add(q, uint256.NewInt(1))
	}
	return q, nil
}

func shouldRoundUp(r, d *uint256.Int) bool {
	half := new(uint256.Int).Rsh(d, 1)
	even := d[0]&1 == 0
	if even {
		return !r.Lt(half)
	}
	return r.Gt(half)
}

// FromUint128 widens u to 256 bits.
func FromUint128(u uint128.Uint128) *uint256.Int {
	return &uint256.Int{u.Lo, u.Hi, 0, 0}
}

// ToUint128 narrows x to 128 bits.
func ToUint128(x *uint256.Int) (uint128.Uint128, error) {
	if x[2]|x[3] != 0 {
		return uint128.Zero, ErrOverflow
	}
	return uint128.New(x[0], x[1]), nil
}

// AddUint128 returns a + b.
func AddUint128(a, b uint128.Uint128) (uint128.Uint128, error) {
	sum := a.AddWrap(b)
	if sum.Cmp(a) < 0 {
		return uint128.Zero, ErrOverflow
	}
	return sum, nil
}

// SubUint128 returns a - b.
func SubUint128(a, b uint128.Uint128) (uint128.Uint128, error) {
	if a.Cmp(b) < 0 {
		return uint128.Zero, ErrUnderflow
	}
	return a.SubWrap(b), nil
}
