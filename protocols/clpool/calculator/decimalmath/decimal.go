package decimalmath

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator/fullmath"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"lukechampine.com/uint128"
)

// Places is the number of fractional digits carried by a Decimal.
const Places = 18

var (
	ErrInvalidDecimal = errors.New("invalid decimal")

	// fractional is 10^18, the atomics value of 1.0.
	fractional = uint128.From64(1_000_000_000_000_000_000)
	// fractionalSquared is 10^36.
	fractionalSquared = new(uint256.Int).Mul(uint256.NewInt(1_000_000_000_000_000_000), uint256.NewInt(1_000_000_000_000_000_000))
)

// Decimal is an unsigned fixed-point number with 18 fractional digits,
// stored as 128-bit atomics. The zero value is 0.
type Decimal struct {
	atomics uint128.Uint128
}

func Zero() Decimal {
	return Decimal{}
}

func One() Decimal {
	return Decimal{atomics: fractional}
}

// NewFromAtomics returns the Decimal whose raw 10^-18 units are atomics.
func NewFromAtomics(atomics uint128.Uint128) Decimal {
	return Decimal{atomics: atomics}
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Parse reads a non-negative decimal string with at most 18 fractional digits.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %v", ErrInvalidDecimal, err)
	}
	if d.IsNegative() {
		return Decimal{}, fmt.Errorf("%w: %q is negative", ErrInvalidDecimal, s)
	}
	scaled := d.Shift(Places)
	if !scaled.IsInteger() {
		return Decimal{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidDecimal, s, Places)
	}
	atomics := scaled.BigInt()
	if atomics.BitLen() > 128 {
		return Decimal{}, fmt.Errorf("%w: %q", fullmath.ErrOverflow, s)
	}
	return Decimal{atomics: uint128.FromBig(atomics)}, nil
}

// FromRatio returns floor(num / den) as a Decimal.
func FromRatio(num, den uint128.Uint128) (Decimal, error) {
	if den.IsZero() {
		return Decimal{}, fullmath.ErrDivisionByZero
	}
	q, err := fullmath.MulDiv(fullmath.FromUint128(num), fullmath.FromUint128(fractional), fullmath.FromUint128(den), false)
	if err != nil {
		return Decimal{}, err
	}
	atomics, err := fullmath.ToUint128(q)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: atomics}, nil
}

func (d Decimal) Atomics() uint128.Uint128 {
	return d.atomics
}

func (d Decimal) IsZero() bool {
	return d.atomics.IsZero()
}

func (d Decimal) Cmp(o Decimal) int {
	return d.atomics.Cmp(o.atomics)
}

func (d Decimal) Equal(o Decimal) bool {
	return d.atomics.Equals(o.atomics)
}

func (d Decimal) Add(o Decimal) (Decimal, error) {
	sum, err := fullmath.AddUint128(d.atomics, o.atomics)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: sum}, nil
}

func (d Decimal) Sub(o Decimal) (Decimal, error) {
	diff, err := fullmath.SubUint128(d.atomics, o.atomics)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: diff}, nil
}

// OneMinus returns 1 - d.
func (d Decimal) OneMinus() (Decimal, error) {
	return One().Sub(d)
}

// MulUint returns floor(x * d).
func (d Decimal) MulUint(x uint128.Uint128) (uint128.Uint128, error) {
	q, err := fullmath.MulDiv(fullmath.FromUint128(x), fullmath.FromUint128(d.atomics), fullmath.FromUint128(fractional), false)
	if err != nil {
		return uint128.Zero, err
	}
	return fullmath.ToUint128(q)
}

// Inv returns floor(1 / d).
func (d Decimal) Inv() (Decimal, error) {
	if d.IsZero() {
		return Decimal{}, fullmath.ErrDivisionByZero
	}
	q, err := fullmath.Div(fractionalSquared, fullmath.FromUint128(d.atomics), false)
	if err != nil {
		return Decimal{}, err
	}
	atomics, err := fullmath.ToUint128(q)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{atomics: atomics}, nil
}

// Decimal returns d as a shopspring decimal.
func (d Decimal) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(d.atomics.Big(), -Places)
}

func (d Decimal) String() string {
	return d.Decimal().String()
}

func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores d as its decimal string.
func (d Decimal) Value() (driver.Value, error) {
	return d.String(), nil
}

// Scan reads a decimal string column.
func (d *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidDecimal, src)
	}
}
