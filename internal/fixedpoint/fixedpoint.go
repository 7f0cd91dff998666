// Package fixedpoint implements the overflow-checked integer arithmetic every
// pricing, liquidity and vault computation goes through.
//
// Amounts are unsigned 256-bit words, the same width as the on-chain VM the
// pool and vault contracts run on. Products are widened to 512 bits inside
// MulDiv and narrowed after the division, so a*b/d never overflows unless the
// final quotient itself does not fit. Nothing in this package uses floating
// point.
package fixedpoint

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result does not fit in 256 bits.
	ErrOverflow = errors.New("fixedpoint: overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("fixedpoint: underflow")

	// ErrDivisionByZero is returned when a divisor is zero.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")

	// ErrInvalidAmount is returned when a string is not a base-10 integer
	// in the uint256 range.
	ErrInvalidAmount = errors.New("fixedpoint: invalid amount")
)

const (
	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator uint64 = 10_000

	// PriceDecimals is the number of decimals oracle prices are scaled by.
	PriceDecimals = 8
)

// PriceScale is 10^PriceDecimals; a price of 1.0 is PriceScale.
var PriceScale = uint256.NewInt(100_000_000)

// Rounding selects how MulDiv resolves a non-zero remainder.
type Rounding int

const (
	// RoundDown truncates. This is what the pool and vault contracts do and
	// is the default for every contract-mirrored path.
	RoundDown Rounding = iota
	// RoundUp rounds any non-zero remainder away from zero.
	RoundUp
	// RoundNearest rounds half up.
	RoundNearest
)

func (r Rounding) String() string {
	switch r {
	case RoundDown:
		return "down"
	case RoundUp:
		return "up"
	case RoundNearest:
		return "nearest"
	default:
		return fmt.Sprintf("rounding(%d)", int(r))
	}
}

// MulDiv returns a*b/d rounded according to mode. The product is carried in
// 512 bits so only a quotient wider than 256 bits reports ErrOverflow.
func MulDiv(a, b, d *uint256.Int, mode Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}

	q, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a.Dec(), b.Dec(), d.Dec())
	}
	if mode == RoundDown {
		return q, nil
	}

	rem := new(uint256.Int).MulMod(a, b, d)
	if rem.IsZero() {
		return q, nil
	}

	roundUp := mode == RoundUp
	if mode == RoundNearest {
		// rem >= d - rem is 2*rem >= d without the doubling overflowing.
		roundUp = !rem.Lt(new(uint256.Int).Sub(d, rem))
	}
	if !roundUp {
		return q, nil
	}

	if _, overflow := q.AddOverflow(q, uint256.NewInt(1)); overflow {
		return nil, fmt.Errorf("%w: rounding %s * %s / %s up", ErrOverflow, a.Dec(), b.Dec(), d.Dec())
	}
	return q, nil
}

// Sqrt returns the largest r such that r*r <= x, computed with integer
// Newton iteration.
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// Add returns a+b or ErrOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Sub returns a-b or ErrUnderflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, fmt.Errorf("%w: %s - %s", ErrUnderflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Mul returns a*b or ErrOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s", ErrOverflow, a.Dec(), b.Dec())
	}
	return z, nil
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Zero returns a fresh zero word.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// OrZero returns x, or a fresh zero when x is nil. Snapshots decoded from
// JSON or SQL leave absent amounts nil.
func OrZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return z, nil
}

// MustAmount is ParseAmount for constants and fixtures; it panics on error.
func MustAmount(s string) *uint256.Int {
	z, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return z
}

// ToDecimal converts an integer amount with the given number of decimals
// into a decimal for display.
func ToDecimal(x *uint256.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(OrZero(x).ToBig(), -decimals)
}

// PriceToDecimal converts a PriceScale-scaled price for display.
func PriceToDecimal(price *uint256.Int) decimal.Decimal {
	return ToDecimal(price, PriceDecimals)
}

// PriceFromDecimal converts a display price into a PriceScale-scaled word,
// truncating digits beyond PriceDecimals.
func PriceFromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative price %s", ErrInvalidAmount, d)
	}
	z, overflow := uint256.FromBig(d.Shift(PriceDecimals).Truncate(0).BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: price %s", ErrOverflow, d)
	}
	return z, nil
}
