// Package modmath implements exact 64-bit modular arithmetic relative to an
// explicit Modulus value. Products are reduced with the classical trick of
// estimating the quotient through a double-precision reciprocal of the modulus,
// which avoids 128-bit intermediates.
package modmath

import (
	"errors"
	"fmt"
)

const (
	// The largest modulus accepted by NewModulus. Operands reduced into [0, m)
	// keep a*b/m below 2^52, the precision of a float64 mantissa, so the
	// estimated quotient is never off by more than a couple of units.
	MaxModulus = int64(1) << 52

	// 2^53; adding and subtracting it discards every fractional bit.
	fullDouble = float64(int64(1) << 53)
)

var (
	// The modulus is not a positive odd integer.
	ErrInvalidModulus = errors.New("modulus must be a positive odd integer")
	// The operands would lose precision in the float64 quotient estimate.
	ErrPrecisionOverflow = errors.New("modular product exceeds double precision bound")
	// The value shares a factor with the modulus and has no inverse.
	ErrNotInvertible = errors.New("value is not invertible modulo m")
)

// Modulus carries an odd modulus m and its reciprocal. The reciprocal is set
// once at construction and can never go stale.
type Modulus struct {
	m   int64
	inv float64
}

// NewModulus validates m and returns a Modulus ready for use.
func NewModulus(m int64) (Modulus, error) {
	if m <= 0 || m%2 == 0 {
		return Modulus{}, fmt.Errorf("invalid modulus %d: %w", m, ErrInvalidModulus)
	}
	if m > MaxModulus {
		return Modulus{}, fmt.Errorf("modulus %d is larger than %d: %w", m, MaxModulus, ErrPrecisionOverflow)
	}
	return Modulus{
		m:   m,
		inv: 1.0 / float64(m),
	}, nil
}

// Value returns the integer modulus.
func (mod Modulus) Value() int64 {
	return mod.m
}

// Reduce returns a mod m in [0, m), for any sign of a.
func (mod Modulus) Reduce(a int64) int64 {
	a %= mod.m
	if a < 0 {
		a += mod.m
	}
	return a
}

// Brings the result of a quotient-estimate reduction into [0, m). The estimate
// is at most a few units away from the true quotient, so this loops at most a
// couple of times.
func (mod Modulus) normalize(r int64) int64 {
	for r < 0 {
		r += mod.m
	}
	for r >= mod.m {
		r -= mod.m
	}
	return r
}

// MulMod returns a*b mod m.
//
// The quotient is estimated as inv*a*b in float64 and the remainder is computed
// exactly as a*b - q*m with wrapping int64 arithmetic; the true remainder is
// small, so the wrapped intermediates cancel. This is exact when a, b >= 0 and
// a*b/m < 2^52, which always holds for operands in [0, m). Use MulModChecked
// when the operands are not known to be reduced.
func (mod Modulus) MulMod(a, b int64) int64 {
	q := int64(mod.inv * float64(a) * float64(b))
	return mod.normalize(a*b - q*mod.m)
}

// MulModChecked is MulMod with the precision precondition verified; it returns
// ErrPrecisionOverflow rather than a plausible but wrong remainder.
func (mod Modulus) MulModChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("operands %d, %d must be non-negative: %w", a, b, ErrPrecisionOverflow)
	}
	if mod.inv*float64(a)*float64(b) >= float64(MaxModulus) {
		return 0, fmt.Errorf("%d*%d/%d: %w", a, b, mod.m, ErrPrecisionOverflow)
	}
	return mod.MulMod(a, b), nil
}

// SumMulMod returns (a*b + c*d) mod m using a single quotient estimate for the
// combined product.
func (mod Modulus) SumMulMod(a, b, c, d int64) int64 {
	q := int64(mod.inv * (float64(a)*float64(b) + float64(c)*float64(d)))
	return mod.normalize(a*b + c*d - q*mod.m)
}

// ExtendedGcd returns g = gcd(a, m) and A such that a*A = g mod m. A is not
// normalized and may be negative.
func (mod Modulus) ExtendedGcd(a int64) (g int64, A int64) {
	var a0, a1 int64 = 1, 0
	r0, r1 := a, mod.m
	for r1 > 0 {
		q := r0 / r1
		a0, a1 = a1, a0-q*a1
		r0, r1 = r1, r0-q*r1
	}
	return r0, a0
}

// InvMod returns the inverse of a modulo m in [0, m).
func (mod Modulus) InvMod(a int64) (int64, error) {
	g, A := mod.ExtendedGcd(mod.Reduce(a))
	if g != 1 {
		return 0, fmt.Errorf("gcd(%d, %d) = %d: %w", a, mod.m, g, ErrNotInvertible)
	}
	return mod.Reduce(A), nil
}

// PowMod returns a^b mod m by binary exponentiation. A negative exponent is a
// programming error and panics.
func (mod Modulus) PowMod(a, b int64) int64 {
	if b < 0 {
		panic(fmt.Sprintf("modmath: negative exponent %d", b))
	}
	r := mod.Reduce(1)
	aa := mod.Reduce(a)
	for b > 0 {
		if b&1 == 1 {
			r = mod.MulMod(r, aa)
		}
		b >>= 1
		if b == 0 {
			break
		}
		aa = mod.MulMod(aa, aa)
	}
	return r
}

// EasyRound snaps x to a nearby integer by adding and removing 2^53, which
// drops every fractional bit of the sum. Doubles at or above 2^53 are spaced two
// apart, so positive values land on an even integer; either way
// |x - EasyRound(x)| <= 1, which is all the series accumulators need. Valid for
// |x| < 2^52.
func EasyRound(x float64) float64 {
	// The explicit conversions force each step to be rounded to float64.
	y := float64(x + fullDouble)
	return float64(y - fullDouble)
}
