package pi

import (
	"errors"
	"fmt"

	"github.com/memes/pimachine/internal/modmath"
)

// An argument to a series function is out of range, e.g. an odd Leibniz
// truncation that does not cover whole (+, -) pairs.
var ErrInvalidArgument = errors.New("invalid series argument")

// DigitsOfFraction returns the fractional part of 10^digitCount * a/b.
func DigitsOfFraction(digitCount, a, b int64) (float64, error) {
	mod, err := modmath.NewModulus(b)
	if err != nil {
		return 0, fmt.Errorf("fraction %d/%d: %w", a, b, err)
	}
	c, err := mod.MulModChecked(mod.PowMod(10, digitCount), mod.Reduce(a))
	if err != nil {
		return 0, fmt.Errorf("fraction %d/%d: %w", a, b, err)
	}
	return float64(c) / float64(b), nil
}

// DigitsOfSeries returns the fractional part of 10^digitCount * S, where S is
// the Leibniz series 4 * sum_{k=0}^{m-1} (-1)^k/(2k+1) truncated at even m.
func DigitsOfSeries(digitCount, m int64) (float64, error) {
	if m%2 != 0 {
		return 0, fmt.Errorf("series truncation %d must be even: %w", m, ErrInvalidArgument)
	}
	var x float64
	for k := int64(0); k < m; k += 2 {
		plus, err := DigitsOfFraction(digitCount, 4, 2*k+1)
		if err != nil {
			return 0, err
		}
		minus, err := DigitsOfFraction(digitCount, 4, 2*k+3)
		if err != nil {
			return 0, err
		}
		x += plus - minus
		x -= modmath.EasyRound(x)
	}
	return x, nil
}
