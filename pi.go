// Package pi extracts decimal digits of pi at an arbitrary position without
// computing the digits that precede it.
package pi

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
)

// The maximum number of decimal digits returned from a single extraction.
const BlockSize = 9

// Defines the signature of a function that will return the next largest prime
// number that is greater than the supplied value.
type FindNextPrimeFunc func(int64) int64

var (
	// Logger to use in this package; default is a no-op logger.
	logger = logr.Discard()
	// The next prime function used by the spigot; default is the big.Int
	// probabilistic test.
	findNextPrime FindNextPrimeFunc = BigFindNextPrime

	// Positions are 1-based; position 0 does not exist.
	ErrInvalidPosition = errors.New("position must be >= 1")
	// The position is too large for the moduli to stay within double precision.
	ErrPositionTooLarge = errors.New("position is too large to extract")
	// The requested digit count is outside [1, BlockSize].
	ErrInvalidCount = fmt.Errorf("digit count must be between 1 and %d", BlockSize)
)

// Change the logger instance used by this package.
func SetLogger(l logr.Logger) {
	logger = l
}

// Change the next prime calculation function used by this package.
func SetFindNextPrimeFunction(f FindNextPrimeFunc) {
	if f != nil {
		findNextPrime = f
	}
}

// The bound on the absolute error of an extracted fraction.
const fractionTolerance = 1e-12

// Returns the leading count decimal digits of the fraction x. When x lies
// within fractionTolerance of a multiple of 10^-count the truncated digits are
// ambiguous, e.g. 0.70721134999999 computed as 0.70721135000000; the fraction
// that follows the digits, returned by next, is then near 0 or near 1 and
// decides between the two candidates.
func formatDigits(x float64, count int, next func() (float64, error)) (string, error) {
	scale := math.Pow10(count)
	y := x * scale
	digits := math.Floor(y)
	if r := math.Round(y); math.Abs(y-r) < fractionTolerance*scale {
		following, err := next()
		if err != nil {
			return "", err
		}
		digits = r
		if following >= 0.5 {
			digits--
		}
	}
	digits = math.Max(0, math.Min(digits, scale-1))
	return fmt.Sprintf("%0*d", count, int64(digits)), nil
}

// Digits returns count decimal digits of pi starting at the 1-based position n,
// e.g. Digits(1, 5) -> "14159".
func Digits(n uint64, count int) (string, error) {
	if count < 1 || count > BlockSize {
		return "", fmt.Errorf("count %d: %w", count, ErrInvalidCount)
	}
	x, err := DigitsOfPi(n)
	if err != nil {
		return "", err
	}
	return formatDigits(x, count, func() (float64, error) {
		return DigitsOfPi(n + uint64(count))
	})
}

// Digit returns the single decimal digit of pi at the 1-based position n.
func Digit(n uint64) (uint32, error) {
	digits, err := Digits(n, 1)
	if err != nil {
		return 0, err
	}
	return uint32(digits[0] - '0'), nil
}

// DigitsContext is Digits with the extraction spread across at most workers
// goroutines; see DigitsOfPiContext.
func DigitsContext(ctx context.Context, n uint64, count, workers int) (string, error) {
	if count < 1 || count > BlockSize {
		return "", fmt.Errorf("count %d: %w", count, ErrInvalidCount)
	}
	x, err := DigitsOfPiContext(ctx, n, workers)
	if err != nil {
		return "", err
	}
	return formatDigits(x, count, func() (float64, error) {
		return DigitsOfPiContext(ctx, n+uint64(count), workers)
	})
}
