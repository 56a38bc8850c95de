package pi_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	pi "github.com/memes/pimachine"
)

const (
	// Exhaustively verify every position up to this limit.
	TEST_POSITION_LIMIT = 120
	// Number of workers for the parallel extraction tests.
	TEST_WORKERS = 4
)

// Positions beyond the exhaustive range that are verified individually.
var samplePositions = []uint64{200, 441, 501, 754, 777, 1000, 1001}

func expectedBlock(n uint64) string {
	return PiDigits[n-1 : n-1+pi.BlockSize]
}

func TestDigits(t *testing.T) {
	t.Parallel()
	for n := uint64(1); n <= TEST_POSITION_LIMIT; n++ {
		expected := expectedBlock(n)
		actual, err := pi.Digits(n, pi.BlockSize)
		if err != nil {
			t.Errorf("Error calling Digits: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking position: %d: expected %s got %s", n, expected, actual)
		}
	}
}

func TestDigits_SamplePositions(t *testing.T) {
	t.Parallel()
	for _, n := range samplePositions {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			t.Parallel()
			expected := expectedBlock(n)
			actual, err := pi.Digits(n, pi.BlockSize)
			if err != nil {
				t.Errorf("Error calling Digits: %v", err)
			}
			if actual != expected {
				t.Errorf("Checking position: %d: expected %s got %s", n, expected, actual)
			}
		})
	}
}

func TestDigits_Count(t *testing.T) {
	t.Parallel()
	for count := 1; count <= pi.BlockSize; count++ {
		actual, err := pi.Digits(1, count)
		if err != nil {
			t.Errorf("Error calling Digits: %v", err)
		}
		if expected := PiDigits[:count]; actual != expected {
			t.Errorf("Checking count: %d: expected %s got %s", count, expected, actual)
		}
	}
	for _, count := range []int{-1, 0, pi.BlockSize + 1} {
		if _, err := pi.Digits(1, count); !errors.Is(err, pi.ErrInvalidCount) {
			t.Errorf("Checking count: %d: expected %v got %v", count, pi.ErrInvalidCount, err)
		}
	}
}

// The fraction extracted at position 754 is 0.70721135000000412 but the digits
// are 707211349999998...; the truncated block must not round up.
func TestDigits_NearIntegerBoundary(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const n = 754
	for count := 1; count <= pi.BlockSize; count++ {
		expected := PiDigits[n-1 : n-1+count]
		actual, err := pi.Digits(n, count)
		if err != nil {
			t.Errorf("Error calling Digits: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking count: %d: expected %s got %s", count, expected, actual)
		}
		actual, err = pi.DigitsContext(ctx, n, count, TEST_WORKERS)
		if err != nil {
			t.Errorf("Error calling DigitsContext: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking count: %d: expected %s got %s", count, expected, actual)
		}
	}
}

func TestDigit(t *testing.T) {
	t.Parallel()
	for n := uint64(1); n <= 20; n++ {
		expected := uint32(PiDigits[n-1] - '0')
		actual, err := pi.Digit(n)
		if err != nil {
			t.Errorf("Error calling Digit: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking position: %d: expected %d got %d", n, expected, actual)
		}
	}
}

func TestDigitsOfPi_InvalidPosition(t *testing.T) {
	t.Parallel()
	if _, err := pi.DigitsOfPi(0); !errors.Is(err, pi.ErrInvalidPosition) {
		t.Errorf("Expected %v got %v", pi.ErrInvalidPosition, err)
	}
	if _, err := pi.DigitsOfPi(1 << 62); !errors.Is(err, pi.ErrPositionTooLarge) {
		t.Errorf("Expected %v got %v", pi.ErrPositionTooLarge, err)
	}
}

func TestDigitsOfPi_Idempotent(t *testing.T) {
	t.Parallel()
	for _, n := range []uint64{1, 47, 48, 49, 501} {
		first, err := pi.DigitsOfPi(n)
		if err != nil {
			t.Errorf("Error calling DigitsOfPi: %v", err)
		}
		second, err := pi.DigitsOfPi(n)
		if err != nil {
			t.Errorf("Error calling DigitsOfPi: %v", err)
		}
		if first != second {
			t.Errorf("Checking position: %d: first %v second %v", n, first, second)
		}
		if first < 0 || first >= 1 {
			t.Errorf("Checking position: %d: result %v is not in [0, 1)", n, first)
		}
	}
}

func TestDigitsOfPiContext_MatchesSequential(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, n := range append([]uint64{1, 30, 60}, samplePositions...) {
		expected, err := pi.DigitsOfPi(n)
		if err != nil {
			t.Errorf("Error calling DigitsOfPi: %v", err)
		}
		actual, err := pi.DigitsOfPiContext(ctx, n, TEST_WORKERS)
		if err != nil {
			t.Errorf("Error calling DigitsOfPiContext: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking position: %d: expected %v got %v", n, expected, actual)
		}
	}
}

func TestDigitsContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, n := range []uint64{1, 49, 100, 501} {
		for _, count := range []int{1, 5, pi.BlockSize} {
			expected := PiDigits[n-1 : n-1+uint64(count)]
			actual, err := pi.DigitsContext(ctx, n, count, TEST_WORKERS)
			if err != nil {
				t.Errorf("Error calling DigitsContext: %v", err)
			}
			if actual != expected {
				t.Errorf("Checking position: %d count %d: expected %s got %s", n, count, expected, actual)
			}
		}
	}
	for _, count := range []int{0, pi.BlockSize + 1} {
		if _, err := pi.DigitsContext(ctx, 1, count, TEST_WORKERS); !errors.Is(err, pi.ErrInvalidCount) {
			t.Errorf("Checking count %d: expected %v got %v", count, pi.ErrInvalidCount, err)
		}
	}
}

func TestDigitsOfPiContext_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pi.DigitsOfPiContext(ctx, 1001, TEST_WORKERS); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected %v got %v", context.Canceled, err)
	}
}

func TestNewParameters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n           uint64
		m           int64
		nn          int64
		extractable bool
	}{
		{1, 0, 0, false},
		{2, 0, 0, false},
		{1001, 18, 510, true},
		{10001, 76, 3830, true},
	}
	for _, test := range tests {
		params, err := pi.NewParameters(test.n)
		if err != nil {
			t.Errorf("Error calling NewParameters: %v", err)
		}
		if params.M != test.m || params.N != test.nn {
			t.Errorf("Checking position: %d: expected M=%d N=%d got M=%d N=%d", test.n, test.m, test.nn, params.M, params.N)
		}
		if params.M%2 != 0 || params.N%2 != 0 {
			t.Errorf("Checking position: %d: M=%d and N=%d must be even", test.n, params.M, params.N)
		}
		if params.MMax != params.M*params.N+params.N {
			t.Errorf("Checking position: %d: unexpected MMax %d", test.n, params.MMax)
		}
		if actual := params.Extractable(); actual != test.extractable {
			t.Errorf("Checking position: %d: expected extractable %t got %t", test.n, test.extractable, actual)
		}
	}
}

func TestNewParameters_TooLarge(t *testing.T) {
	t.Parallel()
	for _, n := range []uint64{1 << 40, 1 << 62, 1<<64 - 1} {
		if _, err := pi.NewParameters(n); !errors.Is(err, pi.ErrPositionTooLarge) {
			t.Errorf("Checking position: %d: expected %v got %v", n, pi.ErrPositionTooLarge, err)
		}
	}
}

func TestBBPDigits_InvalidPosition(t *testing.T) {
	t.Parallel()
	if _, err := pi.BBPDigits(0); !errors.Is(err, pi.ErrInvalidPosition) {
		t.Errorf("Expected %v got %v", pi.ErrInvalidPosition, err)
	}
	if _, err := pi.BBPDigits(1 << 62); !errors.Is(err, pi.ErrPositionTooLarge) {
		t.Errorf("Expected %v got %v", pi.ErrPositionTooLarge, err)
	}
}

func TestBBPDigits(t *testing.T) {
	t.Parallel()
	for n := uint64(1); n <= 60; n++ {
		expected := expectedBlock(n)
		actual, err := pi.BBPDigits(n)
		if err != nil {
			t.Errorf("Error calling BBPDigits: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking position: %d: expected %s got %s", n, expected, actual)
		}
	}
}

func BenchmarkDigits(b *testing.B) {
	for _, n := range []uint64{10, 1000, 10000} {
		n := n
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, _ = pi.Digits(n, pi.BlockSize)
			}
		})
	}
}
