// Package binomial computes partial sums of binomial coefficients modulo an odd
// modulus that may share prime factors with the coefficients themselves.
package binomial

import (
	"errors"
	"fmt"

	"github.com/memes/pimachine/internal/modmath"
)

// MaxPrimeFactors bounds the number of distinct prime factors tracked for a
// modulus. The product of the first 20 odd primes already exceeds 2^64, so a
// valid modulus can never need more.
const MaxPrimeFactors = 20

var (
	// A negative n was supplied.
	ErrInvalidArgument = errors.New("invalid binomial argument")
	// The modulus has more distinct prime factors than can be tracked.
	ErrTooManyFactors = fmt.Errorf("modulus has more than %d distinct prime factors", MaxPrimeFactors)
)

// PrimeFactors returns the distinct prime factors of the odd integer m that are
// no greater than limit, in ascending order. Factors are found by trial
// division with odd integers up to the square root of the remaining cofactor; a
// cofactor left over at the end is itself prime.
func PrimeFactors(m, limit int64) ([]int64, error) {
	factors := make([]int64, 0, MaxPrimeFactors)
	add := func(p int64) error {
		if len(factors) == MaxPrimeFactors {
			return fmt.Errorf("factor %d of %d: %w", p, m, ErrTooManyFactors)
		}
		factors = append(factors, p)
		return nil
	}
	mm := m
	for p := int64(3); p*p <= mm; p += 2 {
		if mm%p != 0 {
			continue
		}
		mm /= p
		for mm%p == 0 {
			mm /= p
		}
		if p <= limit {
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}
	if mm > 1 && mm <= limit {
		if err := add(mm); err != nil {
			return nil, err
		}
	}
	return factors, nil
}

// Tracks the power of one prime factor of the modulus inside the running
// binomial coefficient, together with the next multiples of the prime that
// will appear in the numerator (counting down from n) and the denominator
// (counting up from 1).
type primeTracker struct {
	prime     int64
	power     int64
	nextNum   int64
	nextDenom int64
}

// SumMod returns sum_{j=0}^{k} C(n, j) mod m.
//
// Coefficients are maintained incrementally as C(n, j) = C(n, j-1)*(n-j+1)/j.
// Every prime factor of m that can divide a numerator or denominator term is
// stripped from both and tracked separately as a power, so the remaining
// denominator stays coprime to m and can be inverted once at the end.
func SumMod(m modmath.Modulus, n, k int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("n = %d: %w", n, ErrInvalidArgument)
	}
	if k < 0 {
		return 0, nil
	}
	if k >= n {
		return m.PowMod(2, n), nil
	}
	if k > n/2 {
		// sum_{j=0}^{k} C(n,j) = 2^n - sum_{j=0}^{n-k-1} C(n,j); the reduced
		// problem satisfies k <= n/2 so this recurses at most once.
		rest, err := SumMod(m, n, n-k-1)
		if err != nil {
			return 0, err
		}
		return m.Reduce(m.PowMod(2, n) - rest), nil
	}

	primes, err := PrimeFactors(m.Value(), k)
	if err != nil {
		return 0, err
	}
	trackers := make([]primeTracker, len(primes))
	for i, p := range primes {
		trackers[i] = primeTracker{
			prime:     p,
			power:     1,
			nextNum:   p * (n / p),
			nextDenom: p,
		}
	}

	var numerator, denominator, sum, secondary int64 = 1, 1, 1, 1
	for j := int64(1); j <= k; j++ {
		num := n - j + 1
		denom := j
		updated := false
		for i := range trackers {
			tracker := &trackers[i]
			p := tracker.prime
			if tracker.nextNum == n-j+1 {
				updated = true
				tracker.nextNum -= p
				tracker.power *= p
				num /= p
				for num%p == 0 {
					tracker.power *= p
					num /= p
				}
			}
			if tracker.nextDenom == j {
				updated = true
				tracker.nextDenom += p
				tracker.power /= p
				denom /= p
				for denom%p == 0 {
					tracker.power /= p
					denom /= p
				}
			}
		}
		if updated {
			secondary = m.Reduce(1)
			for i := range trackers {
				secondary = m.MulMod(secondary, m.Reduce(trackers[i].power))
			}
		}

		numerator = m.MulMod(numerator, m.Reduce(num))
		denominator = m.MulMod(denominator, m.Reduce(denom))
		if secondary != 1 {
			sum = m.SumMulMod(sum, m.Reduce(denom), numerator, secondary)
		} else {
			sum = m.Reduce(m.MulMod(sum, m.Reduce(denom)) + numerator)
		}
	}
	inverse, err := m.InvMod(denominator)
	if err != nil {
		return 0, fmt.Errorf("binomial denominator for n = %d, k = %d: %w", n, k, err)
	}
	return m.MulMod(sum, inverse), nil
}
