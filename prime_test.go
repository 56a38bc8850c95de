package pi_test

import (
	"fmt"
	"math"
	"sort"
	"testing"

	pi "github.com/memes/pimachine"
	"github.com/otiai10/primes"
)

const (
	// Verify next prime functions for every start value below this limit.
	PRIME_VERIFY_LIMIT = 5000
	// Largest power of 10 to use as a starting point in benchmarks.
	BENCHMARK_PRIME_EXPONENT_LIMIT = 10
)

// Every prime up to a little beyond PRIME_VERIFY_LIMIT.
var verificationPrimes = primes.Until(PRIME_VERIFY_LIMIT + 100).List()

func testFindNextPrime(t *testing.T, f pi.FindNextPrimeFunc) {
	t.Helper()
	for i := int64(0); i < PRIME_VERIFY_LIMIT; i++ {
		expected := verificationPrimes[sort.Search(len(verificationPrimes), func(idx int) bool { return verificationPrimes[idx] > i })]
		if actual := f(i); actual != expected {
			t.Errorf("Checking start: %d: expected %d got %d", i, expected, actual)
		}
	}
}

func TestBruteFindNextPrime(t *testing.T) {
	t.Parallel()
	testFindNextPrime(t, pi.BruteFindNextPrime)
}

func TestBigFindNextPrime(t *testing.T) {
	t.Parallel()
	testFindNextPrime(t, pi.BigFindNextPrime)
}

func benchmarkFindNextPrime(b *testing.B, f pi.FindNextPrimeFunc) {
	b.Helper()
	for exp := 0; exp < BENCHMARK_PRIME_EXPONENT_LIMIT; exp++ {
		start := int64(math.Pow10(exp))
		b.Run(fmt.Sprintf("start=%d", start), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = f(start)
			}
		})
	}
}

func BenchmarkBruteFindNextPrime(b *testing.B) {
	benchmarkFindNextPrime(b, pi.BruteFindNextPrime)
}

func BenchmarkBigFindNextPrime(b *testing.B) {
	benchmarkFindNextPrime(b, pi.BigFindNextPrime)
}
