package pi

import (
	"math"
	"math/big"
)

const (
	// The number of MR rounds to use when determining if the number is
	// probably a prime. A value of zero will apply a Baillie-PSW only test.
	MillerRabinRounds = 0
)

var two = big.NewInt(2)

// Use a naive, brute force approach to determining if a positive integer is
// prime by iterating through the set of odd integers [3, sqrt(n)] to see if
// they divide wholly.
func bruteIsPrime(n int64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	r := int64(math.Sqrt(float64(n)))
	for i := int64(3); i <= r; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// BruteFindNextPrime determines the next prime number greater than n by
// iterating over the integers greater than n until one passes the brute force
// prime test.
func BruteFindNextPrime(n int64) int64 {
	if n < 2 {
		return 2
	}
	next := n + 1
	if next%2 == 0 {
		next++
	}
	for ; !bruteIsPrime(next); next += 2 {
	}
	return next
}

// BigFindNextPrime determines the next prime number greater than n using the
// probabilistic test of math/big.
func BigFindNextPrime(n int64) int64 {
	if n < 2 {
		return 2
	}
	next := big.NewInt(n + 1)
	if n%2 != 0 {
		next.Add(next, big.NewInt(1))
	}
	for ; !next.ProbablyPrime(MillerRabinRounds); next.Add(next, two) {
	}
	return next.Int64()
}
