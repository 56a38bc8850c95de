package pi

// Implements a base-10 spigot based on the algorithm published by Fabrice
// Bellard at https://bellard.org/pi/pi.c; it is used for the leading positions
// where the binomial extraction is not valid.

import (
	"fmt"
	"math"

	"github.com/memes/pimachine/internal/modmath"
)

// Returns the fractional part of 10^e * pi, accurate to BlockSize digits.
func bellardFraction(e int64) (float64, error) {
	l := logger.V(2).WithValues("e", e)
	l.Info("bellardFraction: enter")
	N := int64(float64(e+21) * math.Log(10) / math.Log(2))
	var sum float64
	for a := int64(3); a <= 2*N; a = findNextPrime(a) {
		// spell-checker: ignore vmax
		vmax := int64(math.Log(float64(2*N)) / math.Log(float64(a)))
		av := int64(1)
		for i := int64(0); i < vmax; i++ {
			av *= a
		}
		mod, err := modmath.NewModulus(av)
		if err != nil {
			return 0, fmt.Errorf("failed to build modulus %d^%d: %w", a, vmax, err)
		}
		var s, num, den, v, kq, kq2 int64 = 0, 1, 1, 0, 1, 1
		for k := int64(1); k <= N; k++ {
			t := k
			if kq >= a {
				for {
					t /= a
					v--
					if t%a != 0 {
						break
					}
				}
				kq = 0
			}
			kq++
			num = mod.MulMod(num, mod.Reduce(t))

			t = 2*k - 1
			if kq2 >= a {
				if kq2 == a {
					for {
						t /= a
						v++
						if t%a != 0 {
							break
						}
					}
				}
				kq2 -= a
			}
			den = mod.MulMod(den, mod.Reduce(t))
			kq2 += 2

			if v > 0 {
				inv, err := mod.InvMod(den)
				if err != nil {
					return 0, fmt.Errorf("failed to invert %d mod %d: %w", den, av, err)
				}
				t = mod.MulMod(inv, num)
				t = mod.MulMod(t, mod.Reduce(k))
				for i := v; i < vmax; i++ {
					t = mod.MulMod(t, mod.Reduce(a))
				}
				s += t
				if s >= av {
					s -= av
				}
			}
		}
		s = mod.MulMod(s, mod.PowMod(10, e))
		sum = math.Mod(sum+float64(s)/float64(av), 1.0)
	}
	l.Info("bellardFraction: exit", "result", sum)
	return sum, nil
}

// BBPDigits returns BlockSize decimal digits of pi starting at the 1-based
// position n using only the spigot algorithm. It is much slower than Digits for
// large positions and is provided as an independent check.
func BBPDigits(n uint64) (string, error) {
	l := logger.V(1).WithValues("n", n)
	l.Info("BBPDigits: enter")
	if n == 0 {
		return "", ErrInvalidPosition
	}
	if n-1 > uint64(modmath.MaxModulus/8) {
		return "", fmt.Errorf("position %d: %w", n, ErrPositionTooLarge)
	}
	x, err := bellardFraction(int64(n - 1))
	if err != nil {
		return "", err
	}
	result, err := formatDigits(x, BlockSize, func() (float64, error) {
		return bellardFraction(int64(n-1) + BlockSize)
	})
	if err != nil {
		return "", err
	}
	l.Info("BBPDigits: exit", "result", result)
	return result, nil
}
