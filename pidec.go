package pi

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/memes/pimachine/internal/binomial"
	"github.com/memes/pimachine/internal/modmath"
	"golang.org/x/sync/errgroup"
)

// Parameters holds the truncation parameters used to extract the digits of pi
// that follow a given position.
type Parameters struct {
	// The 1-based position of the first digit.
	Position uint64
	// The power of ten applied to pi; Position - 1.
	Exponent int64
	// Euler transform parameter; always even.
	M int64
	// Number of correction terms; always even.
	N int64
	// Truncation of the Leibniz series; M*N + N.
	MMax int64
}

// NewParameters derives the extraction parameters for the 1-based position n.
func NewParameters(n uint64) (Parameters, error) {
	if n == 0 {
		return Parameters{}, ErrInvalidPosition
	}
	if n-1 > math.MaxInt64 {
		return Parameters{}, fmt.Errorf("position %d: %w", n, ErrPositionTooLarge)
	}
	p := Parameters{
		Position: n,
		Exponent: int64(n - 1),
	}
	if p.Exponent < 2 {
		return p, nil
	}
	e := float64(p.Exponent)
	logn := math.Log(e)
	m := 3 * e / logn / logn / logn
	if m > float64(modmath.MaxModulus) {
		return Parameters{}, fmt.Errorf("position %d: %w", n, ErrPositionTooLarge)
	}
	p.M = 2 * int64(m)
	nn := (e + 15) * math.Log(10) / (1 + math.Log(2*float64(p.M)))
	if nn > float64(modmath.MaxModulus) {
		return Parameters{}, fmt.Errorf("position %d: %w", n, ErrPositionTooLarge)
	}
	p.N = 1 + int64(nn)
	p.N += p.N % 2
	// The largest modulus used is 2MN + 2N - 1.
	if p.M > (modmath.MaxModulus-2*p.N+1)/(2*p.N) {
		return Parameters{}, fmt.Errorf("position %d: %w", n, ErrPositionTooLarge)
	}
	p.MMax = p.M*p.N + p.N
	return p, nil
}

// Below this exponent the truncation error of the extraction exceeds the
// precision needed for BlockSize digits.
const minExtractableExponent = 48

// Extractable returns true if the parameters are valid for the binomial
// extraction; small positions have to be computed by the spigot instead.
func (p Parameters) Extractable() bool {
	return p.M >= 2 && p.Exponent >= p.N && p.Exponent >= minExtractableExponent
}

// Returns the signed contribution of the k-th correction term.
func (p Parameters) correction(k int64) (float64, error) {
	mod, err := modmath.NewModulus(2*p.M*p.N + 2*k + 1)
	if err != nil {
		return 0, fmt.Errorf("correction term %d: %w", k, err)
	}
	s, err := binomial.SumMod(mod, p.N, k)
	if err != nil {
		return 0, fmt.Errorf("correction term %d: %w", k, err)
	}
	s = mod.MulMod(s, mod.PowMod(5, p.N))
	s = mod.MulMod(s, mod.PowMod(10, p.Exponent-p.N))
	s = mod.MulMod(s, mod.Reduce(4))
	return float64(2*(k%2)-1) * float64(s) / float64(mod.Value()), nil
}

// DigitsOfPi returns the fractional part of 10^(n-1) * pi; the leading
// BlockSize decimal digits of the result are the digits of pi starting at the
// 1-based position n.
func DigitsOfPi(n uint64) (float64, error) {
	logger := logger.V(1).WithValues("n", n)
	logger.Info("DigitsOfPi: enter")
	p, err := NewParameters(n)
	if err != nil {
		return 0, err
	}
	if !p.Extractable() {
		logger.V(1).Info("DigitsOfPi: using spigot", "exponent", p.Exponent)
		return bellardFraction(p.Exponent)
	}
	x, err := DigitsOfSeries(p.Exponent, p.MMax)
	if err != nil {
		return 0, err
	}
	for k := int64(0); k < p.N; k++ {
		c, err := p.correction(k)
		if err != nil {
			return 0, err
		}
		x += c
		x -= math.Floor(x)
	}
	logger.Info("DigitsOfPi: exit", "M", p.M, "N", p.N, "result", x)
	return x, nil
}

// DigitsOfPiContext is DigitsOfPi with the series and correction terms spread
// across at most workers goroutines; a value < 1 uses GOMAXPROCS. The terms are
// folded in the same order as DigitsOfPi so the results are identical.
func DigitsOfPiContext(ctx context.Context, n uint64, workers int) (float64, error) {
	logger := logger.V(1).WithValues("n", n, "workers", workers)
	logger.Info("DigitsOfPiContext: enter")
	p, err := NewParameters(n)
	if err != nil {
		return 0, err
	}
	if !p.Extractable() {
		return bellardFraction(p.Exponent)
	}
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var x float64
	g.Go(func() error {
		var err error
		x, err = DigitsOfSeries(p.Exponent, p.MMax)
		return err
	})
	terms := make([]float64, p.N)
	for k := int64(0); k < p.N; k++ {
		if err := gctx.Err(); err != nil {
			break
		}
		k := k
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := p.correction(k)
			if err != nil {
				return err
			}
			terms[k] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("failed to extract digits at position %d: %w", n, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("failed to extract digits at position %d: %w", n, err)
	}
	for _, c := range terms {
		x += c
		x -= math.Floor(x)
	}
	logger.Info("DigitsOfPiContext: exit", "M", p.M, "N", p.N, "result", x)
	return x, nil
}
