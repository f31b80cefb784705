package mathx

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientData is generated when there are fewer points than
	// coefficients in a requested fit
	ErrInsufficientData = errors.New("insufficient data for polynomial fit")

	// ErrBadOrder is generated when a negative polynomial order is requested
	ErrBadOrder = errors.New("polynomial order must be >= 0")

	// ErrLengthMismatch is generated when x and y of a fit differ in length
	ErrLengthMismatch = errors.New("x and y must have the same length")

	// ErrNoConvergence is generated when the eigenvalue decomposition used for root finding fails
	ErrNoConvergence = errors.New("eigenvalue decomposition did not converge")
)

// RealTol is the relative tolerance on the imaginary part used by IsReal
const RealTol = 1e-9

// Polyfit returns the least-squares polynomial of the given order through (x, y),
// highest degree first.  The Vandermonde matrix is column-scaled before a QR
// solve, which keeps high orders usable over wide x ranges.
func Polyfit(x, y []float64, order int) ([]float64, error) {
	if order < 0 {
		return nil, ErrBadOrder
	}
	if len(x) != len(y) {
		return nil, errors.Wrapf(ErrLengthMismatch, "len(x)=%d, len(y)=%d", len(x), len(y))
	}
	ncoef := order + 1
	if len(x) < ncoef {
		return nil, errors.Wrapf(ErrInsufficientData, "order %d needs %d points, got %d", order, ncoef, len(x))
	}

	n := len(x)
	lhs := mat.NewDense(n, ncoef, nil)
	for i, xi := range x {
		// column j holds x^(order-j)
		p := 1.
		for j := order; j >= 0; j-- {
			lhs.Set(i, j, p)
			p *= xi
		}
	}

	scale := make([]float64, ncoef)
	for j := 0; j < ncoef; j++ {
		col := mat.Col(nil, j, lhs)
		s := 0.
		for _, v := range col {
			s += v * v
		}
		s = math.Sqrt(s)
		if s == 0 {
			s = 1
		}
		scale[j] = s
		for i := 0; i < n; i++ {
			lhs.Set(i, j, lhs.At(i, j)/s)
		}
	}

	rhs := mat.NewDense(n, 1, append([]float64(nil), y...))
	var qr mat.QR
	qr.Factorize(lhs)
	var sol mat.Dense
	if err := qr.SolveTo(&sol, false, rhs); err != nil {
		return nil, errors.Wrap(err, "least squares solve")
	}
	coeffs := make([]float64, ncoef)
	for j := range coeffs {
		coeffs[j] = sol.At(j, 0) / scale[j]
	}
	return coeffs, nil
}

// Roots returns every root, real and complex, of the polynomial.  They are the
// eigenvalues of the companion matrix.  Leading zeros are ignored and each
// trailing zero contributes a root at the origin.  A constant (or empty)
// polynomial has no roots.
func Roots(coeffs []float64) ([]complex128, error) {
	start := 0
	for start < len(coeffs) && coeffs[start] == 0 {
		start++
	}
	end := len(coeffs)
	for end > start && coeffs[end-1] == 0 {
		end--
	}
	if start == end {
		return []complex128{}, nil
	}
	p := coeffs[start:end]
	zeros := len(coeffs) - end
	deg := len(p) - 1

	roots := make([]complex128, 0, deg+zeros)
	if deg > 0 {
		comp := mat.NewDense(deg, deg, nil)
		for j := 0; j < deg; j++ {
			comp.Set(0, j, -p[j+1]/p[0])
		}
		for i := 1; i < deg; i++ {
			comp.Set(i, i-1, 1)
		}
		var eig mat.Eigen
		if ok := eig.Factorize(comp, mat.EigenNone); !ok {
			return nil, ErrNoConvergence
		}
		roots = append(roots, eig.Values(nil)...)
	}
	for i := 0; i < zeros; i++ {
		roots = append(roots, 0)
	}
	return roots, nil
}

// IsReal reports whether z is real to within floating point noise
func IsReal(z complex128) bool {
	return math.Abs(imag(z)) <= RealTol*math.Max(1, math.Abs(real(z)))
}

// RealRoots filters roots to those which are real, returning their real parts
func RealRoots(roots []complex128) []float64 {
	out := make([]float64, 0, len(roots))
	for _, r := range roots {
		if IsReal(r) {
			out = append(out, real(r))
		}
	}
	return out
}
