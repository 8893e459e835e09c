// Package tensor implements the dense vector/matrix primitives used by the
// character model. Every operation allocates and returns a fresh *mat.Dense;
// operands are never modified. Vectors are column matrices (n x 1).
package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch is returned when operand shapes disagree.
var ErrDimensionMismatch = errors.New("tensor: dimension mismatch")

// Zeros returns an r x c matrix of zeros.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// NewVector returns an n x 1 column vector. data is copied; nil means zeros.
func NewVector(n int, data []float64) *mat.Dense {
	if data == nil {
		return mat.NewDense(n, 1, nil)
	}
	buf := make([]float64, n)
	copy(buf, data)
	return mat.NewDense(n, 1, buf)
}

// NewMatrix returns an r x c matrix holding a copy of the row-major data.
func NewMatrix(r, c int, data []float64) (*mat.Dense, error) {
	if data != nil && len(data) != r*c {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrDimensionMismatch, len(data), r, c)
	}
	if data == nil {
		return mat.NewDense(r, c, nil), nil
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return mat.NewDense(r, c, buf), nil
}

// OneHot returns a length-n column vector with a single 1 at index i.
func OneHot(n, i int) (*mat.Dense, error) {
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: one-hot index %d outside [0,%d)", ErrDimensionMismatch, i, n)
	}
	v := mat.NewDense(n, 1, nil)
	v.Set(i, 0, 1)
	return v, nil
}

// Uniform returns an r x c matrix of values drawn uniformly from [0,1).
func Uniform(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.Float64()
	}
	return mat.NewDense(r, c, data)
}

// Values returns a row-major copy of the elements of a.
func Values(a mat.Matrix) []float64 {
	r, c := a.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, a.At(i, j))
		}
	}
	return out
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b mat.Matrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return ar == br && ac == bc
}

func mismatch(op string, a, b mat.Matrix) error {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	return fmt.Errorf("%w: %s %dx%d and %dx%d", ErrDimensionMismatch, op, ar, ac, br, bc)
}

// Add returns a + b.
func Add(a, b mat.Matrix) (*mat.Dense, error) {
	if !SameShape(a, b) {
		return nil, mismatch("add", a, b)
	}
	var out mat.Dense
	out.Add(a, b)
	return &out, nil
}

// Sub returns a - b.
func Sub(a, b mat.Matrix) (*mat.Dense, error) {
	if !SameShape(a, b) {
		return nil, mismatch("sub", a, b)
	}
	var out mat.Dense
	out.Sub(a, b)
	return &out, nil
}

// MulElem returns the elementwise (Hadamard) product a ⊙ b.
func MulElem(a, b mat.Matrix) (*mat.Dense, error) {
	if !SameShape(a, b) {
		return nil, mismatch("mul-elem", a, b)
	}
	var out mat.Dense
	out.MulElem(a, b)
	return &out, nil
}

// DivElem returns the elementwise quotient a / b.
func DivElem(a, b mat.Matrix) (*mat.Dense, error) {
	if !SameShape(a, b) {
		return nil, mismatch("div-elem", a, b)
	}
	var out mat.Dense
	out.DivElem(a, b)
	return &out, nil
}

// Scale returns s * a.
func Scale(a mat.Matrix, s float64) *mat.Dense {
	var out mat.Dense
	out.Scale(s, a)
	return &out
}

// AddScalar returns a + s, broadcasting s over every element.
func AddScalar(a mat.Matrix, s float64) *mat.Dense {
	return apply(a, func(v float64) float64 { return v + s })
}

// SubFrom returns s - a, broadcasting s over every element.
func SubFrom(s float64, a mat.Matrix) *mat.Dense {
	return apply(a, func(v float64) float64 { return s - v })
}

// Mul returns the matrix product a · b. A matrix-vector product yields a
// column vector with as many rows as a.
func Mul(a, b mat.Matrix) (*mat.Dense, error) {
	_, ac := a.Dims()
	br, _ := b.Dims()
	if ac != br {
		return nil, mismatch("mul", a, b)
	}
	var out mat.Dense
	out.Mul(a, b)
	return &out, nil
}

// Outer returns the outer product a · bᵀ of two column vectors.
func Outer(a, b mat.Matrix) (*mat.Dense, error) {
	_, ac := a.Dims()
	_, bc := b.Dims()
	if ac != 1 || bc != 1 {
		return nil, mismatch("outer", a, b)
	}
	var out mat.Dense
	out.Mul(a, b.T())
	return &out, nil
}

// Transpose returns a materialized copy of aᵀ.
func Transpose(a mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(a.T())
}

// Sqrt returns the elementwise square root.
func Sqrt(a mat.Matrix) *mat.Dense {
	return apply(a, math.Sqrt)
}

// Tanh returns the elementwise hyperbolic tangent.
func Tanh(a mat.Matrix) *mat.Dense {
	return apply(a, math.Tanh)
}

// Exp returns the elementwise exponential.
func Exp(a mat.Matrix) *mat.Dense {
	return apply(a, math.Exp)
}

// Clip limits every element to the closed interval [lo, hi]. NaN values are
// left untouched.
func Clip(a mat.Matrix, lo, hi float64) (*mat.Dense, error) {
	if lo > hi {
		return nil, fmt.Errorf("tensor: clip bounds [%g,%g] are inverted", lo, hi)
	}
	return apply(a, func(v float64) float64 {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}), nil
}

// Sum returns the sum of all elements of a.
func Sum(a mat.Matrix) float64 {
	return mat.Sum(a)
}

// Softmax exponentiates every element and normalizes by the sum of the
// exponentials. The maximum is not subtracted first, so very large inputs
// overflow to +Inf and produce NaN probabilities.
func Softmax(a mat.Matrix) *mat.Dense {
	e := Exp(a)
	total := Sum(e)
	return apply(e, func(v float64) float64 { return v / total })
}

func apply(a mat.Matrix, fn func(float64) float64) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return fn(v) }, a)
	return &out
}
