// Package tensorutil provides eager numeric helpers over gorgonia
// tensors: broadcasting arithmetic, trailing-axis reduction, and
// numerically stable log-space reductions.
//
// Gorgonia exposes broadcasting only through its graph ops
// (BroadcastAdd and friends); this package supplies the eager
// equivalents by iterating raw tensor data directly.
//
// All functions support tensor.Float64 and tensor.Float32; casting
// helpers additionally accept tensor.Int.
package tensorutil

import (
	"math"

	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
)

// f64data returns the backing data of t as a float64 slice. Scalar
// tensors are returned as a one-element slice.
func f64data(t *tensor.Dense) []float64 {
	switch v := t.Data().(type) {
	case []float64:
		return v
	case float64:
		return []float64{v}
	}
	return nil
}

func f32data(t *tensor.Dense) []float32 {
	switch v := t.Data().(type) {
	case []float32:
		return v
	case float32:
		return []float32{v}
	}
	return nil
}

// Float64s returns a fresh float64 slice holding the elements of t in
// row-major order, regardless of t's dtype.
func Float64s(t *tensor.Dense) ([]float64, error) {
	switch t.Dtype() {
	case tensor.Float64:
		src := f64data(t)
		out := make([]float64, len(src))
		copy(out, src)
		return out, nil
	case tensor.Float32:
		src := f32data(t)
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out, nil
	case tensor.Int:
		src, ok := t.Data().([]int)
		if !ok {
			if v, okScalar := t.Data().(int); okScalar {
				return []float64{float64(v)}, nil
			}
			return nil, errs.Configurationf("float64s: unreadable int tensor")
		}
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, errs.Configurationf("float64s: dtype %v not supported",
		t.Dtype())
}

// FromFloat64s builds a dense tensor of the given dtype and shape from
// row-major float64 data.
func FromFloat64s(data []float64, shape []int,
	dt tensor.Dtype) (*tensor.Dense, error) {
	if tensor.ProdInts(shape) != len(data) {
		return nil, errs.ShapeMismatchf("fromFloat64s: shape %v requires "+
			"%v elements but got %v", shape, tensor.ProdInts(shape), len(data))
	}

	switch dt {
	case tensor.Float64:
		backing := make([]float64, len(data))
		copy(backing, data)
		return tensor.NewDense(dt, shape, tensor.WithBacking(backing)), nil
	case tensor.Float32:
		backing := make([]float32, len(data))
		for i, v := range data {
			backing[i] = float32(v)
		}
		return tensor.NewDense(dt, shape, tensor.WithBacking(backing)), nil
	case tensor.Int:
		backing := make([]int, len(data))
		for i, v := range data {
			backing[i] = int(v)
		}
		return tensor.NewDense(dt, shape, tensor.WithBacking(backing)), nil
	}
	return nil, errs.Configurationf("fromFloat64s: dtype %v not supported", dt)
}

// CastTo returns a copy of t converted to the given dtype.
func CastTo(t *tensor.Dense, dt tensor.Dtype) (*tensor.Dense, error) {
	if t.Dtype() == dt {
		return t.Clone().(*tensor.Dense), nil
	}
	data, err := Float64s(t)
	if err != nil {
		return nil, err
	}
	return FromFloat64s(data, t.Shape(), dt)
}

// RequireFinite returns ErrValidation if any element of t is NaN or an
// infinity. The check walks every element, so callers should gate it
// behind their validation switch.
func RequireFinite(name string, t *tensor.Dense) error {
	data, err := Float64s(t)
	if err != nil {
		return err
	}
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errs.Validationf("infinity or NaN value encountered in %v",
				name)
		}
	}
	return nil
}

// BroadcastShape returns the shape obtained by broadcasting a against
// b under the usual right-aligned rules.
func BroadcastShape(a, b tensor.Shape) (tensor.Shape, error) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	out := make(tensor.Shape, n)
	for i := 1; i <= n; i++ {
		da, db := 1, 1
		if i <= len(a) {
			da = a[len(a)-i]
		}
		if i <= len(b) {
			db = b[len(b)-i]
		}

		switch {
		case da == db:
			out[n-i] = da
		case da == 1:
			out[n-i] = db
		case db == 1:
			out[n-i] = da
		default:
			return nil, errs.ShapeMismatchf("cannot broadcast shape %v "+
				"against %v", a, b)
		}
	}

	return out, nil
}

// unravel writes the coordinates of linear index idx under shape into
// coords.
func unravel(idx int, shape []int, coords []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		coords[i] = idx % shape[i]
		idx /= shape[i]
	}
}

// broadcastIndex maps output coordinates to the linear index of a
// source tensor whose shape broadcasts to the output shape.
func broadcastIndex(coords []int, outRank int, srcShape []int) int {
	idx := 0
	offset := outRank - len(srcShape)
	for i, d := range srcShape {
		c := coords[offset+i]
		if d == 1 {
			c = 0
		}
		idx = idx*d + c
	}
	return idx
}

// binOp applies an elementwise binary operation with broadcasting.
// Both tensors must share a dtype.
func binOp(a, b *tensor.Dense, f64 func(x, y float64) float64,
	f32 func(x, y float32) float32) (*tensor.Dense, error) {
	if a.Dtype() != b.Dtype() {
		return nil, errs.Configurationf("expected operands to have the same "+
			"dtype but got %v and %v", a.Dtype(), b.Dtype())
	}

	outShape, err := BroadcastShape(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}

	size := tensor.ProdInts(outShape)
	rank := len(outShape)
	coords := make([]int, rank)

	switch a.Dtype() {
	case tensor.Float64:
		da, db := f64data(a), f64data(b)
		out := make([]float64, size)
		for i := 0; i < size; i++ {
			unravel(i, outShape, coords)
			out[i] = f64(da[broadcastIndex(coords, rank, a.Shape())],
				db[broadcastIndex(coords, rank, b.Shape())])
		}
		return tensor.NewDense(tensor.Float64, outShape,
			tensor.WithBacking(out)), nil
	case tensor.Float32:
		da, db := f32data(a), f32data(b)
		out := make([]float32, size)
		for i := 0; i < size; i++ {
			unravel(i, outShape, coords)
			out[i] = f32(da[broadcastIndex(coords, rank, a.Shape())],
				db[broadcastIndex(coords, rank, b.Shape())])
		}
		return tensor.NewDense(tensor.Float32, outShape,
			tensor.WithBacking(out)), nil
	}
	return nil, errs.Configurationf("dtype %v not supported", a.Dtype())
}

// Add returns a + b with broadcasting.
func Add(a, b *tensor.Dense) (*tensor.Dense, error) {
	return binOp(a, b,
		func(x, y float64) float64 { return x + y },
		func(x, y float32) float32 { return x + y })
}

// Sub returns a - b with broadcasting.
func Sub(a, b *tensor.Dense) (*tensor.Dense, error) {
	return binOp(a, b,
		func(x, y float64) float64 { return x - y },
		func(x, y float32) float32 { return x - y })
}

// Mul returns the elementwise product a * b with broadcasting.
func Mul(a, b *tensor.Dense) (*tensor.Dense, error) {
	return binOp(a, b,
		func(x, y float64) float64 { return x * y },
		func(x, y float32) float32 { return x * y })
}

// Div returns the elementwise quotient a / b with broadcasting.
func Div(a, b *tensor.Dense) (*tensor.Dense, error) {
	return binOp(a, b,
		func(x, y float64) float64 { return x / y },
		func(x, y float32) float32 { return x / y })
}

// AddN sums a list of tensors with broadcasting, folding left.
func AddN(ts []*tensor.Dense) (*tensor.Dense, error) {
	if len(ts) == 0 {
		return nil, errs.Configurationf("addN: expected at least one tensor")
	}

	out := ts[0]
	var err error
	for _, t := range ts[1:] {
		out, err = Add(out, t)
		if err != nil {
			return nil, err
		}
	}

	if out == ts[0] {
		out = out.Clone().(*tensor.Dense)
	}
	return out, nil
}

// unary applies an elementwise unary operation.
func unary(t *tensor.Dense, f64 func(float64) float64,
	f32 func(float32) float32) (*tensor.Dense, error) {
	switch t.Dtype() {
	case tensor.Float64:
		src := f64data(t)
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = f64(v)
		}
		return tensor.NewDense(tensor.Float64, t.Shape().Clone(),
			tensor.WithBacking(out)), nil
	case tensor.Float32:
		src := f32data(t)
		out := make([]float32, len(src))
		for i, v := range src {
			out[i] = f32(v)
		}
		return tensor.NewDense(tensor.Float32, t.Shape().Clone(),
			tensor.WithBacking(out)), nil
	}
	return nil, errs.Configurationf("dtype %v not supported", t.Dtype())
}

// Neg returns -t.
func Neg(t *tensor.Dense) (*tensor.Dense, error) {
	return unary(t,
		func(v float64) float64 { return -v },
		func(v float32) float32 { return -v })
}

// Log returns the elementwise natural logarithm of t.
func Log(t *tensor.Dense) (*tensor.Dense, error) {
	return unary(t, math.Log, math32.Log)
}

// Exp returns the elementwise exponential of t.
func Exp(t *tensor.Dense) (*tensor.Dense, error) {
	return unary(t, math.Exp, math32.Exp)
}

// Sigmoid64 is the numerically stable logistic function.
func Sigmoid64(x float64) float64 {
	if x >= 0 {
		return 1. / (1. + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1. + e)
}

// Sigmoid32 is the float32 form of Sigmoid64.
func Sigmoid32(x float32) float32 {
	if x >= 0 {
		return 1. / (1. + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1. + e)
}

// Sigmoid returns the elementwise logistic function of t.
func Sigmoid(t *tensor.Dense) (*tensor.Dense, error) {
	return unary(t, Sigmoid64, Sigmoid32)
}

// Softplus64 computes log(1 + exp(x)) without overflow.
func Softplus64(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// Softplus32 is the float32 form of Softplus64.
func Softplus32(x float32) float32 {
	if x > 0 {
		return x + math32.Log1p(math32.Exp(-x))
	}
	return math32.Log1p(math32.Exp(x))
}

// Softplus returns the elementwise softplus of t.
func Softplus(t *tensor.Dense) (*tensor.Dense, error) {
	return unary(t, Softplus64, Softplus32)
}

// Scale returns t multiplied by the scalar c.
func Scale(t *tensor.Dense, c float64) (*tensor.Dense, error) {
	c32 := float32(c)
	return unary(t,
		func(v float64) float64 { return v * c },
		func(v float32) float32 { return v * c32 })
}

// Shift returns t with the scalar c added to every element.
func Shift(t *tensor.Dense, c float64) (*tensor.Dense, error) {
	c32 := float32(c)
	return unary(t,
		func(v float64) float64 { return v + c },
		func(v float32) float32 { return v + c32 })
}
