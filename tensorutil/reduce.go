package tensorutil

import (
	"math"
	"sort"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
)

// SumTrailing sums the last ndims axes of t. With ndims == 0 the input
// is returned unchanged. A fully reduced tensor is represented as a
// one-element vector rather than a rank-0 scalar.
func SumTrailing(t *tensor.Dense, ndims int) (*tensor.Dense, error) {
	if ndims == 0 {
		return t, nil
	}
	rank := t.Dims()
	if ndims < 0 || ndims > rank {
		return nil, errs.Configurationf("sumTrailing: cannot reduce %v "+
			"trailing axes of a rank %v tensor", ndims, rank)
	}

	outShape := t.Shape().Clone()[:rank-ndims]
	outSize := tensor.ProdInts([]int(outShape))
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
		outSize = 1
	}
	inner := tensor.ProdInts([]int(t.Shape()[rank-ndims:]))

	data, err := Float64s(t)
	if err != nil {
		return nil, err
	}

	out := make([]float64, outSize)
	for i := 0; i < outSize; i++ {
		total := 0.
		for j := 0; j < inner; j++ {
			total += data[i*inner+j]
		}
		out[i] = total
	}

	return FromFloat64s(out, outShape, t.Dtype())
}

// checkAxes validates and deduplicates reduction axes for a tensor of
// the given rank.
func checkAxes(axes []int, rank int) ([]int, error) {
	if len(axes) == 0 {
		return nil, errs.Configurationf("expected at least one reduction axis")
	}

	seen := make(map[int]bool, len(axes))
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		if a < 0 || a >= rank {
			return nil, errs.Configurationf("axis %v out of range for rank "+
				"%v tensor", a, rank)
		}
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Ints(out)
	return out, nil
}

// reducedLayout describes the output side of an axis reduction.
type reducedLayout struct {
	inShape  []int
	outShape tensor.Shape
	reduced  map[int]bool
	count    int // number of elements folded into each output cell
}

func newReducedLayout(shape tensor.Shape, axes []int) reducedLayout {
	reduced := make(map[int]bool, len(axes))
	for _, a := range axes {
		reduced[a] = true
	}

	outShape := make(tensor.Shape, 0, len(shape)-len(axes))
	count := 1
	for i, d := range shape {
		if reduced[i] {
			count *= d
		} else {
			outShape = append(outShape, d)
		}
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	return reducedLayout{
		inShape:  []int(shape),
		outShape: outShape,
		reduced:  reduced,
		count:    count,
	}
}

// outIndex maps input coordinates to the linear index of the output
// cell they reduce into.
func (r reducedLayout) outIndex(coords []int) int {
	idx := 0
	for i, d := range r.inShape {
		if r.reduced[i] {
			continue
		}
		idx = idx*d + coords[i]
	}
	return idx
}

// SumAlong sums t over the given axes, which are removed from the
// result's shape.
func SumAlong(t *tensor.Dense, axes []int) (*tensor.Dense, error) {
	axes, err := checkAxes(axes, t.Dims())
	if err != nil {
		return nil, err
	}
	layout := newReducedLayout(t.Shape(), axes)

	data, err := Float64s(t)
	if err != nil {
		return nil, err
	}

	out := make([]float64, tensor.ProdInts([]int(layout.outShape)))
	coords := make([]int, t.Dims())
	for i, v := range data {
		unravel(i, layout.inShape, coords)
		out[layout.outIndex(coords)] += v
	}

	return FromFloat64s(out, layout.outShape, t.Dtype())
}

// MeanAlong averages t over the given axes, which are removed from the
// result's shape.
func MeanAlong(t *tensor.Dense, axes []int) (*tensor.Dense, error) {
	axes, err := checkAxes(axes, t.Dims())
	if err != nil {
		return nil, err
	}
	layout := newReducedLayout(t.Shape(), axes)

	summed, err := SumAlong(t, axes)
	if err != nil {
		return nil, err
	}
	return Scale(summed, 1./float64(layout.count))
}

// LogSumExp computes log(sum(exp(t))) over the given axes in a
// numerically stable form: the per-cell maximum is subtracted before
// exponentiating. The reduced axes are removed from the result's shape.
func LogSumExp(t *tensor.Dense, axes []int) (*tensor.Dense, error) {
	axes, err := checkAxes(axes, t.Dims())
	if err != nil {
		return nil, err
	}
	layout := newReducedLayout(t.Shape(), axes)

	data, err := Float64s(t)
	if err != nil {
		return nil, err
	}

	outSize := tensor.ProdInts([]int(layout.outShape))
	maxes := make([]float64, outSize)
	for i := range maxes {
		maxes[i] = math.Inf(-1)
	}

	coords := make([]int, t.Dims())
	for i, v := range data {
		unravel(i, layout.inShape, coords)
		j := layout.outIndex(coords)
		if v > maxes[j] {
			maxes[j] = v
		}
	}

	out := make([]float64, outSize)
	for i, v := range data {
		unravel(i, layout.inShape, coords)
		j := layout.outIndex(coords)
		out[j] += math.Exp(v - maxes[j])
	}
	for i := range out {
		if math.IsInf(maxes[i], -1) {
			// Every element was -Inf; log(sum(exp)) is -Inf as well.
			out[i] = math.Inf(-1)
		} else {
			out[i] = maxes[i] + math.Log(out[i])
		}
	}

	return FromFloat64s(out, layout.outShape, t.Dtype())
}

// LogMeanExp computes log(mean(exp(t))) over the given axes, stable in
// the same way as LogSumExp.
func LogMeanExp(t *tensor.Dense, axes []int) (*tensor.Dense, error) {
	axes, err := checkAxes(axes, t.Dims())
	if err != nil {
		return nil, err
	}
	layout := newReducedLayout(t.Shape(), axes)

	lse, err := LogSumExp(t, axes)
	if err != nil {
		return nil, err
	}
	return Shift(lse, -math.Log(float64(layout.count)))
}

// LogMeanExp64 computes log(mean(exp(x))) of a float64 slice, stable
// in the same way as LogSumExp. It is the scalar kernel shared with
// the graph op in the op package.
func LogMeanExp64(xs []float64) float64 {
	max := math.Inf(-1)
	for _, v := range xs {
		if v > max {
			max = v
		}
	}
	if math.IsInf(max, -1) {
		return max
	}

	total := 0.
	for _, v := range xs {
		total += math.Exp(v - max)
	}
	return max + math.Log(total/float64(len(xs)))
}
