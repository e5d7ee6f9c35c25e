package op

import (
	"fmt"
	"hash"
	"math"

	"github.com/chewxy/hm"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LogMeanExp computes log(mean(exp(x))) along axis in a numerically
// stable way. The output drops axis from the shape of x. If x is a
// vector, the output is a scalar.
func LogMeanExp(x *G.Node, axis int) (*G.Node, error) {
	if x == nil {
		return nil, fmt.Errorf("logmeanexp: x cannot be nil")
	}
	if axis < 0 || axis >= x.Dims() {
		return nil, fmt.Errorf("logmeanexp: axis %d out of range for "+
			"input with %d dimension(s)", axis, x.Dims())
	}
	dt, err := dtypeOf(x.Type())
	if err != nil {
		return nil, fmt.Errorf("logmeanexp: %v", err)
	}

	op := newLogMeanExpOp(axis, x.Dims(), dt)
	return G.ApplyOp(op, x)
}

// dtypeOf returns the element dtype of a Gorgonia node type.
func dtypeOf(t hm.Type) (tensor.Dtype, error) {
	switch tt := t.(type) {
	case tensor.Dtype:
		return tt, nil
	case G.TensorType:
		return dtypeOf(tt.Of)
	}
	return tensor.Dtype{}, fmt.Errorf("type %v has no dtype", t)
}

// logMeanExpOp computes log(mean(exp(x))) along a fixed axis of its
// input. The reduction subtracts the running maximum before
// exponentiating so that large log-space inputs do not overflow.
type logMeanExpOp struct {
	axis int
	dims int // number of dimensions of the input
	dt   tensor.Dtype
}

// newLogMeanExpOp returns a new logMeanExpOp
func newLogMeanExpOp(axis, dims int, dt tensor.Dtype) *logMeanExpOp {
	return &logMeanExpOp{
		axis: axis,
		dims: dims,
		dt:   dt,
	}
}

// Arity implements the gorgonia.Op interface
func (l *logMeanExpOp) Arity() int { return 1 }

// Type implements the gorgonia.Op interface
func (l *logMeanExpOp) Type() hm.Type {
	in := G.TensorType{Dims: l.dims, Of: l.dt}
	if l.dims == 1 {
		return hm.NewFnType(in, l.dt)
	}
	out := G.TensorType{Dims: l.dims - 1, Of: l.dt}
	return hm.NewFnType(in, out)
}

// InferShape implements the gorgonia.Op interface
func (l *logMeanExpOp) InferShape(inputs ...G.DimSizer) (tensor.Shape,
	error) {
	if inputs[0] == nil {
		return nil, fmt.Errorf("logmeanexp: input shape cannot be nil")
	}

	shape := inputs[0].(tensor.Shape)
	if len(shape) <= 1 {
		return tensor.ScalarShape(), nil
	}

	out := make(tensor.Shape, 0, len(shape)-1)
	out = append(out, shape[:l.axis]...)
	out = append(out, shape[l.axis+1:]...)
	return out, nil
}

// ReturnsPtr implements the gorgonia.Op interface
func (l *logMeanExpOp) ReturnsPtr() bool { return false }

// CallsExtern implements the gorgonia.Op interface
func (l *logMeanExpOp) CallsExtern() bool { return false }

// OverwritesInput implements the gorgonia.Op interface
func (l *logMeanExpOp) OverwritesInput() int { return -1 }

// String implements the fmt.Stringer interface
func (l *logMeanExpOp) String() string {
	return fmt.Sprintf("LogMeanExp{axis=%d}()", l.axis)
}

// WriteHash implements the gorgonia.Op interface
func (l *logMeanExpOp) WriteHash(h hash.Hash) {
	fmt.Fprint(h, l.String())
}

// Hashcode implements the gorgonia.Op interface
func (l *logMeanExpOp) Hashcode() uint32 { return simpleHash(l) }

// Do implements the gorgonia.Op interface
func (l *logMeanExpOp) Do(values ...G.Value) (G.Value, error) {
	if err := l.checkInputs(values...); err != nil {
		return nil, fmt.Errorf("logmeanexp: %v", err)
	}

	in := values[0].(tensor.Tensor)
	data, err := valueFloats(values[0])
	if err != nil {
		return nil, fmt.Errorf("logmeanexp: %v", err)
	}

	lay := newReduceLayout(in.Shape(), l.axis)
	out := lay.reduce(data)

	if l.dims == 1 {
		if l.dt == tensor.Float32 {
			ret := G.F32(float32(out[0]))
			return &ret, nil
		}
		ret := G.F64(out[0])
		return &ret, nil
	}
	return denseLike(out, lay.outShape, l.dt)
}

// SymDiff implements the gorgonia.SDOp interface
func (l *logMeanExpOp) SymDiff(inputs G.Nodes, output,
	grad *G.Node) (G.Nodes, error) {
	if err := checkArity(l, len(inputs)); err != nil {
		return nil, fmt.Errorf("logmeanexp: %v", err)
	}

	diffOp := &logMeanExpDiffOp{l}
	nodes := make(G.Nodes, 1)

	var err error
	nodes[0], err = G.ApplyOp(diffOp, inputs[0], grad)
	return nodes, err
}

// DiffWRT implements the gorgonia.SDOp interface
func (l *logMeanExpOp) DiffWRT(inputs int) []bool {
	if inputs != l.Arity() {
		panic(fmt.Sprintf("logmeanexp: expected %d inputs but got %d",
			l.Arity(), inputs))
	}
	return []bool{true}
}

// checkInputs verifies the inputs to a logMeanExpOp
func (l *logMeanExpOp) checkInputs(inputs ...G.Value) error {
	if err := checkArity(l, len(inputs)); err != nil {
		return err
	}

	t, ok := inputs[0].(tensor.Tensor)
	if !ok {
		return fmt.Errorf("expected a tensor input but got %T", inputs[0])
	}
	if t.Dims() != l.dims {
		return fmt.Errorf("expected input with %d dimension(s) but got "+
			"%d", l.dims, t.Dims())
	}
	if l.axis >= t.Dims() {
		return fmt.Errorf("axis %d out of range for input with %d "+
			"dimension(s)", l.axis, t.Dims())
	}
	return nil
}

// logMeanExpDiffOp computes the gradient of a logMeanExpOp. The
// gradient of log(mean(exp(x))) with respect to x is softmax(x) along
// the reduced axis, scaled by the incoming gradient.
type logMeanExpDiffOp struct {
	op *logMeanExpOp
}

// Arity implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) Arity() int { return 2 }

// Type implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) Type() hm.Type {
	in := G.TensorType{Dims: l.op.dims, Of: l.op.dt}
	if l.op.dims == 1 {
		return hm.NewFnType(in, l.op.dt, in)
	}
	gradT := G.TensorType{Dims: l.op.dims - 1, Of: l.op.dt}
	return hm.NewFnType(in, gradT, in)
}

// InferShape implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) InferShape(inputs ...G.DimSizer) (tensor.Shape,
	error) {
	if inputs[0] == nil {
		return nil, fmt.Errorf("logmeanexp diff: input shape cannot be nil")
	}
	return inputs[0].(tensor.Shape), nil
}

// ReturnsPtr implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) ReturnsPtr() bool { return false }

// CallsExtern implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) CallsExtern() bool { return false }

// OverwritesInput implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) OverwritesInput() int { return -1 }

// String implements the fmt.Stringer interface
func (l *logMeanExpDiffOp) String() string {
	return fmt.Sprintf("LogMeanExpDiff{axis=%d}()", l.op.axis)
}

// WriteHash implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) WriteHash(h hash.Hash) {
	fmt.Fprint(h, l.String())
}

// Hashcode implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) Hashcode() uint32 { return simpleHash(l) }

// Do implements the gorgonia.Op interface
func (l *logMeanExpDiffOp) Do(values ...G.Value) (G.Value, error) {
	if err := checkArity(l, len(values)); err != nil {
		return nil, fmt.Errorf("logmeanexp diff: %v", err)
	}

	in, ok := values[0].(tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("logmeanexp diff: expected a tensor "+
			"input but got %T", values[0])
	}
	data, err := valueFloats(values[0])
	if err != nil {
		return nil, fmt.Errorf("logmeanexp diff: %v", err)
	}
	gradData, err := valueFloats(values[1])
	if err != nil {
		return nil, fmt.Errorf("logmeanexp diff: %v", err)
	}

	lay := newReduceLayout(in.Shape(), l.op.axis)
	if len(gradData) != lay.outSize() {
		return nil, fmt.Errorf("logmeanexp diff: expected incoming "+
			"gradient with %d element(s) but got %d", lay.outSize(),
			len(gradData))
	}

	// d logmeanexp(x) / dx_i = softmax(x)_i along the reduced axis
	out := make([]float64, len(data))
	sums := make([]float64, lay.outSize())
	maxes := make([]float64, lay.outSize())
	for i := range maxes {
		maxes[i] = math.Inf(-1)
	}
	for i, v := range data {
		j := lay.outIndex(i)
		if v > maxes[j] {
			maxes[j] = v
		}
	}
	for i, v := range data {
		j := lay.outIndex(i)
		out[i] = math.Exp(v - maxes[j])
		sums[j] += out[i]
	}
	for i := range out {
		j := lay.outIndex(i)
		out[i] = out[i] / sums[j] * gradData[j]
	}

	return denseLike(out, in.Shape(), l.op.dt)
}

// reduceLayout describes the mapping from linear indices of a tensor
// to linear indices of the same tensor with one axis removed.
type reduceLayout struct {
	inShape  tensor.Shape
	outShape tensor.Shape
	axis     int
}

func newReduceLayout(shape tensor.Shape, axis int) *reduceLayout {
	out := make(tensor.Shape, 0, len(shape))
	out = append(out, shape[:axis]...)
	out = append(out, shape[axis+1:]...)
	if len(out) == 0 {
		out = tensor.Shape{1}
	}

	in := make(tensor.Shape, len(shape))
	copy(in, shape)
	return &reduceLayout{inShape: in, outShape: out, axis: axis}
}

func (r *reduceLayout) outSize() int {
	n := 1
	for _, d := range r.outShape {
		n *= d
	}
	return n
}

// outIndex maps a linear index into the input to the linear index of
// the reduced output element it contributes to.
func (r *reduceLayout) outIndex(i int) int {
	out := 0
	rem := i
	for ax := len(r.inShape) - 1; ax >= 0; ax-- {
		coord := rem % r.inShape[ax]
		rem /= r.inShape[ax]
		if ax == r.axis {
			continue
		}
		stride := 1
		for k := ax + 1; k < len(r.inShape); k++ {
			if k == r.axis {
				continue
			}
			stride *= r.inShape[k]
		}
		out += coord * stride
	}
	return out
}

// reduce computes log(mean(exp(x))) along the layout's axis, returning
// the reduced data in row-major order.
func (r *reduceLayout) reduce(data []float64) []float64 {
	n := r.outSize()
	maxes := make([]float64, n)
	for i := range maxes {
		maxes[i] = math.Inf(-1)
	}
	for i, v := range data {
		j := r.outIndex(i)
		if v > maxes[j] {
			maxes[j] = v
		}
	}

	sums := make([]float64, n)
	counts := make([]float64, n)
	for i, v := range data {
		j := r.outIndex(i)
		if !math.IsInf(maxes[j], -1) {
			sums[j] += math.Exp(v - maxes[j])
		}
		counts[j]++
	}

	out := make([]float64, n)
	for j := range out {
		if math.IsInf(maxes[j], -1) {
			// every term along the axis is -Inf
			out[j] = math.Inf(-1)
			continue
		}
		out[j] = maxes[j] + math.Log(sums[j]) - math.Log(counts[j])
	}
	return out
}
