package flow

import (
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// Conditioner computes the shift and pre-scale of a coupling layer's
// transformed half from its pass-through half. It is typically a small
// neural network owned by the caller; this package only requires the
// mapping.
type Conditioner interface {
	// ShiftAndPreScale maps the pass-through half x1, of shape
	// [..., n1], to a shift and a pre-scale of shape [..., n2] (or a
	// shape broadcastable to it).
	ShiftAndPreScale(x1 *tensor.Dense) (shift, preScale *tensor.Dense,
		err error)
}

// ConditionerFunc adapts a plain function to the Conditioner
// interface.
type ConditionerFunc func(x1 *tensor.Dense) (*tensor.Dense, *tensor.Dense,
	error)

func (f ConditionerFunc) ShiftAndPreScale(x1 *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	return f(x1)
}

// ScaleKind selects how a coupling layer's pre-scale is mapped to a
// positive scale factor.
type ScaleKind int

const (
	// ScaleExp uses scale = exp(preScale).
	ScaleExp ScaleKind = iota

	// ScaleSigmoid uses scale = sigmoid(preScale).
	ScaleSigmoid
)

func (s ScaleKind) String() string {
	switch s {
	case ScaleExp:
		return "exp"
	case ScaleSigmoid:
		return "sigmoid"
	}
	return "unknown"
}

// CouplingLayer partitions the last axis into two halves: the first
// half passes through unchanged and conditions an affine transform
// applied to the second half. The layer is exactly invertible because
// the inverse recovers the same conditioning input from the unchanged
// half.
type CouplingLayer struct {
	conditioner Conditioner
	scale       ScaleKind
}

// CouplingOption configures a CouplingLayer.
type CouplingOption func(*CouplingLayer)

// WithScaleKind selects the scale parameterization.
func WithScaleKind(kind ScaleKind) CouplingOption {
	return func(c *CouplingLayer) { c.scale = kind }
}

// NewCouplingLayer returns a new CouplingLayer driven by the given
// conditioner.
func NewCouplingLayer(conditioner Conditioner,
	opts ...CouplingOption) (*CouplingLayer, error) {
	if conditioner == nil {
		return nil, errs.Configurationf("newCouplingLayer: conditioner " +
			"must not be nil")
	}

	c := &CouplingLayer{conditioner: conditioner, scale: ScaleExp}
	for _, opt := range opts {
		opt(c)
	}
	if c.scale != ScaleExp && c.scale != ScaleSigmoid {
		return nil, errs.Configurationf("newCouplingLayer: unsupported "+
			"scale kind %v", c.scale)
	}
	return c, nil
}

func (c *CouplingLayer) XEventNdims() int           { return 1 }
func (c *CouplingLayer) YEventNdims() int           { return 1 }
func (c *CouplingLayer) ExplicitlyInvertible() bool { return true }

// splitLast splits t on its last axis into [..., :n1] and [..., n1:].
func splitLast(t *tensor.Dense, n1 int) (*tensor.Dense, *tensor.Dense,
	error) {
	d := t.Shape()[t.Dims()-1]
	n2 := d - n1

	data, err := tensorutil.Float64s(t)
	if err != nil {
		return nil, nil, err
	}

	rows := len(data) / d
	a := make([]float64, rows*n1)
	b := make([]float64, rows*n2)
	for r := 0; r < rows; r++ {
		copy(a[r*n1:(r+1)*n1], data[r*d:r*d+n1])
		copy(b[r*n2:(r+1)*n2], data[r*d+n1:(r+1)*d])
	}

	aShape := t.Shape().Clone()
	aShape[len(aShape)-1] = n1
	bShape := t.Shape().Clone()
	bShape[len(bShape)-1] = n2

	aT, err := tensorutil.FromFloat64s(a, aShape, t.Dtype())
	if err != nil {
		return nil, nil, err
	}
	bT, err := tensorutil.FromFloat64s(b, bShape, t.Dtype())
	if err != nil {
		return nil, nil, err
	}
	return aT, bT, nil
}

// concatLast concatenates a and b along their last axis.
func concatLast(a, b *tensor.Dense) (*tensor.Dense, error) {
	n1 := a.Shape()[a.Dims()-1]
	n2 := b.Shape()[b.Dims()-1]

	da, err := tensorutil.Float64s(a)
	if err != nil {
		return nil, err
	}
	db, err := tensorutil.Float64s(b)
	if err != nil {
		return nil, err
	}

	rows := len(da) / n1
	d := n1 + n2
	out := make([]float64, rows*d)
	for r := 0; r < rows; r++ {
		copy(out[r*d:r*d+n1], da[r*n1:(r+1)*n1])
		copy(out[r*d+n1:(r+1)*d], db[r*n2:(r+1)*n2])
	}

	shape := a.Shape().Clone()
	shape[len(shape)-1] = d
	return tensorutil.FromFloat64s(out, shape, a.Dtype())
}

// condition runs the conditioner on the pass-through half and returns
// the shift and elementwise log-scale, both broadcast to the shape of
// the transformed half.
func (c *CouplingLayer) condition(x1, x2 *tensor.Dense) (shift,
	logScale *tensor.Dense, err error) {
	shift, preScale, err := c.conditioner.ShiftAndPreScale(x1)
	if err != nil {
		return nil, nil, err
	}

	switch c.scale {
	case ScaleSigmoid:
		// log(sigmoid(p)) == -softplus(-p)
		neg, e := tensorutil.Neg(preScale)
		if e != nil {
			return nil, nil, e
		}
		sp, e := tensorutil.Softplus(neg)
		if e != nil {
			return nil, nil, e
		}
		logScale, err = tensorutil.Neg(sp)
	default:
		logScale = preScale
	}
	if err != nil {
		return nil, nil, err
	}

	// Broadcast the log-scale to the transformed half's shape so the
	// event-axis reduction below counts every transformed element.
	zeros, err := tensorutil.Scale(x2, 0)
	if err != nil {
		return nil, nil, err
	}
	logScale, err = tensorutil.Add(logScale, zeros)
	if err != nil {
		return nil, nil, err
	}
	if !logScale.Shape().Eq(x2.Shape()) {
		return nil, nil, errs.ShapeMismatchf("conditioner output shape %v "+
			"does not broadcast to the transformed half's shape %v",
			logScale.Shape(), x2.Shape())
	}

	return shift, logScale, nil
}

func (c *CouplingLayer) Forward(x *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	if x.Dims() < 1 || x.Shape()[x.Dims()-1] < 2 {
		return nil, nil, errs.ShapeMismatchf("forward: expected at least "+
			"two features on the last axis but got shape %v", x.Shape())
	}

	n1 := x.Shape()[x.Dims()-1] / 2
	x1, x2, err := splitLast(x, n1)
	if err != nil {
		return nil, nil, err
	}

	shift, logScale, err := c.condition(x1, x2)
	if err != nil {
		return nil, nil, err
	}
	scale, err := tensorutil.Exp(logScale)
	if err != nil {
		return nil, nil, err
	}

	y2, err := tensorutil.Mul(x2, scale)
	if err != nil {
		return nil, nil, err
	}
	y2, err = tensorutil.Add(y2, shift)
	if err != nil {
		return nil, nil, err
	}

	y, err := concatLast(x1, y2)
	if err != nil {
		return nil, nil, err
	}
	logDet, err := tensorutil.SumTrailing(logScale, 1)
	if err != nil {
		return nil, nil, err
	}
	return y, logDet, nil
}

func (c *CouplingLayer) Inverse(y *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	if y.Dims() < 1 || y.Shape()[y.Dims()-1] < 2 {
		return nil, nil, errs.ShapeMismatchf("inverse: expected at least "+
			"two features on the last axis but got shape %v", y.Shape())
	}

	n1 := y.Shape()[y.Dims()-1] / 2
	y1, y2, err := splitLast(y, n1)
	if err != nil {
		return nil, nil, err
	}

	shift, logScale, err := c.condition(y1, y2)
	if err != nil {
		return nil, nil, err
	}
	scale, err := tensorutil.Exp(logScale)
	if err != nil {
		return nil, nil, err
	}

	x2, err := tensorutil.Sub(y2, shift)
	if err != nil {
		return nil, nil, err
	}
	x2, err = tensorutil.Div(x2, scale)
	if err != nil {
		return nil, nil, err
	}

	x, err := concatLast(y1, x2)
	if err != nil {
		return nil, nil, err
	}
	logDet, err := tensorutil.SumTrailing(logScale, 1)
	if err != nil {
		return nil, nil, err
	}
	logDet, err = tensorutil.Neg(logDet)
	if err != nil {
		return nil, nil, err
	}
	return x, logDet, nil
}
