// Package flow provides invertible transforms over gorgonia tensors
// with exact log-determinant-Jacobian tracking, for building
// flow-transformed distributions.
//
// Every flow satisfies the round-trip invariant: applying Forward then
// Inverse (or vice versa) reproduces the input up to floating-point
// tolerance, and the two returned log-determinants are exact negatives
// of each other.
package flow

import (
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// Flow is a bijective transform y = f(x).
type Flow interface {
	// XEventNdims returns the event rank expected on the x side.
	XEventNdims() int

	// YEventNdims returns the event rank produced on the y side.
	YEventNdims() int

	// ExplicitlyInvertible returns whether Inverse is supported.
	ExplicitlyInvertible() bool

	// Forward maps x to y and returns log|det(dy/dx)|-style
	// log-determinant terms, one per batch element (the input shape
	// with the event axes removed).
	Forward(x *tensor.Dense) (y, logDet *tensor.Dense, err error)

	// Inverse maps y back to x; the returned log-determinant is the
	// exact negative of Forward's.
	Inverse(y *tensor.Dense) (x, logDet *tensor.Dense, err error)
}

// batchShape strips the trailing event axes from shape. A fully
// consumed shape is represented as a one-element vector, matching the
// reduction convention used for log-densities.
func batchShape(shape tensor.Shape, eventNdims int) tensor.Shape {
	out := shape.Clone()[:len(shape)-eventNdims]
	if len(out) == 0 {
		out = tensor.Shape{1}
	}
	return out
}

// constLogDet builds a log-det tensor of the given batch shape filled
// with a constant per-element value.
func constLogDet(shape tensor.Shape, v float64,
	dt tensor.Dtype) (*tensor.Dense, error) {
	size := tensor.ProdInts([]int(shape))
	data := make([]float64, size)
	for i := range data {
		data[i] = v
	}
	return tensorutil.FromFloat64s(data, shape, dt)
}

// checkFeatures verifies that t has at least rank 1 and numFeatures
// elements on its last axis.
func checkFeatures(op string, t *tensor.Dense, numFeatures int) error {
	if t.Dims() < 1 {
		return errs.ShapeMismatchf("%v: expected input with at least one "+
			"axis but got shape %v", op, t.Shape())
	}
	if got := t.Shape()[t.Dims()-1]; got != numFeatures {
		return errs.ShapeMismatchf("%v: expected %v features on the last "+
			"axis but got %v", op, numFeatures, got)
	}
	return nil
}

// SequentialFlow composes child flows, applying them in list order on
// Forward and in reverse order on Inverse. Its log-determinant is the
// sum of the children's.
type SequentialFlow struct {
	flows []Flow
}

// NewSequentialFlow composes the given flows. Adjacent flows must have
// compatible event ranks (the y rank of one equals the x rank of the
// next).
func NewSequentialFlow(flows ...Flow) (*SequentialFlow, error) {
	if len(flows) == 0 {
		return nil, errs.Configurationf("newSequentialFlow: expected at " +
			"least one flow")
	}
	for i := 1; i < len(flows); i++ {
		prev, next := flows[i-1].YEventNdims(), flows[i].XEventNdims()
		if prev != next {
			return nil, errs.Configurationf("newSequentialFlow: flow %v "+
				"produces event rank %v but flow %v expects %v", i-1, prev,
				i, next)
		}
	}

	owned := make([]Flow, len(flows))
	copy(owned, flows)
	return &SequentialFlow{flows: owned}, nil
}

// Flows returns the child flows in application order.
func (s *SequentialFlow) Flows() []Flow { return s.flows }

func (s *SequentialFlow) XEventNdims() int { return s.flows[0].XEventNdims() }

func (s *SequentialFlow) YEventNdims() int {
	return s.flows[len(s.flows)-1].YEventNdims()
}

func (s *SequentialFlow) ExplicitlyInvertible() bool {
	for _, f := range s.flows {
		if !f.ExplicitlyInvertible() {
			return false
		}
	}
	return true
}

func (s *SequentialFlow) Forward(x *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	var logDet *tensor.Dense
	var err error

	for _, f := range s.flows {
		var ld *tensor.Dense
		x, ld, err = f.Forward(x)
		if err != nil {
			return nil, nil, err
		}
		if logDet == nil {
			logDet = ld
		} else if logDet, err = tensorutil.Add(logDet, ld); err != nil {
			return nil, nil, err
		}
	}

	return x, logDet, nil
}

func (s *SequentialFlow) Inverse(y *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	var logDet *tensor.Dense
	var err error

	for i := len(s.flows) - 1; i >= 0; i-- {
		var ld *tensor.Dense
		y, ld, err = s.flows[i].Inverse(y)
		if err != nil {
			return nil, nil, err
		}
		if logDet == nil {
			logDet = ld
		} else if logDet, err = tensorutil.Add(logDet, ld); err != nil {
			return nil, nil, err
		}
	}

	return y, logDet, nil
}
