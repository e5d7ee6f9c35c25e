package flow

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// ActNorm is a per-feature affine transform y = x*scale + bias over
// the last axis. Its parameters start at the identity and are
// data-initialized from the first mini-batch seen in training mode, so
// that batch comes out with zero mean and unit variance per feature.
// Initialization is one-shot: once it has happened the parameters are
// ordinary learned values and are never re-derived from data.
type ActNorm struct {
	numFeatures int
	scale       []float64
	bias        []float64

	initialized bool
	training    bool
}

// ActNormOption configures an ActNorm.
type ActNormOption func(*ActNorm)

// WithoutDataInit disables data-dependent initialization, leaving the
// parameters at the identity (scale 1, bias 0).
func WithoutDataInit() ActNormOption {
	return func(a *ActNorm) { a.initialized = true }
}

// NewActNorm returns a new ActNorm over numFeatures features.
func NewActNorm(numFeatures int, opts ...ActNormOption) (*ActNorm, error) {
	if numFeatures < 1 {
		return nil, errs.Configurationf("newActNorm: expected at least one "+
			"feature but got %v", numFeatures)
	}

	a := &ActNorm{
		numFeatures: numFeatures,
		scale:       make([]float64, numFeatures),
		bias:        make([]float64, numFeatures),
		training:    true,
	}
	for i := range a.scale {
		a.scale[i] = 1.
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// SetTraining switches training mode. Data-dependent initialization
// only triggers while training.
func (a *ActNorm) SetTraining(training bool) { a.training = training }

// Initialized returns whether the one-shot initialization has
// happened (or was disabled).
func (a *ActNorm) Initialized() bool { return a.initialized }

// Scale returns the per-feature scale parameters. The returned slice
// is the live parameter storage, mutated by external optimizers
// between passes.
func (a *ActNorm) Scale() []float64 { return a.scale }

// Bias returns the per-feature bias parameters, with the same sharing
// contract as Scale.
func (a *ActNorm) Bias() []float64 { return a.bias }

func (a *ActNorm) XEventNdims() int           { return 1 }
func (a *ActNorm) YEventNdims() int           { return 1 }
func (a *ActNorm) ExplicitlyInvertible() bool { return true }

// dataInit derives scale and bias from the batch so that it maps to
// zero mean and unit variance per feature.
func (a *ActNorm) dataInit(data []float64) {
	rows := len(data) / a.numFeatures
	col := make([]float64, rows)

	for j := 0; j < a.numFeatures; j++ {
		for i := 0; i < rows; i++ {
			col[i] = data[i*a.numFeatures+j]
		}

		mean := stat.Mean(col, nil)
		sd := 1.
		if rows > 1 {
			sd = stat.StdDev(col, nil)
			if sd < 1e-12 || math.IsNaN(sd) {
				sd = 1.
			}
		}

		a.scale[j] = 1. / sd
		a.bias[j] = -mean / sd
	}

	a.initialized = true
}

// sumLogScale is the per-event log-determinant contribution.
func (a *ActNorm) sumLogScale() float64 {
	total := 0.
	for _, s := range a.scale {
		total += math.Log(math.Abs(s))
	}
	return total
}

func (a *ActNorm) Forward(x *tensor.Dense) (*tensor.Dense, *tensor.Dense,
	error) {
	if err := checkFeatures("forward", x, a.numFeatures); err != nil {
		return nil, nil, err
	}

	data, err := tensorutil.Float64s(x)
	if err != nil {
		return nil, nil, err
	}
	if !a.initialized && a.training {
		a.dataInit(data)
	}

	out := make([]float64, len(data))
	for i, v := range data {
		j := i % a.numFeatures
		out[i] = v*a.scale[j] + a.bias[j]
	}

	y, err := tensorutil.FromFloat64s(out, x.Shape(), x.Dtype())
	if err != nil {
		return nil, nil, err
	}
	logDet, err := constLogDet(batchShape(x.Shape(), 1), a.sumLogScale(),
		x.Dtype())
	if err != nil {
		return nil, nil, err
	}
	return y, logDet, nil
}

func (a *ActNorm) Inverse(y *tensor.Dense) (*tensor.Dense, *tensor.Dense,
	error) {
	if err := checkFeatures("inverse", y, a.numFeatures); err != nil {
		return nil, nil, err
	}

	data, err := tensorutil.Float64s(y)
	if err != nil {
		return nil, nil, err
	}

	out := make([]float64, len(data))
	for i, v := range data {
		j := i % a.numFeatures
		out[i] = (v - a.bias[j]) / a.scale[j]
	}

	x, err := tensorutil.FromFloat64s(out, y.Shape(), y.Dtype())
	if err != nil {
		return nil, nil, err
	}
	logDet, err := constLogDet(batchShape(y.Shape(), 1), -a.sumLogScale(),
		y.Dtype())
	if err != nil {
		return nil, nil, err
	}
	return x, logDet, nil
}
