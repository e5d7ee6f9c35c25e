package distribution

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// Bernoulli is an elementwise Bernoulli distribution, parameterized by
// either logits or probs (mutually exclusive, exactly one required).
// Each element of the parameter tensor defines an independent
// distribution; the parameter shape is the batch shape.
//
// Samples are emitted as tensor.Int by default; WithDtype accepts
// tensor.Int, tensor.Float32 or tensor.Float64.
type Bernoulli struct {
	baseDistribution

	logits *tensor.Dense
	probs  *tensor.Dense

	// suppliedKey names the parameter given at construction; only
	// that tensor is shared by Copy, the other is always re-derived.
	suppliedKey string
}

// NewBernoulli returns a new Bernoulli. Exactly one of logits and
// probs must be non-nil.
func NewBernoulli(logits, probs *tensor.Dense,
	opts ...Option) (*Bernoulli, error) {
	if err := exactlyOne("logits", logits, "probs", probs); err != nil {
		return nil, err
	}

	b := &Bernoulli{
		baseDistribution: baseDistribution{
			dtype:           tensor.Int,
			eventNdims:      0,
			minEventNdims:   0,
			continuous:      false,
			reparameterized: false,
			epsilon:         defaultEpsilon,
		},
		logits: logits,
		probs:  probs,
	}
	if logits != nil {
		b.suppliedKey = "logits"
	} else {
		b.suppliedKey = "probs"
	}

	if err := b.applyConfig(applyOptions(opts)); err != nil {
		return nil, err
	}

	param := b.supplied()
	if !isFloatDtype(param.Dtype()) {
		return nil, errs.Configurationf("newBernoulli: expected %v to have "+
			"a float dtype but got %v", b.suppliedKey, param.Dtype())
	}
	if b.dtype != tensor.Int && !isFloatDtype(b.dtype) {
		return nil, errs.Configurationf("newBernoulli: sample dtype %v not "+
			"supported", b.dtype)
	}
	if err := b.validate(b.suppliedKey, param); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Bernoulli) supplied() *tensor.Dense {
	if b.suppliedKey == "logits" {
		return b.logits
	}
	return b.probs
}

// Logits returns the log-odds parameter, deriving it from probs as
// log(p + eps) - log(1 - p + eps) on first use.
func (b *Bernoulli) Logits() (*tensor.Dense, error) {
	if b.logits != nil {
		return b.logits, nil
	}

	p, err := tensorutil.Float64s(b.probs)
	if err != nil {
		return nil, err
	}
	logits := make([]float64, len(p))
	for i, v := range p {
		logits[i] = math.Log(v+b.epsilon) - math.Log(1.-v+b.epsilon)
	}

	b.logits, err = tensorutil.FromFloat64s(logits, b.probs.Shape(),
		b.probs.Dtype())
	return b.logits, err
}

// Probs returns the success-probability parameter, deriving it as
// sigmoid(logits) on first use.
func (b *Bernoulli) Probs() (*tensor.Dense, error) {
	if b.probs != nil {
		return b.probs, nil
	}

	var err error
	b.probs, err = tensorutil.Sigmoid(b.logits)
	return b.probs, err
}

// BatchShape returns the shape of the parameter tensor.
func (b *Bernoulli) BatchShape() tensor.Shape {
	return b.supplied().Shape()
}

// Sample draws 0/1 valued samples, one per parameter element, with an
// optional leading sample axis.
func (b *Bernoulli) Sample(nSamples, groupNdims int) (*StochasticTensor,
	error) {
	probsT, err := b.Probs()
	if err != nil {
		return nil, err
	}
	probs, err := tensorutil.Float64s(probsT)
	if err != nil {
		return nil, err
	}

	shape := sampleShape(b.BatchShape(), nSamples)
	size := tensor.ProdInts([]int(shape))
	batchSize := len(probs)

	draws := make([]float64, size)
	d := distuv.Bernoulli{Src: b.source}
	for i := 0; i < size; i++ {
		d.P = probs[i%batchSize]
		draws[i] = d.Rand()
	}

	out, err := tensorutil.FromFloat64s(draws, shape, b.dtype)
	if err != nil {
		return nil, err
	}
	if err := b.validate("sample", out); err != nil {
		return nil, err
	}

	return NewStochasticTensor(b, out, nSamples, groupNdims,
		b.reparameterized), nil
}

// LogProb computes the elementwise Bernoulli log-mass
// given*logits - softplus(logits) and sums the trailing
// EventNdims + groupNdims axes.
func (b *Bernoulli) LogProb(given *tensor.Dense,
	groupNdims int) (*tensor.Dense, error) {
	if err := b.validate("given", given); err != nil {
		return nil, err
	}

	logits, err := b.Logits()
	if err != nil {
		return nil, err
	}

	givenF, err := tensorutil.CastTo(given, logits.Dtype())
	if err != nil {
		return nil, err
	}

	xl, err := tensorutil.Mul(givenF, logits)
	if err != nil {
		return nil, err
	}
	sp, err := tensorutil.Softplus(logits)
	if err != nil {
		return nil, err
	}
	logProb, err := tensorutil.Sub(xl, sp)
	if err != nil {
		return nil, err
	}

	if err := checkReducible(logProb, b.eventNdims, groupNdims); err != nil {
		return nil, err
	}
	return tensorutil.SumTrailing(logProb, b.eventNdims+groupNdims)
}

// Copy returns a new Bernoulli with the given attributes overridden.
// The originally supplied parameter tensor is shared by reference; the
// derived one is dropped and recomputed on demand, so an epsilon
// override can never observe a stale cache.
func (b *Bernoulli) Copy(opts ...Option) (Distribution, error) {
	out := &Bernoulli{
		baseDistribution: b.baseDistribution,
		suppliedKey:      b.suppliedKey,
	}
	if b.suppliedKey == "logits" {
		out.logits = b.logits
	} else {
		out.probs = b.probs
	}

	if err := out.applyConfig(applyOptions(opts)); err != nil {
		return nil, err
	}
	return out, nil
}
