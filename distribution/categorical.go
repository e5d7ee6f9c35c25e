package distribution

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// Categorical is a distribution over class indices {0, ..., K-1},
// parameterized over the last axis of either logits or probs (mutually
// exclusive, exactly one required). The parameter shape minus its last
// axis is the batch shape; samples are class indices and carry no
// class axis.
//
// Samples are emitted as tensor.Int by default; WithDtype accepts
// tensor.Int, tensor.Float32 or tensor.Float64.
type Categorical struct {
	baseDistribution

	logits *tensor.Dense
	probs  *tensor.Dense

	// suppliedKey names the parameter given at construction; only
	// that tensor is shared by Copy, the other is re-derived.
	suppliedKey string

	nClasses int
}

// NewCategorical returns a new Categorical. Exactly one of logits and
// probs must be non-nil, with at least one axis.
func NewCategorical(logits, probs *tensor.Dense,
	opts ...Option) (*Categorical, error) {
	if err := exactlyOne("logits", logits, "probs", probs); err != nil {
		return nil, err
	}

	c := &Categorical{
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
		c.suppliedKey = "logits"
	} else {
		c.suppliedKey = "probs"
	}

	if err := c.applyConfig(applyOptions(opts)); err != nil {
		return nil, err
	}

	param := c.supplied()
	if param.Dims() < 1 {
		return nil, errs.Configurationf("newCategorical: %v must have at "+
			"least one axis", c.suppliedKey)
	}
	if !isFloatDtype(param.Dtype()) {
		return nil, errs.Configurationf("newCategorical: expected %v to "+
			"have a float dtype but got %v", c.suppliedKey, param.Dtype())
	}
	if c.dtype != tensor.Int && !isFloatDtype(c.dtype) {
		return nil, errs.Configurationf("newCategorical: sample dtype %v "+
			"not supported", c.dtype)
	}
	c.nClasses = param.Shape()[param.Dims()-1]
	if err := c.validate(c.suppliedKey, param); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Categorical) supplied() *tensor.Dense {
	if c.suppliedKey == "logits" {
		return c.logits
	}
	return c.probs
}

// NClasses returns the number of classes K.
func (c *Categorical) NClasses() int { return c.nClasses }

// BatchShape returns the parameter shape without its class axis.
func (c *Categorical) BatchShape() tensor.Shape {
	s := c.supplied().Shape()
	return s.Clone()[:len(s)-1]
}

// logSoftmax returns the elementwise log-softmax of the logits over
// the class axis, as a flat float64 slice.
func (c *Categorical) logSoftmax() ([]float64, error) {
	logitsT, err := c.Logits()
	if err != nil {
		return nil, err
	}
	logits, err := tensorutil.Float64s(logitsT)
	if err != nil {
		return nil, err
	}

	k := c.nClasses
	out := make([]float64, len(logits))
	for row := 0; row < len(logits); row += k {
		lse := tensorutil.LogMeanExp64(logits[row:row+k]) +
			math.Log(float64(k))
		for j := 0; j < k; j++ {
			out[row+j] = logits[row+j] - lse
		}
	}
	return out, nil
}

// Logits returns the unnormalized log-probabilities, deriving them as
// log(probs + eps) on first use.
func (c *Categorical) Logits() (*tensor.Dense, error) {
	if c.logits != nil {
		return c.logits, nil
	}

	p, err := tensorutil.Float64s(c.probs)
	if err != nil {
		return nil, err
	}
	logits := make([]float64, len(p))
	for i, v := range p {
		logits[i] = math.Log(v + c.epsilon)
	}

	c.logits, err = tensorutil.FromFloat64s(logits, c.probs.Shape(),
		c.probs.Dtype())
	return c.logits, err
}

// Probs returns the class probabilities, deriving them as
// softmax(logits) on first use.
func (c *Categorical) Probs() (*tensor.Dense, error) {
	if c.probs != nil {
		return c.probs, nil
	}

	ls, err := c.logSoftmax()
	if err != nil {
		return nil, err
	}
	p := make([]float64, len(ls))
	for i, v := range ls {
		p[i] = math.Exp(v)
	}

	c.probs, err = tensorutil.FromFloat64s(p, c.logits.Shape(),
		c.logits.Dtype())
	return c.probs, err
}

// Sample draws class indices, one per batch row, with an optional
// leading sample axis.
func (c *Categorical) Sample(nSamples, groupNdims int) (*StochasticTensor,
	error) {
	probsT, err := c.Probs()
	if err != nil {
		return nil, err
	}
	probs, err := tensorutil.Float64s(probsT)
	if err != nil {
		return nil, err
	}

	batch := c.BatchShape()
	batchSize := tensor.ProdInts([]int(batch))
	if batchSize == 0 {
		batchSize = 1
	}
	shape := sampleShape(batch, nSamples)
	if len(shape) == 0 {
		shape = tensor.Shape{1}
	}
	size := tensor.ProdInts([]int(shape))

	k := c.nClasses
	samplers := make([]distuv.Categorical, batchSize)
	for i := range samplers {
		samplers[i] = distuv.NewCategorical(probs[i*k:(i+1)*k], c.source)
	}

	draws := make([]float64, size)
	for i := 0; i < size; i++ {
		draws[i] = samplers[i%batchSize].Rand()
	}

	out, err := tensorutil.FromFloat64s(draws, shape, c.dtype)
	if err != nil {
		return nil, err
	}
	return NewStochasticTensor(c, out, nSamples, groupNdims,
		c.reparameterized), nil
}

// LogProb computes the elementwise log-mass of the given class
// indices under the log-softmax of the logits and sums the trailing
// EventNdims + groupNdims axes.
func (c *Categorical) LogProb(given *tensor.Dense,
	groupNdims int) (*tensor.Dense, error) {
	ls, err := c.logSoftmax()
	if err != nil {
		return nil, err
	}

	idx, err := tensorutil.Float64s(given)
	if err != nil {
		return nil, err
	}

	k := c.nClasses
	batchSize := len(ls) / k
	out := make([]float64, len(idx))
	for i, v := range idx {
		class := int(v)
		if class < 0 || class >= k {
			return nil, errs.Validationf("logProb: class index %v out of "+
				"range [0, %v)", class, k)
		}
		out[i] = ls[(i%batchSize)*k+class]
	}

	logProb, err := tensorutil.FromFloat64s(out, given.Shape(),
		c.supplied().Dtype())
	if err != nil {
		return nil, err
	}

	if err := checkReducible(logProb, c.eventNdims, groupNdims); err != nil {
		return nil, err
	}
	return tensorutil.SumTrailing(logProb, c.eventNdims+groupNdims)
}

// Copy returns a new Categorical with the given attributes overridden.
// The originally supplied parameter tensor is shared by reference; the
// derived one is dropped and recomputed on demand.
func (c *Categorical) Copy(opts ...Option) (Distribution, error) {
	out := &Categorical{
		baseDistribution: c.baseDistribution,
		suppliedKey:      c.suppliedKey,
		nClasses:         c.nClasses,
	}
	if c.suppliedKey == "logits" {
		out.logits = c.logits
	} else {
		out.probs = c.probs
	}

	if err := out.applyConfig(applyOptions(opts)); err != nil {
		return nil, err
	}
	return out, nil
}
