package distribution

import (
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/flow"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// FlowDistribution transforms a base distribution through an
// invertible flow. Sampling draws z from the base and pushes it
// through the flow's forward direction; the density follows the
// change-of-variables rule
//
//	log p(y) = log p_base(f^-1(y)) + logDet(f^-1)
//
// which, for a value produced by sampling, equals
// log p_base(z) - logDet(f) because the two log-determinants are exact
// negatives.
type FlowDistribution struct {
	baseDistribution

	base Distribution
	f    flow.Flow
}

// NewFlowDistribution wraps base with the invertible flow f. The
// flow's expected input event rank must equal the base distribution's
// event rank, and the base must be continuous.
func NewFlowDistribution(base Distribution, f flow.Flow,
	opts ...Option) (*FlowDistribution, error) {
	if base == nil || f == nil {
		return nil, errs.Configurationf("newFlowDistribution: base and " +
			"flow must not be nil")
	}
	if !base.Continuous() {
		return nil, errs.Configurationf("newFlowDistribution: base " +
			"distribution must be continuous")
	}
	if !f.ExplicitlyInvertible() {
		return nil, errs.Configurationf("newFlowDistribution: flow must " +
			"be explicitly invertible to support density computation")
	}
	if f.XEventNdims() != base.EventNdims() {
		return nil, errs.Configurationf("newFlowDistribution: flow expects "+
			"input event rank %v but the base distribution has event rank "+
			"%v", f.XEventNdims(), base.EventNdims())
	}

	d := &FlowDistribution{
		baseDistribution: baseDistribution{
			dtype:           base.Dtype(),
			eventNdims:      f.YEventNdims(),
			minEventNdims:   f.YEventNdims(),
			continuous:      true,
			reparameterized: base.Reparameterized(),
			epsilon:         defaultEpsilon,
			validateTensors: base.ValidateTensors(),
		},
		base: base,
		f:    f,
	}

	c := applyOptions(opts)
	if c.dtype != nil || c.eventNdims != nil || c.epsilon != nil {
		return nil, errs.Configurationf("newFlowDistribution: dtype, " +
			"eventNdims and epsilon are determined by the base " +
			"distribution and the flow")
	}
	if err := d.applyConfig(c); err != nil {
		return nil, err
	}

	return d, nil
}

// Base returns the wrapped distribution.
func (d *FlowDistribution) Base() Distribution { return d.base }

// Flow returns the wrapped flow.
func (d *FlowDistribution) Flow() flow.Flow { return d.f }

// Sample draws from the base distribution, applies the flow's forward
// transform, and records the transformed value together with its
// exact log-density.
func (d *FlowDistribution) Sample(nSamples, groupNdims int) (
	*StochasticTensor, error) {
	st, err := d.base.Sample(nSamples, 0)
	if err != nil {
		return nil, err
	}

	y, logDet, err := d.f.Forward(st.Tensor())
	if err != nil {
		return nil, err
	}
	baseLogProb, err := st.LogProbN(0)
	if err != nil {
		return nil, err
	}
	logProb, err := tensorutil.Sub(baseLogProb, logDet)
	if err != nil {
		return nil, err
	}
	logProb, err = reduceGroup(logProb, groupNdims)
	if err != nil {
		return nil, err
	}
	if err := d.validate("sample", y); err != nil {
		return nil, err
	}

	out := NewStochasticTensor(d, y, nSamples, groupNdims,
		d.reparameterized)
	out.cacheLogProb(groupNdims, logProb)
	return out, nil
}

// LogProb inverts the flow and applies the change-of-variables
// density adjustment, then folds groupNdims extra trailing axes.
func (d *FlowDistribution) LogProb(given *tensor.Dense,
	groupNdims int) (*tensor.Dense, error) {
	if err := d.validate("given", given); err != nil {
		return nil, err
	}

	x, logDet, err := d.f.Inverse(given)
	if err != nil {
		return nil, err
	}
	baseLogProb, err := d.base.LogProb(x, 0)
	if err != nil {
		return nil, err
	}
	logProb, err := tensorutil.Add(baseLogProb, logDet)
	if err != nil {
		return nil, err
	}
	return reduceGroup(logProb, groupNdims)
}

// Copy returns a new FlowDistribution sharing the base distribution
// and flow. Only the validation and sampling-source attributes may be
// overridden; everything else is determined by the composition.
func (d *FlowDistribution) Copy(opts ...Option) (Distribution, error) {
	c := applyOptions(opts)
	if c.dtype != nil || c.eventNdims != nil || c.epsilon != nil {
		return nil, errs.Configurationf("copy: dtype, eventNdims and " +
			"epsilon are determined by the base distribution and the flow")
	}

	out := &FlowDistribution{
		baseDistribution: d.baseDistribution,
		base:             d.base,
		f:                d.f,
	}
	if err := out.applyConfig(c); err != nil {
		return nil, err
	}
	return out, nil
}
