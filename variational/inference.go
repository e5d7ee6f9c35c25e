// Package variational provides estimators of variational training and
// evaluation objectives from a pair of joint log-densities: the
// generative net's log p(x,z) and the variational net's log q(z|x).
//
// All log-space reductions subtract the per-cell maximum before
// exponentiating, so large log-densities cannot overflow.
package variational

import (
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// Inference derives variational objectives from a joint log-density
// log p(x,z) and a latent log-density log q(z|x). The optional axis
// list names the sampling axes of the latent variables; those axes are
// reduced when forming the bounds.
type Inference struct {
	logJoint       *tensor.Dense
	latentLogJoint *tensor.Dense
	axis           []int
}

// NewInference returns a new Inference. axis may be nil, in which case
// no sampling axis is reduced.
func NewInference(logJoint, latentLogJoint *tensor.Dense,
	axis []int) (*Inference, error) {
	if logJoint == nil || latentLogJoint == nil {
		return nil, errs.Configurationf("newInference: logJoint and " +
			"latentLogJoint must not be nil")
	}
	if _, err := tensorutil.BroadcastShape(logJoint.Shape(),
		latentLogJoint.Shape()); err != nil {
		return nil, err
	}

	var owned []int
	if len(axis) > 0 {
		owned = make([]int, len(axis))
		copy(owned, axis)
	}
	return &Inference{
		logJoint:       logJoint,
		latentLogJoint: latentLogJoint,
		axis:           owned,
	}, nil
}

// LogJoint returns log p(x,z).
func (i *Inference) LogJoint() *tensor.Dense { return i.logJoint }

// LatentLogJoint returns log q(z|x).
func (i *Inference) LatentLogJoint() *tensor.Dense {
	return i.latentLogJoint
}

// Axis returns the sampling axes reduced by the estimators, or nil.
func (i *Inference) Axis() []int { return i.axis }

// diff returns the per-sample estimator log p(x,z) - log q(z|x).
func (i *Inference) diff() (*tensor.Dense, error) {
	return tensorutil.Sub(i.logJoint, i.latentLogJoint)
}

// ELBO computes the evidence lower bound
// E[log p(x,z) - log q(z|x)], averaging over the sampling axes when
// they are set.
func (i *Inference) ELBO() (*tensor.Dense, error) {
	d, err := i.diff()
	if err != nil {
		return nil, err
	}
	if len(i.axis) == 0 {
		return d, nil
	}
	return tensorutil.MeanAlong(d, i.axis)
}

// SGVB computes the stochastic-gradient variational Bayes training
// estimator, numerically identical to ELBO. Gradients flow only
// through reparameterized samples; variables drawn without
// reparameterization need a score-function surrogate supplied by the
// caller.
func (i *Inference) SGVB() (*tensor.Dense, error) {
	return i.ELBO()
}

// IWLogLikelihood computes the importance-weighted log-likelihood
// bound: logmeanexp over the sampling axes of
// log p(x,z) - log q(z|x). With a single sample on the axis it reduces
// to the plain ELBO; with more samples it is a tighter bound.
func (i *Inference) IWLogLikelihood() (*tensor.Dense, error) {
	d, err := i.diff()
	if err != nil {
		return nil, err
	}
	if len(i.axis) == 0 {
		return d, nil
	}
	return tensorutil.LogMeanExp(d, i.axis)
}
