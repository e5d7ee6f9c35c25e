package distribution

import (
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

const logRootTwoPi = 0.9189385332046727 // log(sqrt(2*pi))

// Normal is an elementwise univariate normal distribution,
// parameterized by a mean together with either std or logstd (mutually
// exclusive, exactly one required). The broadcast of the mean and
// spread shapes is the batch shape.
//
// Samples are reparameterized: a draw is mean + std * eps with
// parameter-free noise eps.
type Normal struct {
	baseDistribution

	mean   *tensor.Dense
	std    *tensor.Dense
	logstd *tensor.Dense

	// suppliedKey names the spread parameter given at construction;
	// only that tensor is shared by Copy, the other is re-derived.
	suppliedKey string

	batchShape tensor.Shape
}

// NewNormal returns a new Normal. Exactly one of std and logstd must
// be non-nil, and the spread must share the mean's dtype.
func NewNormal(mean, std, logstd *tensor.Dense,
	opts ...Option) (*Normal, error) {
	if mean == nil {
		return nil, errs.Configurationf("newNormal: `mean` must be specified")
	}
	if err := exactlyOne("std", std, "logstd", logstd); err != nil {
		return nil, err
	}

	n := &Normal{
		baseDistribution: baseDistribution{
			dtype:           mean.Dtype(),
			eventNdims:      0,
			minEventNdims:   0,
			continuous:      true,
			reparameterized: true,
			epsilon:         defaultEpsilon,
		},
		mean:   mean,
		std:    std,
		logstd: logstd,
	}
	if std != nil {
		n.suppliedKey = "std"
	} else {
		n.suppliedKey = "logstd"
	}

	if err := n.applyConfig(applyOptions(opts)); err != nil {
		return nil, err
	}

	spread := n.spread()
	if !isFloatDtype(mean.Dtype()) {
		return nil, errs.Configurationf("newNormal: expected mean to have a "+
			"float dtype but got %v", mean.Dtype())
	}
	if spread.Dtype() != mean.Dtype() {
		return nil, errs.Configurationf("newNormal: expected mean and %v to "+
			"have the same dtype but got %v and %v", n.suppliedKey,
			mean.Dtype(), spread.Dtype())
	}
	if n.dtype != mean.Dtype() {
		return nil, errs.Configurationf("newNormal: sample dtype %v differs "+
			"from parameter dtype %v", n.dtype, mean.Dtype())
	}

	var err error
	n.batchShape, err = tensorutil.BroadcastShape(mean.Shape(),
		spread.Shape())
	if err != nil {
		return nil, err
	}

	if err := n.validate("mean", mean); err != nil {
		return nil, err
	}
	if err := n.validate(n.suppliedKey, spread); err != nil {
		return nil, err
	}

	return n, nil
}

func (n *Normal) spread() *tensor.Dense {
	if n.suppliedKey == "std" {
		return n.std
	}
	return n.logstd
}

// Mean returns the mean parameter.
func (n *Normal) Mean() *tensor.Dense { return n.mean }

// Std returns the standard deviation, deriving it as exp(logstd) on
// first use.
func (n *Normal) Std() (*tensor.Dense, error) {
	if n.std != nil {
		return n.std, nil
	}

	var err error
	n.std, err = tensorutil.Exp(n.logstd)
	return n.std, err
}

// LogStd returns the log standard deviation, deriving it as log(std)
// on first use.
func (n *Normal) LogStd() (*tensor.Dense, error) {
	if n.logstd != nil {
		return n.logstd, nil
	}

	var err error
	n.logstd, err = tensorutil.Log(n.std)
	return n.logstd, err
}

// BatchShape returns the broadcast of the mean and spread shapes.
func (n *Normal) BatchShape() tensor.Shape { return n.batchShape }

// Sample draws mean + std * eps with eps ~ N(0, 1), with an optional
// leading sample axis.
func (n *Normal) Sample(nSamples, groupNdims int) (*StochasticTensor,
	error) {
	std, err := n.Std()
	if err != nil {
		return nil, err
	}

	shape := sampleShape(n.batchShape, nSamples)
	size := tensor.ProdInts([]int(shape))

	d := distuv.Normal{Mu: 0, Sigma: 1, Src: n.source}
	eps := make([]float64, size)
	for i := range eps {
		eps[i] = d.Rand()
	}
	epsT, err := tensorutil.FromFloat64s(eps, shape, n.dtype)
	if err != nil {
		return nil, err
	}

	scaled, err := tensorutil.Mul(epsT, std)
	if err != nil {
		return nil, err
	}
	out, err := tensorutil.Add(scaled, n.mean)
	if err != nil {
		return nil, err
	}
	if err := n.validate("sample", out); err != nil {
		return nil, err
	}

	return NewStochasticTensor(n, out, nSamples, groupNdims,
		n.reparameterized), nil
}

// LogProb computes the elementwise normal log-density
// -0.5*((x-mean)/std)^2 - logstd - log(sqrt(2*pi)) and sums the
// trailing EventNdims + groupNdims axes.
func (n *Normal) LogProb(given *tensor.Dense,
	groupNdims int) (*tensor.Dense, error) {
	if err := n.validate("given", given); err != nil {
		return nil, err
	}

	std, err := n.Std()
	if err != nil {
		return nil, err
	}
	logstd, err := n.LogStd()
	if err != nil {
		return nil, err
	}

	givenF, err := tensorutil.CastTo(given, n.mean.Dtype())
	if err != nil {
		return nil, err
	}

	diff, err := tensorutil.Sub(givenF, n.mean)
	if err != nil {
		return nil, err
	}
	z, err := tensorutil.Div(diff, std)
	if err != nil {
		return nil, err
	}
	z2, err := tensorutil.Mul(z, z)
	if err != nil {
		return nil, err
	}
	logProb, err := tensorutil.Scale(z2, -0.5)
	if err != nil {
		return nil, err
	}
	logProb, err = tensorutil.Sub(logProb, logstd)
	if err != nil {
		return nil, err
	}
	logProb, err = tensorutil.Shift(logProb, -logRootTwoPi)
	if err != nil {
		return nil, err
	}

	if err := checkReducible(logProb, n.eventNdims, groupNdims); err != nil {
		return nil, err
	}
	return tensorutil.SumTrailing(logProb, n.eventNdims+groupNdims)
}

// Copy returns a new Normal with the given attributes overridden. The
// mean and the originally supplied spread tensor are shared by
// reference; the derived spread is dropped and recomputed on demand.
func (n *Normal) Copy(opts ...Option) (Distribution, error) {
	out := &Normal{
		baseDistribution: n.baseDistribution,
		mean:             n.mean,
		suppliedKey:      n.suppliedKey,
		batchShape:       n.batchShape,
	}
	if n.suppliedKey == "std" {
		out.std = n.std
	} else {
		out.logstd = n.logstd
	}

	if err := out.applyConfig(applyOptions(opts)); err != nil {
		return nil, err
	}
	if out.dtype != n.mean.Dtype() {
		return nil, errs.Configurationf("copy: sample dtype %v differs from "+
			"parameter dtype %v", out.dtype, n.mean.Dtype())
	}
	return out, nil
}

// NewUnitNormal returns a Normal with zero mean and unit standard
// deviation of the given shape. The dtype defaults to tensor.Float64
// and may be overridden with WithDtype.
func NewUnitNormal(shape []int, opts ...Option) (*Normal, error) {
	dt := tensor.Float64
	if c := applyOptions(opts); c.dtype != nil {
		dt = *c.dtype
	}
	if !isFloatDtype(dt) {
		return nil, errs.Configurationf("newUnitNormal: dtype %v not "+
			"supported", dt)
	}

	size := tensor.ProdInts(shape)
	mean, err := tensorutil.FromFloat64s(make([]float64, size), shape, dt)
	if err != nil {
		return nil, err
	}
	ones := make([]float64, size)
	for i := range ones {
		ones[i] = 1.
	}
	std, err := tensorutil.FromFloat64s(ones, shape, dt)
	if err != nil {
		return nil, err
	}

	return NewNormal(mean, std, nil, opts...)
}
