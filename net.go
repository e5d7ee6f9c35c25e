// Package bayes provides a stochastic computation graph over named
// random variables: a BayesianNet records sampled or observed
// variables together with the distributions that produced them, and a
// VariationalChain pairs a variational net with a generative net to
// estimate variational objectives.
package bayes

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/distribution"
	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// BayesianNet is an ordered mapping from variable name to the
// stochastic tensor recorded under that name. Insertion order is part
// of the contract: it defines the default latent-variable order and
// the log-density summation order downstream.
//
// Names listed in the observed mapping are bound to the supplied
// values instead of being sampled when added; the distribution is
// still recorded for log-density computation.
type BayesianNet struct {
	observed map[string]*tensor.Dense
	vars     *orderedmap.OrderedMap[string, *distribution.StochasticTensor]
}

// NewNet returns an empty BayesianNet. observed may be nil.
func NewNet(observed map[string]*tensor.Dense) *BayesianNet {
	obs := make(map[string]*tensor.Dense, len(observed))
	for name, value := range observed {
		obs[name] = value
	}
	return &BayesianNet{
		observed: obs,
		vars: orderedmap.New[string, *distribution.StochasticTensor](),
	}
}

// Add records a variable under name. If name appears in the net's
// observed mapping, the observed value is bound directly without
// sampling; otherwise d.Sample(nSamples, groupNdims) draws the value.
// Adding a name twice returns ErrDuplicateName, and a failed add
// leaves the net unchanged.
func (b *BayesianNet) Add(name string, d distribution.Distribution,
	nSamples, groupNdims int) (*distribution.StochasticTensor, error) {
	if d == nil {
		return nil, errs.Configurationf("add: distribution for %q must "+
			"not be nil", name)
	}
	if _, ok := b.vars.Get(name); ok {
		return nil, errs.DuplicateNamef("add: variable %q was already "+
			"added", name)
	}

	var st *distribution.StochasticTensor
	if value, ok := b.observed[name]; ok {
		bound := value
		if value.Dtype() != d.Dtype() {
			var err error
			bound, err = tensorutil.CastTo(value, d.Dtype())
			if err != nil {
				return nil, err
			}
		}
		if d.ValidateTensors() {
			if err := tensorutil.RequireFinite(name, bound); err != nil {
				return nil, err
			}
		}
		// Observed values carry no sampling path, so gradients never
		// flow through them into the distribution's parameters.
		st = distribution.NewStochasticTensor(d, bound, nSamples,
			groupNdims, false)
	} else {
		var err error
		st, err = d.Sample(nSamples, groupNdims)
		if err != nil {
			return nil, err
		}
	}

	b.vars.Set(name, st)
	return st, nil
}

// Get returns the variable recorded under name.
func (b *BayesianNet) Get(name string) (*distribution.StochasticTensor,
	bool) {
	return b.vars.Get(name)
}

// Observed returns the externally supplied value for name, if any.
func (b *BayesianNet) Observed(name string) (*tensor.Dense, bool) {
	value, ok := b.observed[name]
	return value, ok
}

// IsObserved returns whether name was bound from the observed mapping.
func (b *BayesianNet) IsObserved(name string) bool {
	_, ok := b.observed[name]
	return ok
}

// Names returns the variable names in insertion order.
func (b *BayesianNet) Names() []string {
	names := make([]string, 0, b.vars.Len())
	for pair := b.vars.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Len returns the number of recorded variables.
func (b *BayesianNet) Len() int { return b.vars.Len() }

// LogProbs returns the log-density of each named variable, in the
// given order. Summing the results yields the joint log-density over
// those variables, provided the net was populated in conditional
// order.
func (b *BayesianNet) LogProbs(names []string) ([]*tensor.Dense, error) {
	out := make([]*tensor.Dense, len(names))
	for i, name := range names {
		st, ok := b.vars.Get(name)
		if !ok {
			return nil, errs.Configurationf("logProbs: variable %q was "+
				"never added", name)
		}

		var err error
		out[i], err = st.LogProb()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LogJoint sums the log-densities of the given variables, or of every
// variable in insertion order when names is nil.
func (b *BayesianNet) LogJoint(names []string) (*tensor.Dense, error) {
	if names == nil {
		names = b.Names()
	}
	logProbs, err := b.LogProbs(names)
	if err != nil {
		return nil, err
	}
	return tensorutil.AddN(logProbs)
}
