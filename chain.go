package bayes

import (
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/variational"
)

// GenerativeFunc builds a generative net from a mapping of observed
// values. The chain builder calls it once, with the variational net's
// latent samples merged into the observations.
type GenerativeFunc func(observed map[string]*tensor.Dense) (*BayesianNet,
	error)

// ChainOption configures chain construction.
type ChainOption func(*chainConfig)

type chainConfig struct {
	latentNames []string
	latentAxis  []int
}

// WithLatentNames restricts the latent variables to the given names.
// By default every variable of the variational net is latent.
func WithLatentNames(names ...string) ChainOption {
	return func(c *chainConfig) { c.latentNames = names }
}

// WithLatentAxis names the sampling axes of the latent variables,
// which the variational objectives reduce over.
func WithLatentAxis(axis ...int) ChainOption {
	return func(c *chainConfig) { c.latentAxis = axis }
}

// VariationalChain pairs a variational net q with a generative net p
// for variational inference. The joint log-densities are computed
// lazily and cached; the inputs are immutable after construction, so
// each cache is populated at most once.
type VariationalChain struct {
	p *BayesianNet
	q *BayesianNet

	latentNames []string
	latentAxis  []int

	logJoint       *tensor.Dense
	latentLogJoint *tensor.Dense
	vi             *variational.Inference
}

// NewVariationalChain pairs the generative net p with the variational
// net q. The latent names default to all of q's variables and must be
// a subset of them.
func NewVariationalChain(p, q *BayesianNet,
	opts ...ChainOption) (*VariationalChain, error) {
	if p == nil || q == nil {
		return nil, errs.Configurationf("newVariationalChain: p and q " +
			"must not be nil")
	}

	c := &chainConfig{}
	for _, opt := range opts {
		opt(c)
	}

	latentNames := c.latentNames
	if latentNames == nil {
		latentNames = q.Names()
	} else {
		for _, name := range latentNames {
			if _, ok := q.Get(name); !ok {
				return nil, errs.Configurationf("newVariationalChain: "+
					"latent name %q is not a variable of q", name)
			}
		}
	}

	return &VariationalChain{
		p:           p,
		q:           q,
		latentNames: latentNames,
		latentAxis:  c.latentAxis,
	}, nil
}

// Chain builds the generative net by calling fn with the given
// observations merged with this net's latent samples, then pairs the
// two nets. The receiver becomes the chain's variational net q.
func (b *BayesianNet) Chain(fn GenerativeFunc,
	observed map[string]*tensor.Dense,
	opts ...ChainOption) (*VariationalChain, error) {
	if fn == nil {
		return nil, errs.Configurationf("chain: generative function must " +
			"not be nil")
	}

	c := &chainConfig{}
	for _, opt := range opts {
		opt(c)
	}
	latentNames := c.latentNames
	if latentNames == nil {
		latentNames = b.Names()
	}

	merged := make(map[string]*tensor.Dense, len(observed)+len(latentNames))
	for name, value := range observed {
		merged[name] = value
	}
	for _, name := range latentNames {
		st, ok := b.Get(name)
		if !ok {
			return nil, errs.Configurationf("chain: latent name %q is not "+
				"a variable of q", name)
		}
		merged[name] = st.Tensor()
	}

	p, err := fn(merged)
	if err != nil {
		return nil, err
	}
	return NewVariationalChain(p, b, opts...)
}

// P returns the generative net.
func (v *VariationalChain) P() *BayesianNet { return v.p }

// Q returns the variational net.
func (v *VariationalChain) Q() *BayesianNet { return v.q }

// LatentNames returns the latent variable names.
func (v *VariationalChain) LatentNames() []string { return v.latentNames }

// LatentAxis returns the sampling axes of the latent variables, or
// nil.
func (v *VariationalChain) LatentAxis() []int { return v.latentAxis }

// LogJoint returns the joint log-density of the generative net over
// all of its variables, computed once and cached.
func (v *VariationalChain) LogJoint() (*tensor.Dense, error) {
	if v.logJoint != nil {
		return v.logJoint, nil
	}

	logJoint, err := v.p.LogJoint(nil)
	if err != nil {
		return nil, err
	}
	v.logJoint = logJoint
	return logJoint, nil
}

// LatentLogJoint returns the joint log-density of the latent variables
// under the variational net, computed once and cached.
func (v *VariationalChain) LatentLogJoint() (*tensor.Dense, error) {
	if v.latentLogJoint != nil {
		return v.latentLogJoint, nil
	}

	latentLogJoint, err := v.q.LogJoint(v.latentNames)
	if err != nil {
		return nil, err
	}
	v.latentLogJoint = latentLogJoint
	return latentLogJoint, nil
}

// VI returns the VariationalInference estimator for this chain,
// constructed once and cached.
func (v *VariationalChain) VI() (*variational.Inference, error) {
	if v.vi != nil {
		return v.vi, nil
	}

	logJoint, err := v.LogJoint()
	if err != nil {
		return nil, err
	}
	latentLogJoint, err := v.LatentLogJoint()
	if err != nil {
		return nil, err
	}

	vi, err := variational.NewInference(logJoint, latentLogJoint,
		v.latentAxis)
	if err != nil {
		return nil, err
	}
	v.vi = vi
	return vi, nil
}
