package distribution

import (
	"gorgonia.org/tensor"
)

// StochasticTensor is a sampled or observed value bound to the
// distribution that produced it, together with the sample-count and
// grouping metadata used when reducing its log-density.
//
// A StochasticTensor is immutable after creation except for its
// memoized log-densities, which are computed at most once per group
// rank.
type StochasticTensor struct {
	distribution    Distribution
	tensor          *tensor.Dense
	nSamples        int
	groupNdims      int
	reparameterized bool

	logProbs map[int]*tensor.Dense
}

// NewStochasticTensor binds value to the distribution that produced
// it. nSamples <= 0 means the value carries no leading sample axis.
func NewStochasticTensor(d Distribution, value *tensor.Dense, nSamples,
	groupNdims int, reparameterized bool) *StochasticTensor {
	if nSamples < 0 {
		nSamples = 0
	}
	return &StochasticTensor{
		distribution:    d,
		tensor:          value,
		nSamples:        nSamples,
		groupNdims:      groupNdims,
		reparameterized: reparameterized,
		logProbs:        make(map[int]*tensor.Dense),
	}
}

// Distribution returns the distribution that produced the value.
func (s *StochasticTensor) Distribution() Distribution {
	return s.distribution
}

// Tensor returns the sampled or observed value.
func (s *StochasticTensor) Tensor() *tensor.Dense { return s.tensor }

// NSamples returns the size of the leading sample axis, or 0 if the
// value carries none.
func (s *StochasticTensor) NSamples() int { return s.nSamples }

// GroupNdims returns the number of extra trailing axes folded into
// log-density reduction on top of the distribution's event rank.
func (s *StochasticTensor) GroupNdims() int { return s.groupNdims }

// Reparameterized returns whether gradients may flow through the value
// into the distribution's parameters.
func (s *StochasticTensor) Reparameterized() bool { return s.reparameterized }

// Shape returns the shape of the underlying value.
func (s *StochasticTensor) Shape() tensor.Shape { return s.tensor.Shape() }

// LogProb returns the log-density of the value under its own
// distribution, reduced with the group rank the value was created
// with. The result is memoized.
func (s *StochasticTensor) LogProb() (*tensor.Dense, error) {
	return s.LogProbN(s.groupNdims)
}

// LogProbN is LogProb with an explicit group rank.
func (s *StochasticTensor) LogProbN(groupNdims int) (*tensor.Dense, error) {
	if cached, ok := s.logProbs[groupNdims]; ok {
		return cached, nil
	}

	logProb, err := s.distribution.LogProb(s.tensor, groupNdims)
	if err != nil {
		return nil, err
	}
	s.logProbs[groupNdims] = logProb
	return logProb, nil
}

// cacheLogProb pre-populates the memoized log-density for a group
// rank. Used by distributions that obtain the density as a by-product
// of sampling.
func (s *StochasticTensor) cacheLogProb(groupNdims int, lp *tensor.Dense) {
	s.logProbs[groupNdims] = lp
}
