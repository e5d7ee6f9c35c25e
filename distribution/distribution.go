// Package distribution provides probability distributions over
// gorgonia tensors, with exact log-density computation, optional
// leading sample axes, and event-axis folding for use in stochastic
// computation graphs.
//
// Distributions are immutable after construction except for lazily
// cached derived parameters. Variants that accept two equivalent
// parameterizations (e.g. logits and probs) require exactly one of the
// pair at construction; the other is derived on demand and cached.
package distribution

import (
	"time"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// Distribution is a probability distribution over dense tensors.
type Distribution interface {
	// Dtype returns the data type of samples drawn from the
	// distribution.
	Dtype() tensor.Dtype

	// EventNdims returns the number of trailing axes treated as a
	// single event when reducing log-densities.
	EventNdims() int

	// MinEventNdims returns the smallest event rank the distribution
	// supports.
	MinEventNdims() int

	// Continuous returns whether the distribution is continuous.
	Continuous() bool

	// Reparameterized returns whether samples are expressible as a
	// differentiable deterministic function of the parameters and
	// parameter-free noise.
	Reparameterized() bool

	// ValidateTensors returns whether parameters and samples are
	// checked for non-finite values.
	ValidateTensors() bool

	// Sample draws samples from the distribution. If nSamples >= 1, a
	// leading axis of that size is prepended to the sample shape;
	// nSamples <= 0 draws a single un-batched sample. groupNdims
	// extra trailing axes are folded into log-density reduction on
	// top of EventNdims.
	Sample(nSamples, groupNdims int) (*StochasticTensor, error)

	// LogProb computes the log-density of given, summed over the
	// trailing EventNdims + groupNdims axes.
	LogProb(given *tensor.Dense, groupNdims int) (*tensor.Dense, error)

	// Copy returns a new distribution with the listed attributes
	// overridden and everything else, including the originally
	// supplied mutual parameter, shared with the receiver.
	Copy(opts ...Option) (Distribution, error)
}

// config collects the attribute overrides accepted at construction and
// by Copy. Unset fields leave the corresponding attribute at its
// default (or, for Copy, at the source distribution's value).
type config struct {
	dtype           *tensor.Dtype
	eventNdims      *int
	epsilon         *float64
	validateTensors *bool
	source          rand.Source
}

// Option overrides a single distribution attribute.
type Option func(*config)

// WithDtype sets the dtype of drawn samples. Only discrete variants
// accept a dtype differing from their parameter tensors.
func WithDtype(dt tensor.Dtype) Option {
	return func(c *config) { c.dtype = &dt }
}

// WithEventNdims sets the number of trailing axes reduced per
// log-density call.
func WithEventNdims(n int) Option {
	return func(c *config) { c.eventNdims = &n }
}

// WithEpsilon sets the numeric stability constant used when deriving
// mutual parameters.
func WithEpsilon(eps float64) Option {
	return func(c *config) { c.epsilon = &eps }
}

// WithValidation enables or disables non-finite value checks on
// parameters and samples.
func WithValidation(validate bool) Option {
	return func(c *config) { c.validateTensors = &validate }
}

// WithSource sets the random source used for sampling. Sources are
// injected rather than read from a process global, so deterministic
// callers inject a seeded source.
func WithSource(src rand.Source) Option {
	return func(c *config) { c.source = src }
}

// WithSeed is shorthand for WithSource(rand.NewSource(seed)).
func WithSeed(seed uint64) Option {
	return func(c *config) { c.source = rand.NewSource(seed) }
}

func applyOptions(opts []Option) *config {
	c := &config{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const defaultEpsilon = 1e-6

// baseDistribution carries the attributes shared by every variant.
type baseDistribution struct {
	dtype           tensor.Dtype
	eventNdims      int
	minEventNdims   int
	continuous      bool
	reparameterized bool
	epsilon         float64
	validateTensors bool
	source          rand.Source
}

func (b baseDistribution) Dtype() tensor.Dtype   { return b.dtype }
func (b baseDistribution) EventNdims() int       { return b.eventNdims }
func (b baseDistribution) MinEventNdims() int    { return b.minEventNdims }
func (b baseDistribution) Continuous() bool      { return b.continuous }
func (b baseDistribution) Reparameterized() bool { return b.reparameterized }
func (b baseDistribution) ValidateTensors() bool { return b.validateTensors }

// Epsilon returns the numeric stability constant used when deriving
// mutual parameters.
func (b baseDistribution) Epsilon() float64 { return b.epsilon }

// applyConfig overrides base attributes from a config, checking the
// event-rank invariant.
func (b *baseDistribution) applyConfig(c *config) error {
	if c.dtype != nil {
		b.dtype = *c.dtype
	}
	if c.eventNdims != nil {
		b.eventNdims = *c.eventNdims
	}
	if c.epsilon != nil {
		b.epsilon = *c.epsilon
	}
	if c.validateTensors != nil {
		b.validateTensors = *c.validateTensors
	}
	if c.source != nil {
		b.source = c.source
	}

	if b.eventNdims < b.minEventNdims {
		return errs.Configurationf("eventNdims must be >= %v but got %v",
			b.minEventNdims, b.eventNdims)
	}
	if b.source == nil {
		b.source = rand.NewSource(uint64(time.Now().UnixNano()))
	}
	return nil
}

// validate checks a parameter or sample tensor for non-finite values
// when validation is enabled.
func (b baseDistribution) validate(name string, t *tensor.Dense) error {
	if !b.validateTensors {
		return nil
	}
	return tensorutil.RequireFinite(name, t)
}

// reduceGroup folds groupNdims extra trailing axes on top of an
// already event-reduced log-density.
func reduceGroup(logProb *tensor.Dense,
	groupNdims int) (*tensor.Dense, error) {
	if groupNdims == 0 {
		return logProb, nil
	}
	return tensorutil.SumTrailing(logProb, groupNdims)
}

// checkReducible verifies that the trailing event and group axes to be
// reduced fit within the rank of the given tensor.
func checkReducible(given *tensor.Dense, eventNdims, groupNdims int) error {
	total := eventNdims + groupNdims
	if total < 0 || total > given.Dims() {
		return errs.Configurationf("cannot reduce %v trailing axes of a "+
			"rank %v tensor (eventNdims %v + groupNdims %v)", total,
			given.Dims(), eventNdims, groupNdims)
	}
	return nil
}

// isFloatDtype reports whether dt is a supported parameter dtype.
func isFloatDtype(dt tensor.Dtype) bool {
	return dt == tensor.Float64 || dt == tensor.Float32
}

// exactlyOne enforces the mutual-parameter contract: exactly one of a
// mutually exclusive pair must be supplied.
func exactlyOne(name1 string, t1 *tensor.Dense, name2 string,
	t2 *tensor.Dense) error {
	if (t1 == nil) == (t2 == nil) {
		return errs.Configurationf("either `%v` or `%v` must be specified, "+
			"but not both", name1, name2)
	}
	return nil
}

// sampleShape prepends the sample axis to the batch shape when
// nSamples >= 1.
func sampleShape(batch tensor.Shape, nSamples int) tensor.Shape {
	if nSamples <= 0 {
		return batch.Clone()
	}
	out := make(tensor.Shape, 0, len(batch)+1)
	out = append(out, nSamples)
	return append(out, batch...)
}
