// Package op provides Gorgonia graph ops mirroring the eager numerics
// of this module, so gorgonia-based training loops can consume the
// same quantities symbolically: a numerically stable LogMeanExp
// reduction with an exact gradient, and a non-differentiable Bernoulli
// sampler.
package op

import (
	"fmt"
	"hash/fnv"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// simpleHash constructs the 32-bit FNV-1a hash of a Gorgonia Op.
// Taken from Gorgonia.
func simpleHash(op G.Op) uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

// checkArity verifies the number of inputs passed to an op.
func checkArity(op G.Op, inputs int) error {
	if inputs != op.Arity() && op.Arity() >= 0 {
		return fmt.Errorf("%v has an arity of %d. Got %d instead", op,
			op.Arity(), inputs)
	}
	return nil
}

// valueFloats extracts the elements of a Gorgonia value as a float64
// slice.
func valueFloats(v G.Value) ([]float64, error) {
	switch data := v.Data().(type) {
	case []float64:
		return data, nil
	case float64:
		return []float64{data}, nil
	case []float32:
		out := make([]float64, len(data))
		for i, f := range data {
			out[i] = float64(f)
		}
		return out, nil
	case float32:
		return []float64{float64(data)}, nil
	}
	return nil, fmt.Errorf("expected a float value but got %T", v.Data())
}

// denseLike builds a dense tensor of the given dtype and shape from
// float64 data.
func denseLike(data []float64, shape tensor.Shape,
	dt tensor.Dtype) (tensor.Tensor, error) {
	switch dt {
	case tensor.Float64:
		backing := make([]float64, len(data))
		copy(backing, data)
		return tensor.NewDense(dt, shape, tensor.WithBacking(backing)), nil
	case tensor.Float32:
		backing := make([]float32, len(data))
		for i, v := range data {
			backing[i] = float32(v)
		}
		return tensor.NewDense(dt, shape, tensor.WithBacking(backing)), nil
	}
	return nil, fmt.Errorf("dtype %v not supported", dt)
}
