package op

import (
	"fmt"
	"hash"

	"golang.org/x/exp/rand"

	"github.com/chewxy/hm"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// BernoulliRand draws numSamples independent Bernoulli samples for
// each probability in probs. The output has shape
// [numSamples, probs.Shape()...] and the dtype of probs. Samples take
// the values 0 and 1.
//
// BernoulliRand is not differentiable.
func BernoulliRand(probs *G.Node, seed uint64,
	numSamples int) (*G.Node, error) {
	if probs == nil {
		return nil, fmt.Errorf("bernoullirand: probs cannot be nil")
	}
	if numSamples < 1 {
		return nil, fmt.Errorf("bernoullirand: numSamples must be "+
			"positive but got %d", numSamples)
	}
	dt, err := dtypeOf(probs.Type())
	if err != nil {
		return nil, fmt.Errorf("bernoullirand: %v", err)
	}

	op, err := newBernoulliSampleOp(dt, seed, numSamples,
		probs.Shape()...)
	if err != nil {
		return nil, fmt.Errorf("bernoullirand: %v", err)
	}
	return G.ApplyOp(op, probs)
}

type bernoulliSampleOp struct {
	dt         tensor.Dtype
	shape      tensor.Shape
	dist       distuv.Bernoulli
	source     rand.Source
	numSamples int
}

func newBernoulliSampleOp(dt tensor.Dtype, seed uint64, numSamples int,
	shape ...int) (*bernoulliSampleOp, error) {
	if dt != tensor.Float64 && dt != tensor.Float32 {
		return nil, fmt.Errorf("newBernoulliSampleOp: dtype %v not "+
			"supported", dt)
	}

	source := rand.NewSource(seed)

	return &bernoulliSampleOp{
		dt:     dt,
		shape:  tensor.Shape(shape),
		source: source,
		dist: distuv.Bernoulli{
			P:   0.5,
			Src: source,
		},
		numSamples: numSamples,
	}, nil
}

func (b *bernoulliSampleOp) Arity() int { return 1 }

func (b *bernoulliSampleOp) Type() hm.Type {
	in := G.TensorType{
		Dims: b.shape.Dims(),
		Of:   b.dt,
	}
	out := G.TensorType{
		Dims: b.shape.Dims() + 1,
		Of:   b.dt,
	}

	return hm.NewFnType(in, out)
}

func (b *bernoulliSampleOp) InferShape(...G.DimSizer) (tensor.Shape, error) {
	return append(tensor.Shape{b.numSamples}, b.shape...), nil
}

func (b *bernoulliSampleOp) ReturnsPtr() bool { return false }

func (b *bernoulliSampleOp) CallsExtern() bool { return false }

func (b *bernoulliSampleOp) OverwritesInput() int { return -1 }

func (b *bernoulliSampleOp) String() string {
	return fmt.Sprintf("BernoulliSample{shape=%v}()", b.shape)
}

func (b *bernoulliSampleOp) WriteHash(h hash.Hash) {
	fmt.Fprint(h, b.String())
}

func (b *bernoulliSampleOp) Hashcode() uint32 {
	return simpleHash(b)
}

func (b *bernoulliSampleOp) Do(inputs ...G.Value) (G.Value, error) {
	if err := b.checkInputs(inputs...); err != nil {
		return nil, fmt.Errorf("do: %v", err)
	}

	out := tensor.NewDense(
		b.dt,
		append([]int{b.numSamples}, b.shape...),
	)

	probs := inputs[0].(tensor.Tensor)

	for i := 0; i < probs.Size(); i++ {
		coords, err := tensor.Itol(i, probs.Shape(), probs.Strides())
		if err != nil {
			return nil, fmt.Errorf("do: could not get coords at index %v", i)
		}

		p, err := probs.At(coords...)
		if err != nil {
			return nil, fmt.Errorf("do: could not get probability at "+
				"index %v", i)
		}

		switch prob := p.(type) {
		case float64:
			b.dist.P = prob
		case float32:
			b.dist.P = float64(prob)
		}
		if b.dist.P < 0 || b.dist.P > 1 {
			return nil, fmt.Errorf("do: probability at index %v must be "+
				"in [0, 1] but got %v", i, b.dist.P)
		}

		outCoords := append([]int{0}, coords...)
		for j := 0; j < b.numSamples; j++ {
			outCoords[0] = j

			if b.dt == tensor.Float64 {
				out.SetAt(b.dist.Rand(), outCoords...)
			} else {
				out.SetAt(float32(b.dist.Rand()), outCoords...)
			}
		}
	}

	return out, nil
}

func (b *bernoulliSampleOp) checkInputs(inputs ...G.Value) error {
	if err := checkArity(b, len(inputs)); err != nil {
		return err
	}

	probs := inputs[0].(tensor.Tensor)
	if probs == nil {
		return fmt.Errorf("cannot sample from nil probabilities")
	} else if probs.Size() == 0 {
		return fmt.Errorf("cannot sample from empty probability tensor")
	} else if !probs.Shape().Eq(b.shape) {
		return fmt.Errorf("expected probabilities to have shape %v but "+
			"got %v", b.shape, probs.Shape())
	} else if !probs.Dtype().Eq(b.dt) {
		return fmt.Errorf("expected probabilities to have dtype %v but "+
			"got %v", b.dt, probs.Dtype())
	}

	return nil
}
