package op

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestBernoulliRand(t *testing.T) {
	const n = 500

	probs := []float64{0.1, 0.5, 0.9}
	probsT := tensor.NewDense(tensor.Float64, []int{len(probs)},
		tensor.WithBacking(probs))

	g := G.NewGraph()
	p := G.NewVector(g, probsT.Dtype(), G.WithValue(probsT))

	samples, err := BernoulliRand(p, uint64(11), n)
	if err != nil {
		t.Fatal(err)
	}
	var samplesVal G.Value
	G.Read(samples, &samplesVal)

	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	vm.Reset()
	vm.Close()

	out := samplesVal.(tensor.Tensor)
	if !out.Shape().Eq(tensor.Shape{n, len(probs)}) {
		t.Fatalf("expected shape [%d %d] but got %v", n, len(probs),
			out.Shape())
	}

	data := out.Data().([]float64)
	counts := make([]float64, len(probs))
	for i, v := range data {
		if v != 0 && v != 1 {
			t.Fatalf("expected 0/1 draws but got %v", v)
		}
		counts[i%len(probs)] += v
	}

	for j, want := range probs {
		freq := counts[j] / n
		stderr := math.Sqrt(want * (1 - want) / n)
		if math.Abs(freq-want) > 5*stderr {
			t.Errorf("probability %d: empirical frequency %v implausibly "+
				"far from %v", j, freq, want)
		}
	}
}

func TestBernoulliRandValidation(t *testing.T) {
	g := G.NewGraph()
	probsT := tensor.NewDense(tensor.Float64, []int{2},
		tensor.WithBacking([]float64{0.5, 0.5}))
	p := G.NewVector(g, probsT.Dtype(), G.WithValue(probsT))

	if _, err := BernoulliRand(nil, 11, 1); err == nil {
		t.Error("expected an error for a nil probability node")
	}
	if _, err := BernoulliRand(p, 11, 0); err == nil {
		t.Error("expected an error for a non-positive sample count")
	}
}

func TestBernoulliSampleOpChecks(t *testing.T) {
	if _, err := newBernoulliSampleOp(tensor.Int, 11, 1, 2); err == nil {
		t.Error("expected an error for an unsupported dtype")
	}

	op, err := newBernoulliSampleOp(tensor.Float64, 11, 3, 2)
	if err != nil {
		t.Fatal(err)
	}

	shape, err := op.InferShape()
	if err != nil {
		t.Fatal(err)
	}
	if !shape.Eq(tensor.Shape{3, 2}) {
		t.Errorf("expected shape [3 2] but got %v", shape)
	}

	// Out of range probabilities are rejected at run time.
	bad := tensor.NewDense(tensor.Float64, []int{2},
		tensor.WithBacking([]float64{0.5, 1.5}))
	if _, err := op.Do(bad); err == nil {
		t.Error("expected an error for a probability above 1")
	}
}
