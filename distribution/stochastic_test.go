package distribution

import (
	"math"
	"testing"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/tensorutil"
)

func TestStochasticTensorLogProbMemo(t *testing.T) {
	n, err := NewUnitNormal([]int{4}, WithEventNdims(1), WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}

	st, err := n.Sample(3, 0)
	if err != nil {
		t.Fatal(err)
	}

	first, err := st.LogProb()
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.LogProb()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the memoized log-density tensor on the second call")
	}

	// A different group rank is a different cache entry.
	grouped, err := st.LogProbN(1)
	if err != nil {
		t.Fatal(err)
	}
	if grouped == first {
		t.Error("expected a distinct tensor for a different group rank")
	}
	if !grouped.Shape().Eq(tensor.Shape{1}) {
		t.Errorf("expected shape [1] but got %v", grouped.Shape())
	}

	// The grouped value is the sum of the ungrouped one.
	flat, err := tensorutil.Float64s(first)
	if err != nil {
		t.Fatal(err)
	}
	total := 0.
	for _, v := range flat {
		total += v
	}
	got, err := tensorutil.Float64s(grouped)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[0]-total) > 1e-10 {
		t.Errorf("expected %v but got %v", total, got[0])
	}
}

func TestStochasticTensorAccessors(t *testing.T) {
	n, err := NewUnitNormal([]int{2}, WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}

	st, err := n.Sample(5, 1)
	if err != nil {
		t.Fatal(err)
	}

	if st.Distribution() != n {
		t.Error("expected the producing distribution back")
	}
	if st.NSamples() != 5 {
		t.Errorf("expected 5 samples but got %v", st.NSamples())
	}
	if st.GroupNdims() != 1 {
		t.Errorf("expected group rank 1 but got %v", st.GroupNdims())
	}
	if !st.Shape().Eq(st.Tensor().Shape()) {
		t.Error("expected Shape to mirror the underlying tensor")
	}

	// Negative sample counts normalize to zero.
	bound := NewStochasticTensor(n, st.Tensor(), -3, 0, false)
	if bound.NSamples() != 0 {
		t.Errorf("expected 0 samples but got %v", bound.NSamples())
	}
}
