package distribution

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// TestCategoricalProbs checks that probs derived from logits form a
// softmax. All tests are completely randomized.
func TestCategoricalProbs(t *testing.T) {
	const threshold float64 = 1e-10
	const tests int = 20
	rand.Seed(time.Now().UnixNano())

	for i := 0; i < tests; i++ {
		k := 2 + rand.Intn(5)
		backing := make([]float64, k)
		for j := range backing {
			backing[j] = rand.NormFloat64() * 2
		}
		logits := tensor.NewDense(tensor.Float64, []int{k},
			tensor.WithBacking(backing))

		c, err := NewCategorical(logits, nil)
		if err != nil {
			t.Fatal(err)
		}
		if c.NClasses() != k {
			t.Fatalf("expected %v classes but got %v", k, c.NClasses())
		}

		probsT, err := c.Probs()
		if err != nil {
			t.Fatal(err)
		}
		probs, err := tensorutil.Float64s(probsT)
		if err != nil {
			t.Fatal(err)
		}

		// Reference softmax
		total := 0.
		for _, l := range backing {
			total += math.Exp(l)
		}
		sum := 0.
		for j, l := range backing {
			want := math.Exp(l) / total
			if math.Abs(probs[j]-want) > threshold {
				t.Errorf("at %d: expected %v but got %v", j, want, probs[j])
			}
			sum += probs[j]
		}
		if math.Abs(sum-1) > threshold {
			t.Errorf("expected probs to sum to 1 but got %v", sum)
		}
	}
}

func TestCategoricalLogProb(t *testing.T) {
	logits := tensor.NewDense(tensor.Float64, []int{3},
		tensor.WithBacking([]float64{1, 2, 3}))
	c, err := NewCategorical(logits, nil)
	if err != nil {
		t.Fatal(err)
	}

	total := math.Exp(1) + math.Exp(2) + math.Exp(3)
	for class := 0; class < 3; class++ {
		given := tensor.NewDense(tensor.Int, []int{1},
			tensor.WithBacking([]int{class}))
		lp, err := c.LogProb(given, 0)
		if err != nil {
			t.Fatal(err)
		}
		got, err := tensorutil.Float64s(lp)
		if err != nil {
			t.Fatal(err)
		}

		want := float64(class+1) - math.Log(total)
		if math.Abs(got[0]-want) > 1e-10 {
			t.Errorf("class %d: expected %v but got %v", class, want, got[0])
		}
	}

	// Out of range class indices are rejected.
	bad := tensor.NewDense(tensor.Int, []int{1},
		tensor.WithBacking([]int{3}))
	if _, err := c.LogProb(bad, 0); err == nil {
		t.Error("expected an error for an out of range class index")
	} else if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation but got %v", err)
	}
}

func TestCategoricalScalarParam(t *testing.T) {
	scalar := tensor.New(tensor.FromScalar(0.5))
	if _, err := NewCategorical(scalar, nil); err == nil {
		t.Error("expected an error for a parameter with no class axis")
	}
}

// TestCategoricalSampleFrequencies draws from a uniform three-class
// distribution and checks the empirical frequencies.
func TestCategoricalSampleFrequencies(t *testing.T) {
	const n = 3000
	const k = 3

	logits := tensor.NewDense(tensor.Float64, []int{k},
		tensor.WithBacking(make([]float64, k)))
	c, err := NewCategorical(logits, nil, WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}

	st, err := c.Sample(n, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Shape().Eq(tensor.Shape{n}) {
		t.Fatalf("expected shape [%d] but got %v", n, st.Shape())
	}
	if st.Tensor().Dtype() != tensor.Int {
		t.Errorf("expected dtype %v but got %v", tensor.Int,
			st.Tensor().Dtype())
	}

	draws, err := tensorutil.Float64s(st.Tensor())
	if err != nil {
		t.Fatal(err)
	}
	counts := make([]float64, k)
	for _, v := range draws {
		class := int(v)
		if class < 0 || class >= k {
			t.Fatalf("draw %v out of range [0, %d)", v, k)
		}
		counts[class]++
	}

	p := 1. / float64(k)
	stderr := math.Sqrt(p * (1 - p) / float64(n))
	for class, count := range counts {
		freq := count / float64(n)
		if math.Abs(freq-p) > 5*stderr {
			t.Errorf("class %d frequency %v implausibly far from %v",
				class, freq, p)
		}
	}
}

func TestCategoricalCopy(t *testing.T) {
	probs := tensor.NewDense(tensor.Float64, []int{2, 3},
		tensor.WithBacking([]float64{0.2, 0.3, 0.5, 0.1, 0.1, 0.8}))

	c, err := NewCategorical(nil, probs)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Logits(); err != nil {
		t.Fatal(err)
	}

	cp, err := c.Copy(WithDtype(tensor.Float64))
	if err != nil {
		t.Fatal(err)
	}
	cc := cp.(*Categorical)

	if cc.Dtype() != tensor.Float64 {
		t.Errorf("expected dtype %v but got %v", tensor.Float64, cc.Dtype())
	}
	if cc.probs != probs {
		t.Error("expected the supplied probs tensor to be shared")
	}
	if cc.logits != nil {
		t.Error("expected the derived logits cache to be dropped on copy")
	}
	if cc.NClasses() != 3 {
		t.Errorf("expected 3 classes but got %v", cc.NClasses())
	}
}
