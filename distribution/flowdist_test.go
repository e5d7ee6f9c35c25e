package distribution

import (
	"errors"
	"math"
	"testing"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/flow"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// identityFlow returns an ActNorm left at its identity initialization.
func identityFlow(t *testing.T, numFeatures int) *flow.ActNorm {
	t.Helper()
	f, err := flow.NewActNorm(numFeatures, flow.WithoutDataInit())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFlowDistributionConstruction(t *testing.T) {
	base, err := NewUnitNormal([]int{4}, WithEventNdims(1))
	if err != nil {
		t.Fatal(err)
	}
	f := identityFlow(t, 4)

	if _, err := NewFlowDistribution(base, f); err != nil {
		t.Error(err)
	}

	// The base must be continuous.
	logits := tensor.NewDense(tensor.Float64, []int{4},
		tensor.WithBacking(make([]float64, 4)))
	bern, err := NewBernoulli(logits, nil, WithEventNdims(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFlowDistribution(bern, f); err == nil {
		t.Error("expected an error for a discrete base distribution")
	} else if !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration but got %v", err)
	}

	// The base's event rank must match the flow's input event rank.
	scalarBase, err := NewUnitNormal([]int{4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFlowDistribution(scalarBase, f); err == nil {
		t.Error("expected an error for mismatched event ranks")
	} else if !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration but got %v", err)
	}

	// Attributes pinned by the composition cannot be overridden.
	if _, err := NewFlowDistribution(base, f, WithEventNdims(2)); err == nil {
		t.Error("expected an error overriding the event rank")
	}
}

// TestFlowDistributionIdentity checks that wrapping with an identity
// flow changes neither samples nor densities.
func TestFlowDistributionIdentity(t *testing.T) {
	const threshold float64 = 1e-10

	base, err := NewUnitNormal([]int{3}, WithEventNdims(1), WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewFlowDistribution(base, identityFlow(t, 3))
	if err != nil {
		t.Fatal(err)
	}

	given := tensor.NewDense(tensor.Float64, []int{3},
		tensor.WithBacking([]float64{0.5, -1, 2}))

	baseLP, err := base.LogProb(given, 0)
	if err != nil {
		t.Fatal(err)
	}
	flowLP, err := d.LogProb(given, 0)
	if err != nil {
		t.Fatal(err)
	}

	want, err := tensorutil.Float64s(baseLP)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tensorutil.Float64s(flowLP)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[0]-want[0]) > threshold {
		t.Errorf("expected %v but got %v", want[0], got[0])
	}
}

// TestFlowDistributionScaled checks the change-of-variables adjustment
// for a known affine flow y = 2x.
func TestFlowDistributionScaled(t *testing.T) {
	const threshold float64 = 1e-10
	const d = 3

	base, err := NewUnitNormal([]int{d}, WithEventNdims(1), WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}
	f := identityFlow(t, d)
	for j := range f.Scale() {
		f.Scale()[j] = 2
	}

	dist, err := NewFlowDistribution(base, f)
	if err != nil {
		t.Fatal(err)
	}
	if dist.EventNdims() != 1 {
		t.Errorf("expected event rank 1 but got %v", dist.EventNdims())
	}

	y := tensor.NewDense(tensor.Float64, []int{d},
		tensor.WithBacking([]float64{1, -2, 0.5}))
	lp, err := dist.LogProb(y, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tensorutil.Float64s(lp)
	if err != nil {
		t.Fatal(err)
	}

	// log p(y) = log N(y/2; 0, 1) - d*log(2)
	x := []float64{0.5, -1, 0.25}
	want := 0.
	for _, v := range x {
		want += -0.5*v*v - logRootTwoPi
	}
	want -= d * math.Log(2)

	if math.Abs(got[0]-want) > threshold {
		t.Errorf("expected %v but got %v", want, got[0])
	}
}

// TestFlowDistributionSampleDensity checks that the density attached
// to a sample agrees with an independent LogProb of the same value.
func TestFlowDistributionSampleDensity(t *testing.T) {
	const threshold float64 = 1e-8
	const n = 7

	base, err := NewUnitNormal([]int{4}, WithEventNdims(1), WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}
	f := identityFlow(t, 4)
	for j := range f.Scale() {
		f.Scale()[j] = 0.5 + 0.25*float64(j)
		f.Bias()[j] = float64(j) - 1.5
	}

	dist, err := NewFlowDistribution(base, f)
	if err != nil {
		t.Fatal(err)
	}

	st, err := dist.Sample(n, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Shape().Eq(tensor.Shape{n, 4}) {
		t.Fatalf("expected shape [%d 4] but got %v", n, st.Shape())
	}

	cached, err := st.LogProb()
	if err != nil {
		t.Fatal(err)
	}
	recomputed, err := dist.LogProb(st.Tensor(), 0)
	if err != nil {
		t.Fatal(err)
	}

	got, err := tensorutil.Float64s(cached)
	if err != nil {
		t.Fatal(err)
	}
	want, err := tensorutil.Float64s(recomputed)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > threshold {
			t.Errorf("at %d: expected %v but got %v", i, want[i], got[i])
		}
	}
}

func TestFlowDistributionCopy(t *testing.T) {
	base, err := NewUnitNormal([]int{2}, WithEventNdims(1), WithSeed(11))
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewFlowDistribution(base, identityFlow(t, 2))
	if err != nil {
		t.Fatal(err)
	}

	c, err := d.Copy(WithValidation(true))
	if err != nil {
		t.Fatal(err)
	}
	cd := c.(*FlowDistribution)

	if !cd.ValidateTensors() {
		t.Error("expected validation to be enabled on the copy")
	}
	if cd.Base() != base {
		t.Error("expected the base distribution to be shared")
	}
	if cd.Flow() != d.Flow() {
		t.Error("expected the flow to be shared")
	}

	if _, err := d.Copy(WithEventNdims(2)); err == nil {
		t.Error("expected an error overriding the event rank")
	}
}
