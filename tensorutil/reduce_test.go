package tensorutil

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"gorgonia.org/tensor"
)

func TestSumTrailing(t *testing.T) {
	x := tensor.NewDense(
		tensor.Float64,
		[]int{2, 3},
		tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6}),
	)

	// ndims == 0 leaves the input untouched
	same, err := SumTrailing(x, 0)
	if err != nil {
		t.Fatal(err)
	}
	if same != x {
		t.Error("expected the input tensor back for a zero-axis reduction")
	}

	rows, err := SumTrailing(x, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !rows.Shape().Eq(tensor.Shape{2}) {
		t.Fatalf("expected shape [2] but got %v", rows.Shape())
	}
	got, err := Float64s(rows)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{6, 15} {
		if math.Abs(got[i]-want) > threshold {
			t.Errorf("at %d: expected %v but got %v", i, want, got[i])
		}
	}

	// Full reduction becomes a one-element vector.
	all, err := SumTrailing(x, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !all.Shape().Eq(tensor.Shape{1}) {
		t.Fatalf("expected shape [1] but got %v", all.Shape())
	}
	got, err = Float64s(all)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[0]-21) > threshold {
		t.Errorf("expected 21 but got %v", got[0])
	}

	if _, err := SumTrailing(x, 3); err == nil {
		t.Error("expected an error reducing more axes than the tensor has")
	}
}

func TestSumAndMeanAlong(t *testing.T) {
	x := tensor.NewDense(
		tensor.Float64,
		[]int{2, 3},
		tensor.WithBacking([]float64{1, 2, 3, 4, 5, 6}),
	)

	cols, err := SumAlong(x, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	if !cols.Shape().Eq(tensor.Shape{3}) {
		t.Fatalf("expected shape [3] but got %v", cols.Shape())
	}
	got, err := Float64s(cols)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{5, 7, 9} {
		if math.Abs(got[i]-want) > threshold {
			t.Errorf("at %d: expected %v but got %v", i, want, got[i])
		}
	}

	mean, err := MeanAlong(x, []int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if !mean.Shape().Eq(tensor.Shape{1}) {
		t.Fatalf("expected shape [1] but got %v", mean.Shape())
	}
	got, err = Float64s(mean)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[0]-3.5) > threshold {
		t.Errorf("expected 3.5 but got %v", got[0])
	}

	if _, err := SumAlong(x, []int{2}); err == nil {
		t.Error("expected an error for an out of range axis")
	}
	if _, err := SumAlong(x, nil); err == nil {
		t.Error("expected an error for no reduction axes")
	}
}

// TestLogSumExp compares against the naive computation at magnitudes
// where both are accurate. All tests are completely randomized.
func TestLogSumExp(t *testing.T) {
	const tests int = 20
	rand.Seed(time.Now().UnixNano())

	for i := 0; i < tests; i++ {
		rows := 1 + rand.Intn(4)
		cols := 1 + rand.Intn(6)

		backing := make([]float64, rows*cols)
		for j := range backing {
			backing[j] = rand.NormFloat64() * 3
		}
		x := tensor.NewDense(tensor.Float64, []int{rows, cols},
			tensor.WithBacking(backing))

		lse, err := LogSumExp(x, []int{1})
		if err != nil {
			t.Fatal(err)
		}
		got, err := Float64s(lse)
		if err != nil {
			t.Fatal(err)
		}

		for r := 0; r < rows; r++ {
			total := 0.
			for c := 0; c < cols; c++ {
				total += math.Exp(backing[r*cols+c])
			}
			want := math.Log(total)
			if math.Abs(got[r]-want) > 1e-9 {
				t.Errorf("row %d: expected %v but got %v", r, want, got[r])
			}
		}
	}
}

// TestLogMeanExpStable checks that a uniform offset large enough to
// overflow exp passes through the reduction exactly.
func TestLogMeanExpStable(t *testing.T) {
	const offset = 1000.

	backing := []float64{offset, offset + 1, offset - 1, offset + 0.5}
	x := tensor.NewDense(tensor.Float64, []int{4},
		tensor.WithBacking(backing))

	lme, err := LogMeanExp(x, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Float64s(lme)
	if err != nil {
		t.Fatal(err)
	}

	shifted := make([]float64, len(backing))
	for i, v := range backing {
		shifted[i] = v - offset
	}
	want := LogMeanExp64(shifted) + offset

	if math.IsInf(got[0], 0) || math.IsNaN(got[0]) {
		t.Fatalf("expected a finite result but got %v", got[0])
	}
	if math.Abs(got[0]-want) > 1e-9 {
		t.Errorf("expected %v but got %v", want, got[0])
	}
}

func TestLogMeanExpAllNegInf(t *testing.T) {
	x := tensor.NewDense(tensor.Float64, []int{3},
		tensor.WithBacking([]float64{math.Inf(-1), math.Inf(-1),
			math.Inf(-1)}))

	lme, err := LogMeanExp(x, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Float64s(lme)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(got[0], -1) {
		t.Errorf("expected -Inf but got %v", got[0])
	}

	if got := LogMeanExp64([]float64{math.Inf(-1)}); !math.IsInf(got, -1) {
		t.Errorf("expected -Inf but got %v", got)
	}
}

func TestLogMeanExp64(t *testing.T) {
	const tests int = 30
	rand.Seed(time.Now().UnixNano())

	for i := 0; i < tests; i++ {
		n := 1 + rand.Intn(10)
		xs := make([]float64, n)
		total := 0.
		for j := range xs {
			xs[j] = rand.NormFloat64() * 2
			total += math.Exp(xs[j])
		}
		want := math.Log(total / float64(n))

		if got := LogMeanExp64(xs); math.Abs(got-want) > 1e-9 {
			t.Errorf("expected %v but got %v", want, got)
		}
	}
}
