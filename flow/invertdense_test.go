package flow

import (
	"math"
	"math/rand"
	"testing"
	"time"

	expRand "golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/tensorutil"
)

func TestInvertibleDenseIdentityInit(t *testing.T) {
	d, err := NewInvertibleDense(4, WithIdentityInit())
	if err != nil {
		t.Fatal(err)
	}

	x := tensor.NewDense(tensor.Float64, []int{4},
		tensor.WithBacking([]float64{1, 2, 3, 4}))
	y, logDet, err := d.Forward(x)
	if err != nil {
		t.Fatal(err)
	}

	got, err := tensorutil.Float64s(y)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{1, 2, 3, 4} {
		if math.Abs(got[i]-want) > threshold {
			t.Errorf("at %d: expected %v but got %v", i, want, got[i])
		}
	}

	ld, err := tensorutil.Float64s(logDet)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ld[0]) > threshold {
		t.Errorf("expected zero log-det but got %v", ld[0])
	}
}

// TestInvertibleDenseOrthogonalInit checks the initial log-det of a
// random orthogonal weight is zero.
func TestInvertibleDenseOrthogonalInit(t *testing.T) {
	for _, strict := range []bool{false, true} {
		opts := []InvertibleDenseOption{
			WithInitSource(expRand.NewSource(11)),
		}
		if strict {
			opts = append(opts, WithStrict())
		}

		d, err := NewInvertibleDense(5, opts...)
		if err != nil {
			t.Fatal(err)
		}
		if d.Strict() != strict {
			t.Errorf("expected strict=%v", strict)
		}

		lad, err := d.logAbsDet()
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(lad) > 1e-8 {
			t.Errorf("strict=%v: expected zero log-det for an orthogonal "+
				"weight but got %v", strict, lad)
		}
	}
}

// TestInvertibleDenseRoundTrip checks invertibility and log-det signs.
// All tests are completely randomized.
func TestInvertibleDenseRoundTrip(t *testing.T) {
	const tests int = 10
	rand.Seed(time.Now().UnixNano())

	for _, strict := range []bool{false, true} {
		for i := 0; i < tests; i++ {
			n := 1 + rand.Intn(5)
			rows := 1 + rand.Intn(4)

			opts := []InvertibleDenseOption{
				WithInitSource(expRand.NewSource(uint64(i + 11))),
			}
			if strict {
				opts = append(opts, WithStrict())
			}
			d, err := NewInvertibleDense(n, opts...)
			if err != nil {
				t.Fatal(err)
			}

			backing := make([]float64, rows*n)
			for j := range backing {
				backing[j] = rand.NormFloat64()
			}
			x := tensor.NewDense(tensor.Float64, []int{rows, n},
				tensor.WithBacking(backing))

			y, fwdDet, err := d.Forward(x)
			if err != nil {
				t.Fatal(err)
			}
			back, invDet, err := d.Inverse(y)
			if err != nil {
				t.Fatal(err)
			}

			got, err := tensorutil.Float64s(back)
			if err != nil {
				t.Fatal(err)
			}
			for j := range backing {
				if math.Abs(got[j]-backing[j]) > 1e-8 {
					t.Errorf("strict=%v at %d: expected %v but got %v",
						strict, j, backing[j], got[j])
				}
			}

			fd, err := tensorutil.Float64s(fwdDet)
			if err != nil {
				t.Fatal(err)
			}
			id, err := tensorutil.Float64s(invDet)
			if err != nil {
				t.Fatal(err)
			}
			for j := range fd {
				if math.Abs(fd[j]+id[j]) > 1e-8 {
					t.Errorf("strict=%v at %d: forward and inverse "+
						"log-dets do not negate: %v vs %v", strict, j,
						fd[j], id[j])
				}
			}
		}
	}
}

// TestInvertibleDenseStrictReassembly checks that the strict LU
// parameterization reassembles the weight it was factorized from.
func TestInvertibleDenseStrictReassembly(t *testing.T) {
	d, err := NewInvertibleDense(4, WithStrict(),
		WithInitSource(expRand.NewSource(11)))
	if err != nil {
		t.Fatal(err)
	}

	loose, err := NewInvertibleDense(4,
		WithInitSource(expRand.NewSource(11)))
	if err != nil {
		t.Fatal(err)
	}

	w := d.Weight()
	want := loose.Weight()
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(w.At(i, j)-want.At(i, j)) > 1e-10 {
				t.Errorf("at (%d, %d): expected %v but got %v", i, j,
					want.At(i, j), w.At(i, j))
			}
		}
	}
}

// TestInvertibleDenseStrictScale checks that mutating the log-scale
// parameters moves the log-det exactly.
func TestInvertibleDenseStrictScale(t *testing.T) {
	d, err := NewInvertibleDense(3, WithStrict(), WithIdentityInit())
	if err != nil {
		t.Fatal(err)
	}

	for i := range d.LogScale() {
		d.LogScale()[i] = 0.5
	}
	lad, err := d.logAbsDet()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lad-1.5) > threshold {
		t.Errorf("expected log-det 1.5 but got %v", lad)
	}
}

func TestInvertibleDenseSetWeight(t *testing.T) {
	d, err := NewInvertibleDense(2, WithIdentityInit())
	if err != nil {
		t.Fatal(err)
	}

	if err := d.SetWeight(mat.NewDense(2, 2,
		[]float64{2, 0, 0, 2})); err != nil {
		t.Fatal(err)
	}
	lad, err := d.logAbsDet()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(lad-2*math.Log(2)) > threshold {
		t.Errorf("expected log-det %v but got %v", 2*math.Log(2), lad)
	}

	if err := d.SetWeight(mat.NewDense(3, 3, nil)); err == nil {
		t.Error("expected an error for a wrongly sized weight")
	}

	strict, err := NewInvertibleDense(2, WithStrict(), WithIdentityInit())
	if err != nil {
		t.Fatal(err)
	}
	if err := strict.SetWeight(mat.NewDense(2, 2, nil)); err == nil {
		t.Error("expected an error setting a raw weight on a strict map")
	}

	// A singular weight makes non-strict inversion fail.
	if err := d.SetWeight(mat.NewDense(2, 2,
		[]float64{1, 1, 1, 1})); err != nil {
		t.Fatal(err)
	}
	y := tensor.NewDense(tensor.Float64, []int{2},
		tensor.WithBacking([]float64{1, 2}))
	if _, _, err := d.Inverse(y); err == nil {
		t.Error("expected an error inverting a singular weight")
	}
}
