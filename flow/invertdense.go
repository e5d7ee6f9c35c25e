package flow

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/bayes/errs"
	"github.com/samuelfneumann/bayes/tensorutil"
)

// InvertibleDense is a learned invertible linear map over the feature
// axis: y = x·W for a square weight W. By default the weight is
// initialized to a random orthogonal matrix, so the initial
// log-determinant is zero.
//
// With the strict option, W is held in a fixed-determinant-sign LU
// parameterization W = P·L·U with diag(U) = sign·exp(logS), which is
// non-singular by construction: Inverse can never fail, whatever an
// optimizer does to the free parameters. Without it, W is stored
// directly and inversion may fail for a learned weight that happens to
// be singular.
type InvertibleDense struct {
	numFeatures int
	strict      bool

	// non-strict parameterization
	weight *mat.Dense

	// strict parameterization
	pMat  *mat.Dense // permutation
	lower *mat.Dense // unit lower triangular
	uOff  *mat.Dense // upper triangular, zero diagonal
	sign  []float64  // fixed at initialization
	logS  []float64
}

// InvertibleDenseOption configures an InvertibleDense.
type InvertibleDenseOption func(*invertibleDenseConfig)

type invertibleDenseConfig struct {
	strict   bool
	identity bool
	source   rand.Source
}

// WithStrict selects the non-singular-by-construction LU
// parameterization.
func WithStrict() InvertibleDenseOption {
	return func(c *invertibleDenseConfig) { c.strict = true }
}

// WithIdentityInit initializes the weight to the identity matrix
// instead of a random orthogonal matrix.
func WithIdentityInit() InvertibleDenseOption {
	return func(c *invertibleDenseConfig) { c.identity = true }
}

// WithInitSource sets the random source used for the orthogonal
// initialization.
func WithInitSource(src rand.Source) InvertibleDenseOption {
	return func(c *invertibleDenseConfig) { c.source = src }
}

// NewInvertibleDense returns a new InvertibleDense over numFeatures
// features.
func NewInvertibleDense(numFeatures int,
	opts ...InvertibleDenseOption) (*InvertibleDense, error) {
	if numFeatures < 1 {
		return nil, errs.Configurationf("newInvertibleDense: expected at "+
			"least one feature but got %v", numFeatures)
	}

	c := &invertibleDenseConfig{}
	for _, opt := range opts {
		opt(c)
	}

	var w *mat.Dense
	if c.identity {
		w = identityMatrix(numFeatures)
	} else {
		if c.source == nil {
			c.source = rand.NewSource(uint64(time.Now().UnixNano()))
		}
		w = randomOrthogonal(numFeatures, c.source)
	}

	d := &InvertibleDense{numFeatures: numFeatures, strict: c.strict}
	if !c.strict {
		d.weight = w
		return d, nil
	}
	if err := d.factorize(w); err != nil {
		return nil, err
	}
	return d, nil
}

func identityMatrix(n int) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		w.Set(i, i, 1.)
	}
	return w
}

// randomOrthogonal draws a random matrix with iid standard normal
// entries and returns the Q of its QR factorization.
func randomOrthogonal(n int, src rand.Source) *mat.Dense {
	d := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	data := make([]float64, n*n)
	for i := range data {
		data[i] = d.Rand()
	}

	var qr mat.QR
	qr.Factorize(mat.NewDense(n, n, data))
	q := &mat.Dense{}
	qr.QTo(q)
	return q
}

// factorize splits w into the strict P·L·U parameterization.
func (d *InvertibleDense) factorize(w *mat.Dense) error {
	n := d.numFeatures

	var lu mat.LU
	lu.Factorize(w)

	var l, u mat.TriDense
	lu.LTo(&l)
	lu.UTo(&u)

	d.pMat = mat.NewDense(n, n, nil)
	d.pMat.Permutation(n, lu.Pivot(nil))

	d.lower = mat.NewDense(n, n, nil)
	d.lower.Copy(&l)
	d.uOff = mat.NewDense(n, n, nil)
	d.uOff.Copy(&u)

	d.sign = make([]float64, n)
	d.logS = make([]float64, n)
	for i := 0; i < n; i++ {
		diag := u.At(i, i)
		if diag == 0 {
			return errs.Configurationf("factorize: initial weight is " +
				"singular")
		}
		if diag > 0 {
			d.sign[i] = 1.
		} else {
			d.sign[i] = -1.
		}
		d.logS[i] = math.Log(math.Abs(diag))
		d.uOff.Set(i, i, 0.)
	}

	return nil
}

// NumFeatures returns the feature count of the map.
func (d *InvertibleDense) NumFeatures() int { return d.numFeatures }

// Strict returns whether the weight is held in the
// non-singular-by-construction parameterization.
func (d *InvertibleDense) Strict() bool { return d.strict }

// Weight returns a copy of the assembled weight matrix.
func (d *InvertibleDense) Weight() *mat.Dense {
	w := &mat.Dense{}
	w.CloneFrom(d.assembleWeight())
	return w
}

// SetWeight replaces the weight of a non-strict map. Strict maps only
// expose their LU parameters, so the fixed determinant sign cannot be
// bypassed.
func (d *InvertibleDense) SetWeight(w *mat.Dense) error {
	if d.strict {
		return errs.Configurationf("setWeight: strict parameterization " +
			"does not accept a raw weight")
	}
	r, c := w.Dims()
	if r != d.numFeatures || c != d.numFeatures {
		return errs.ShapeMismatchf("setWeight: expected a %v x %v weight "+
			"but got %v x %v", d.numFeatures, d.numFeatures, r, c)
	}

	d.weight = &mat.Dense{}
	d.weight.CloneFrom(w)
	return nil
}

// LogScale returns the strict parameterization's log-scale diagonal.
// The returned slice is live parameter storage.
func (d *InvertibleDense) LogScale() []float64 { return d.logS }

func (d *InvertibleDense) assembleWeight() *mat.Dense {
	if !d.strict {
		return d.weight
	}

	n := d.numFeatures
	u := &mat.Dense{}
	u.CloneFrom(d.uOff)
	for i := 0; i < n; i++ {
		u.Set(i, i, d.sign[i]*math.Exp(d.logS[i]))
	}

	lu := &mat.Dense{}
	lu.Mul(d.lower, u)
	w := &mat.Dense{}
	w.Mul(d.pMat, lu)
	return w
}

// logAbsDet returns log|det W| per transformed event.
func (d *InvertibleDense) logAbsDet() (float64, error) {
	if d.strict {
		total := 0.
		for _, v := range d.logS {
			total += v
		}
		return total, nil
	}

	ld, sign := mat.LogDet(d.weight)
	if sign == 0 || math.IsInf(ld, -1) {
		return 0, fmt.Errorf("logAbsDet: weight matrix is singular")
	}
	return ld, nil
}

// apply multiplies the flattened input rows by m.
func (d *InvertibleDense) apply(t *tensor.Dense,
	m *mat.Dense) (*tensor.Dense, error) {
	data, err := tensorutil.Float64s(t)
	if err != nil {
		return nil, err
	}

	n := d.numFeatures
	rows := len(data) / n
	var out mat.Dense
	out.Mul(mat.NewDense(rows, n, data), m)

	flat := make([]float64, rows*n)
	for i := 0; i < rows; i++ {
		for j := 0; j < n; j++ {
			flat[i*n+j] = out.At(i, j)
		}
	}
	return tensorutil.FromFloat64s(flat, t.Shape(), t.Dtype())
}

func (d *InvertibleDense) XEventNdims() int           { return 1 }
func (d *InvertibleDense) YEventNdims() int           { return 1 }
func (d *InvertibleDense) ExplicitlyInvertible() bool { return true }

func (d *InvertibleDense) Forward(x *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	if err := checkFeatures("forward", x, d.numFeatures); err != nil {
		return nil, nil, err
	}

	y, err := d.apply(x, d.assembleWeight())
	if err != nil {
		return nil, nil, err
	}
	lad, err := d.logAbsDet()
	if err != nil {
		return nil, nil, err
	}
	logDet, err := constLogDet(batchShape(x.Shape(), 1), lad, x.Dtype())
	if err != nil {
		return nil, nil, err
	}
	return y, logDet, nil
}

func (d *InvertibleDense) Inverse(y *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	if err := checkFeatures("inverse", y, d.numFeatures); err != nil {
		return nil, nil, err
	}

	var inv mat.Dense
	if err := inv.Inverse(d.assembleWeight()); err != nil {
		return nil, nil, fmt.Errorf("inverse: %v", err)
	}

	x, err := d.apply(y, &inv)
	if err != nil {
		return nil, nil, err
	}
	lad, err := d.logAbsDet()
	if err != nil {
		return nil, nil, err
	}
	logDet, err := constLogDet(batchShape(y.Shape(), 1), -lad, y.Dtype())
	if err != nil {
		return nil, nil, err
	}
	return x, logDet, nil
}
