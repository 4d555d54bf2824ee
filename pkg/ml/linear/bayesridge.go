package linear

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrNoSamples = errors.New("no samples to fit")

type Options struct {
	MaxIter int
	Tol     float64
	Alpha1  float64
	Alpha2  float64
	Lambda1 float64
	Lambda2 float64
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = 300
	}
	if o.Tol <= 0 {
		o.Tol = 1e-3
	}
	if o.Alpha1 <= 0 {
		o.Alpha1 = 1e-6
	}
	if o.Alpha2 <= 0 {
		o.Alpha2 = 1e-6
	}
	if o.Lambda1 <= 0 {
		o.Lambda1 = 1e-6
	}
	if o.Lambda2 <= 0 {
		o.Lambda2 = 1e-6
	}
	return o
}

// BayesianRidge is a linear model with Gaussian noise precision Alpha and a
// zero-mean Gaussian weight prior of precision Lambda, both estimated by
// evidence maximization under gamma hyper-priors.
type BayesianRidge struct {
	Coefficients []float64
	Intercept    float64
	Alpha        float64
	Lambda       float64
	Iterations   int

	opts    Options
	xOffset []float64
	sigma   *mat.Dense
}

func NewBayesianRidge(opts Options) *BayesianRidge {
	return &BayesianRidge{opts: opts.withDefaults()}
}

func (m *BayesianRidge) Fit(x *mat.Dense, y []float64) error {
	n, p := x.Dims()
	if n == 0 || p == 0 {
		return ErrNoSamples
	}
	if len(y) != n {
		return fmt.Errorf("have %d targets for %d samples", len(y), n)
	}

	m.xOffset = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, x)
		m.xOffset[j] = stat.Mean(col, nil)
	}
	yOffset := stat.Mean(y, nil)

	xc := mat.NewDense(n, p, nil)
	xc.Apply(func(_, j int, v float64) float64 { return v - m.xOffset[j] }, x)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-yOffset)
	}

	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return fmt.Errorf("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	k := len(s)
	eigen := make([]float64, k)
	for i, sv := range s {
		eigen[i] = sv * sv
	}
	uty := mat.NewVecDense(k, nil)
	uty.MulVec(u.T(), yc)

	variance := 0.0
	if n > 1 {
		variance = stat.Variance(y, nil) * float64(n-1) / float64(n)
	}
	alpha := 1 / (variance + eps)
	lambda := 1.0
	o := m.opts

	coefAt := func(alpha, lambda float64) *mat.VecDense {
		w := mat.NewVecDense(k, nil)
		for i := 0; i < k; i++ {
			w.SetVec(i, s[i]/(eigen[i]+lambda/alpha)*uty.AtVec(i))
		}
		coef := mat.NewVecDense(p, nil)
		coef.MulVec(&v, w)
		return coef
	}
	sse := func(coef *mat.VecDense) float64 {
		var fitted, resid mat.VecDense
		fitted.MulVec(xc, coef)
		resid.SubVec(yc, &fitted)
		return mat.Dot(&resid, &resid)
	}

	var coef, prev *mat.VecDense
	iter := 0
	for ; iter < o.MaxIter; iter++ {
		coef = coefAt(alpha, lambda)
		rmse := sse(coef)

		gamma := 0.0
		for _, e := range eigen {
			gamma += alpha * e / (lambda + alpha*e)
		}
		lambda = (gamma + 2*o.Lambda1) / (mat.Dot(coef, coef) + 2*o.Lambda2)
		alpha = (float64(n) - gamma + 2*o.Alpha1) / (rmse + 2*o.Alpha2)

		if prev != nil {
			var diff mat.VecDense
			diff.SubVec(prev, coef)
			if mat.Norm(&diff, 1) < o.Tol {
				break
			}
		}
		prev = coef
	}
	coef = coefAt(alpha, lambda)

	// Posterior covariance (alpha X'X + lambda I)^-1, including the null space of X.
	sigma := mat.NewDense(p, p, nil)
	for a := 0; a < p; a++ {
		for b := 0; b < p; b++ {
			var sum, proj float64
			for i := 0; i < k; i++ {
				va, vb := v.At(a, i), v.At(b, i)
				sum += va * vb / (alpha*eigen[i] + lambda)
				proj += va * vb
			}
			if a == b {
				proj = 1 - proj
			} else {
				proj = -proj
			}
			sigma.Set(a, b, sum+proj/lambda)
		}
	}

	m.Coefficients = make([]float64, p)
	intercept := yOffset
	for j := 0; j < p; j++ {
		m.Coefficients[j] = coef.AtVec(j)
		intercept -= m.xOffset[j] * m.Coefficients[j]
	}
	m.Intercept = intercept
	m.Alpha = alpha
	m.Lambda = lambda
	m.Iterations = iter
	m.sigma = sigma
	return nil
}

// Predict returns the posterior predictive mean and standard deviation per row.
func (m *BayesianRidge) Predict(x *mat.Dense) ([]float64, []float64, error) {
	if m.sigma == nil {
		return nil, nil, fmt.Errorf("model is not fitted")
	}
	n, p := x.Dims()
	if p != len(m.Coefficients) {
		return nil, nil, fmt.Errorf("have %d features, model expects %d", p, len(m.Coefficients))
	}
	means := make([]float64, n)
	stds := make([]float64, n)
	centered := mat.NewVecDense(p, nil)
	var tmp mat.VecDense
	for i := 0; i < n; i++ {
		mean := m.Intercept
		for j := 0; j < p; j++ {
			val := x.At(i, j)
			mean += val * m.Coefficients[j]
			centered.SetVec(j, val-m.xOffset[j])
		}
		tmp.MulVec(m.sigma, centered)
		variance := mat.Dot(centered, &tmp) + 1/m.Alpha
		means[i] = mean
		stds[i] = math.Sqrt(math.Max(variance, 0))
	}
	return means, stds, nil
}

const eps = 2.220446049250313e-16
