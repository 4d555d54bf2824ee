// Package impute fills longitudinal gaps with round-robin Bayesian-ridge
// multiple imputation.
package impute

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/synaptica-ai/halo/pkg/common/logger"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/ml/linear"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// IndicatorSuffix is appended to a column name to form its 0/1 imputation flag.
const IndicatorSuffix = "_mice_imputed"

type Options struct {
	MaxIter         int            `yaml:"max_iter" json:"max_iter"`
	Tol             float64        `yaml:"tol" json:"tol"`
	SamplePosterior bool           `yaml:"sample_posterior" json:"sample_posterior"`
	Ridge           linear.Options `yaml:"-" json:"-"`
}

func DefaultOptions() Options {
	return Options{MaxIter: 8, Tol: 1e-3, SamplePosterior: true}
}

type Imputer struct {
	opts Options
}

func NewImputer(opts Options) *Imputer {
	if opts.MaxIter <= 0 {
		opts.MaxIter = 8
	}
	if opts.Tol <= 0 {
		opts.Tol = 1e-3
	}
	return &Imputer{opts: opts}
}

// Result carries the imputed table together with the mask taken before any
// value was filled and the names of the appended indicator columns.
type Result struct {
	Table      *dataset.Table
	Mask       dataset.Mask
	Indicators []string
	Rounds     int
}

// Columns returns the longitudinal numeric columns of t in table order.
func Columns(t *dataset.Table) []string {
	var cols []string
	for _, c := range t.Columns() {
		if c.Kind == dataset.Numeric && dataset.IsLongitudinal(c.Name) {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// FitTransform imputes every longitudinal numeric column of in. The input is
// not modified. Columns with no observed value are left out of the joint
// model and filled with 0.
func (im *Imputer) FitTransform(rng *rand.Rand, in *dataset.Table) (*Result, error) {
	start := time.Now()
	out := in.Clone()
	cols := Columns(out)
	mask, err := dataset.NewMask(out, cols)
	if err != nil {
		return nil, fmt.Errorf("building mask: %w", err)
	}

	n := out.NumRows()
	var model []int
	for i, name := range cols {
		values, _ := out.Floats(name)
		if missingCount(mask.Missing[i]) == n {
			for r := range values {
				values[r] = 0
			}
			continue
		}
		model = append(model, i)
	}

	rounds := 0
	if len(model) > 0 && n > 0 {
		rounds, err = im.impute(rng, out, cols, mask, model)
		if err != nil {
			return nil, err
		}
	}

	indicators := make([]string, len(cols))
	for i, name := range cols {
		flags := make([]float64, n)
		for r, missing := range mask.Missing[i] {
			if missing {
				flags[r] = 1
			}
		}
		indicators[i] = name + IndicatorSuffix
		if err := out.AddNumeric(indicators[i], flags); err != nil {
			return nil, err
		}
	}

	logger.WithStage("impute").WithFields(map[string]interface{}{
		"columns":  len(cols),
		"modeled":  len(model),
		"missing":  mask.Count(),
		"rounds":   rounds,
		"duration": time.Since(start).String(),
	}).Info("Imputed longitudinal columns")
	return &Result{Table: out, Mask: mask, Indicators: indicators, Rounds: rounds}, nil
}

func (im *Imputer) impute(rng *rand.Rand, out *dataset.Table, cols []string, mask dataset.Mask, model []int) (int, error) {
	n, p := out.NumRows(), len(model)
	x := mat.NewDense(n, p, nil)
	missing := make([][]bool, p)
	limit := 0.0
	for j, ci := range model {
		values, _ := out.Floats(cols[ci])
		missing[j] = mask.Missing[ci]
		observed := make([]float64, 0, n)
		for r, v := range values {
			if !missing[j][r] {
				observed = append(observed, v)
				limit = math.Max(limit, math.Abs(v))
			}
		}
		mean := stat.Mean(observed, nil)
		for r, v := range values {
			if missing[j][r] {
				v = mean
			}
			x.Set(r, j, v)
		}
	}

	// Visit incomplete columns from the fewest gaps to the most.
	var order []int
	for j := range model {
		if missingCount(missing[j]) > 0 {
			order = append(order, j)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return missingCount(missing[order[a]]) < missingCount(missing[order[b]])
	})

	rounds := 0
	if len(order) > 0 && p > 1 {
		normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
		var prev *mat.Dense
		for rounds < im.opts.MaxIter {
			rounds++
			if !im.opts.SamplePosterior {
				prev = mat.DenseCopyOf(x)
			}
			for _, j := range order {
				if err := im.imputeColumn(x, j, missing[j], normal); err != nil {
					return rounds, fmt.Errorf("imputing %s: %w", cols[model[j]], err)
				}
			}
			if prev != nil {
				var diff mat.Dense
				diff.Sub(x, prev)
				if mat.Norm(&diff, math.Inf(1)) < im.opts.Tol*limit {
					break
				}
			}
		}
	}

	for j, ci := range model {
		values, _ := out.Floats(cols[ci])
		mat.Col(values, j, x)
	}
	return rounds, nil
}

func (im *Imputer) imputeColumn(x *mat.Dense, target int, missing []bool, normal distuv.Normal) error {
	n, p := x.Dims()
	var train, fill []int
	for r := 0; r < n; r++ {
		if missing[r] {
			fill = append(fill, r)
		} else {
			train = append(train, r)
		}
	}

	predictors := func(rows []int) *mat.Dense {
		m := mat.NewDense(len(rows), p-1, nil)
		for i, r := range rows {
			k := 0
			for j := 0; j < p; j++ {
				if j == target {
					continue
				}
				m.Set(i, k, x.At(r, j))
				k++
			}
		}
		return m
	}

	y := make([]float64, len(train))
	for i, r := range train {
		y[i] = x.At(r, target)
	}
	ridge := linear.NewBayesianRidge(im.opts.Ridge)
	if err := ridge.Fit(predictors(train), y); err != nil {
		return err
	}
	means, stds, err := ridge.Predict(predictors(fill))
	if err != nil {
		return err
	}
	for i, r := range fill {
		v := means[i]
		if im.opts.SamplePosterior && stds[i] > 0 {
			v += stds[i] * normal.Rand()
		}
		x.Set(r, target, v)
	}
	return nil
}

func missingCount(missing []bool) int {
	n := 0
	for _, m := range missing {
		if m {
			n++
		}
	}
	return n
}
