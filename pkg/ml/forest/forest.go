// Package forest implements a bagged ensemble of CART classification trees
// for binary labels.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/synaptica-ai/halo/pkg/common/rng"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmpty          = errors.New("no training rows")
	ErrFeatureCount   = errors.New("feature count mismatch")
	ErrNonBinaryLabel = errors.New("labels must be 0 or 1")
)

type Options struct {
	Trees          int  `yaml:"trees" json:"trees"`
	MaxFeatures    int  `yaml:"max_features" json:"max_features"`
	MaxDepth       int  `yaml:"max_depth" json:"max_depth"`
	MinSamplesLeaf int  `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	Bootstrap      bool `yaml:"bootstrap" json:"bootstrap"`
	Balanced       bool `yaml:"balanced" json:"balanced"`
	Workers        int  `yaml:"-" json:"-"`
}

// DefaultOptions: 100 bootstrapped trees, sqrt(p) features per split,
// balanced class weights.
func DefaultOptions() Options {
	return Options{Trees: 100, MinSamplesLeaf: 1, Bootstrap: true, Balanced: true}
}

// Model is an immutable trained forest. FeatureNames fixes the column order
// every scored vector must follow.
type Model struct {
	FeatureNames []string   `json:"feature_names"`
	ClassWeights [2]float64 `json:"class_weights"`
	Trees        []Tree     `json:"trees"`
	Importances  []float64  `json:"importances"`
}

type Classifier struct {
	opts Options
}

func NewClassifier(opts Options) *Classifier {
	if opts.Trees <= 0 {
		opts.Trees = 100
	}
	if opts.MinSamplesLeaf <= 0 {
		opts.MinSamplesLeaf = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Classifier{opts: opts}
}

// Fit grows the ensemble. Per-tree seeds are drawn from r up front so the
// result does not depend on scheduling.
func (c *Classifier) Fit(ctx context.Context, r *rand.Rand, x [][]float64, y []int, names []string) (*Model, error) {
	n := len(x)
	if n == 0 {
		return nil, ErrEmpty
	}
	if len(y) != n {
		return nil, fmt.Errorf("have %d labels for %d rows", len(y), n)
	}
	p := len(names)
	var counts [2]float64
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrFeatureCount, i, len(row), p)
		}
		if y[i] != 0 && y[i] != 1 {
			return nil, fmt.Errorf("%w: row %d is %d", ErrNonBinaryLabel, i, y[i])
		}
		counts[y[i]]++
	}

	weights := [2]float64{1, 1}
	if c.opts.Balanced {
		for k := range weights {
			if counts[k] > 0 {
				weights[k] = float64(n) / (2 * counts[k])
			}
		}
	}
	maxFeatures := c.opts.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > p {
		maxFeatures = max(1, int(math.Sqrt(float64(p))))
	}

	seeds := make([]uint64, c.opts.Trees)
	for i := range seeds {
		seeds[i] = r.Uint64()
	}

	trees := make([]Tree, c.opts.Trees)
	importances := make([][]float64, c.opts.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for t := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tr := rng.New(seeds[t])
			sampleWeight := make([]float64, n)
			idx := make([]int, 0, n)
			if c.opts.Bootstrap {
				for range n {
					sampleWeight[tr.IntN(n)]++
				}
			} else {
				for i := range sampleWeight {
					sampleWeight[i] = 1
				}
			}
			for i := range sampleWeight {
				if sampleWeight[i] > 0 {
					sampleWeight[i] *= weights[y[i]]
					idx = append(idx, i)
				}
			}
			gr := &grower{
				x: x, y: y, w: sampleWeight, rng: tr,
				maxFeatures: maxFeatures,
				minLeaf:     c.opts.MinSamplesLeaf,
				minSplit:    2 * c.opts.MinSamplesLeaf,
				maxDepth:    c.opts.MaxDepth,
				importance:  make([]float64, p),
			}
			trees[t] = gr.grow(idx)
			importances[t] = normalize(gr.importance)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mean := make([]float64, p)
	for _, imp := range importances {
		for j, v := range imp {
			mean[j] += v / float64(len(importances))
		}
	}
	return &Model{
		FeatureNames: append([]string(nil), names...),
		ClassWeights: weights,
		Trees:        trees,
		Importances:  normalize(mean),
	}, nil
}

// PredictProba averages the positive-class fraction over all trees.
func (m *Model) PredictProba(x []float64) float64 {
	if len(m.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for i := range m.Trees {
		sum += m.Trees[i].PredictProba(x)
	}
	return sum / float64(len(m.Trees))
}

func (m *Model) PredictProbaBatch(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.PredictProba(row)
	}
	return out
}

// Predict labels a row positive when its probability exceeds one half.
func (m *Model) Predict(x []float64) int {
	if m.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

func (m *Model) NumFeatures() int { return len(m.FeatureNames) }

// Validate checks the structural integrity of a model read from disk.
func (m *Model) Validate() error {
	if len(m.FeatureNames) == 0 || len(m.Trees) == 0 {
		return fmt.Errorf("model has %d features and %d trees", len(m.FeatureNames), len(m.Trees))
	}
	for ti, t := range m.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.IsLeaf() {
				continue
			}
			if n.Feature >= len(m.FeatureNames) || n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d is malformed", ti, ni)
			}
		}
	}
	return nil
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	total := 0.0
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}
