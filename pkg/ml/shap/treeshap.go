// Package shap computes exact path-dependent TreeSHAP attributions for
// forest models.
package shap

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"github.com/synaptica-ai/halo/pkg/ml/forest"
	"golang.org/x/sync/errgroup"
)

type TreeExplainer struct {
	model    *forest.Model
	expected float64
}

func NewTreeExplainer(model *forest.Model) (*TreeExplainer, error) {
	if model == nil || len(model.Trees) == 0 {
		return nil, fmt.Errorf("tree explainer needs a fitted model")
	}
	sum := 0.0
	for i := range model.Trees {
		sum += expectedValue(&model.Trees[i], 0)
	}
	return &TreeExplainer{model: model, expected: sum / float64(len(model.Trees))}, nil
}

// ExpectedValue is the cover-weighted mean model output; attributions for a
// row sum to its prediction minus this value.
func (e *TreeExplainer) ExpectedValue() float64 { return e.expected }

func expectedValue(t *forest.Tree, i int) float64 {
	n := t.Nodes[i]
	if n.IsLeaf() {
		return n.Value[1]
	}
	l, r := t.Nodes[n.Left], t.Nodes[n.Right]
	return (l.Cover*expectedValue(t, n.Left) + r.Cover*expectedValue(t, n.Right)) / n.Cover
}

// Values returns one attribution per model feature for x.
func (e *TreeExplainer) Values(x []float64) ([]float64, error) {
	p := e.model.NumFeatures()
	if len(x) != p {
		return nil, fmt.Errorf("have %d values, model expects %d", len(x), p)
	}
	phi := make([]float64, p)
	for i := range e.model.Trees {
		recurse(&e.model.Trees[i], 0, x, phi, nil, 0, 1, 1, -1)
	}
	for j := range phi {
		phi[j] /= float64(len(e.model.Trees))
	}
	return phi, nil
}

// Attribution holds per-row values over a set of explained rows.
type Attribution struct {
	FeatureNames []string    `json:"feature_names"`
	BaseValue    float64     `json:"base_value"`
	Values       [][]float64 `json:"-"`
	MeanAbs      []float64   `json:"mean_abs"`
	Rows         int         `json:"rows"`
}

// Ranked pairs a feature with its mean absolute attribution.
type Ranked struct {
	Feature string  `json:"feature"`
	MeanAbs float64 `json:"mean_abs"`
}

// Ranking orders features by mean absolute attribution, largest first.
func (a *Attribution) Ranking() []Ranked {
	out := make([]Ranked, len(a.FeatureNames))
	for i, name := range a.FeatureNames {
		out[i] = Ranked{Feature: name, MeanAbs: a.MeanAbs[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeanAbs > out[j].MeanAbs })
	return out
}

// Explain attributes every row concurrently; results keep row order.
func (e *TreeExplainer) Explain(ctx context.Context, rows [][]float64) (*Attribution, error) {
	values := make([][]float64, len(rows))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, row := range rows {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			phi, err := e.Values(row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			values[i] = phi
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p := e.model.NumFeatures()
	meanAbs := make([]float64, p)
	for _, phi := range values {
		for j, v := range phi {
			meanAbs[j] += math.Abs(v)
		}
	}
	if len(values) > 0 {
		for j := range meanAbs {
			meanAbs[j] /= float64(len(values))
		}
	}
	return &Attribution{
		FeatureNames: append([]string(nil), e.model.FeatureNames...),
		BaseValue:    e.expected,
		Values:       values,
		MeanAbs:      meanAbs,
		Rows:         len(values),
	}, nil
}

type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

func recurse(t *forest.Tree, node int, x, phi []float64, parent []pathElement, depth int, parentZero, parentOne float64, parentFeature int) {
	path := make([]pathElement, depth+1)
	copy(path, parent[:depth])
	extend(path, depth, parentZero, parentOne, parentFeature)

	n := t.Nodes[node]
	if n.IsLeaf() {
		for i := 1; i <= depth; i++ {
			w := unwoundSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * n.Value[1]
		}
		return
	}

	hot, cold := n.Left, n.Right
	if !(x[n.Feature] <= n.Threshold) {
		hot, cold = cold, hot
	}
	hotZero := t.Nodes[hot].Cover / n.Cover
	coldZero := t.Nodes[cold].Cover / n.Cover
	incomingZero, incomingOne := 1.0, 1.0

	// A feature split on earlier in the path is undone before recursing.
	k := 0
	for ; k <= depth; k++ {
		if path[k].feature == n.Feature {
			break
		}
	}
	if k <= depth {
		incomingZero = path[k].zero
		incomingOne = path[k].one
		unwind(path, depth, k)
		depth--
	}

	recurse(t, hot, x, phi, path, depth+1, hotZero*incomingZero, incomingOne, n.Feature)
	recurse(t, cold, x, phi, path, depth+1, coldZero*incomingZero, 0, n.Feature)
}

func extend(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(depth+1)
		path[i].weight = zero * path[i].weight * float64(depth-i) / float64(depth+1)
	}
}

func unwind(path []pathElement, depth, k int) {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/float64(depth+1)
		} else {
			path[i].weight = path[i].weight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	for i := k; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

func unwoundSum(path []pathElement, depth, k int) float64 {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	total := 0.0
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * float64(depth+1) / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/float64(depth+1)
		} else if zero != 0 {
			total += path[i].weight / zero / (float64(depth-i) / float64(depth+1))
		}
	}
	return total
}
