// Package validation builds stratified cross-validation folds and holdout
// splits over binary labels.
package validation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Fold holds sorted row indices for one train/test partition.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold shuffles each class independently and deals its rows to
// folds in turn, so every fold keeps roughly the overall class ratio.
func StratifiedKFold(r *rand.Rand, y []int, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("cannot split %d rows into %d folds", len(y), k)
	}
	assign := make([]int, len(y))
	next := 0
	for _, members := range classes(y) {
		r.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		for _, i := range members {
			assign[i] = next % k
			next++
		}
	}
	folds := make([]Fold, k)
	for i, f := range assign {
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	return folds, nil
}

// StratifiedSplit holds out testFraction of each class.
func StratifiedSplit(r *rand.Rand, y []int, testFraction float64) (Fold, error) {
	if testFraction <= 0 || testFraction >= 1 {
		return Fold{}, fmt.Errorf("test fraction %v outside (0,1)", testFraction)
	}
	var split Fold
	for _, members := range classes(y) {
		r.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		nTest := int(math.Round(testFraction * float64(len(members))))
		if nTest == 0 && len(members) > 1 {
			nTest = 1
		}
		split.Test = append(split.Test, members[:nTest]...)
		split.Train = append(split.Train, members[nTest:]...)
	}
	if len(split.Train) == 0 || len(split.Test) == 0 {
		return Fold{}, fmt.Errorf("split of %d rows left one side empty", len(y))
	}
	sort.Ints(split.Train)
	sort.Ints(split.Test)
	return split, nil
}

// classes groups row indices by label in ascending label order.
func classes(y []int) [][]int {
	byLabel := map[int][]int{}
	for i, label := range y {
		byLabel[label] = append(byLabel[label], i)
	}
	labels := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	out := make([][]int, len(labels))
	for i, label := range labels {
		out[i] = byLabel[label]
	}
	return out
}
