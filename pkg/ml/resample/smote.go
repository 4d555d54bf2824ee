// Package resample balances binary training sets by synthetic minority
// oversampling.
package resample

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

var ErrTooFewMinority = errors.New("minority class needs at least two rows")

// SMOTE interpolates new minority rows between a sampled minority row and
// one of its K nearest minority neighbours until both classes are equal.
type SMOTE struct {
	K int
}

func NewSMOTE(k int) *SMOTE {
	if k <= 0 {
		k = 5
	}
	return &SMOTE{K: k}
}

// Resample returns the original rows followed by the synthetic ones. When
// the minority has K or fewer rows the neighbourhood shrinks to what exists.
func (s *SMOTE) Resample(r *rand.Rand, x [][]float64, y []int) ([][]float64, []int, error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("have %d labels for %d rows", len(y), len(x))
	}
	var byClass [2][]int
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, nil, fmt.Errorf("label %d at row %d is not binary", label, i)
		}
		byClass[label] = append(byClass[label], i)
	}
	minority := 1
	if len(byClass[0]) < len(byClass[1]) {
		minority = 0
	}
	members := byClass[minority]
	need := len(byClass[1-minority]) - len(members)
	if need <= 0 {
		return x, y, nil
	}
	if len(members) < 2 {
		return nil, nil, ErrTooFewMinority
	}
	k := min(s.K, len(members)-1)
	neighbours := nearest(x, members, k)

	outX := make([][]float64, len(x), len(x)+need)
	copy(outX, x)
	outY := make([]int, len(y), len(y)+need)
	copy(outY, y)
	for range need {
		a := r.IntN(len(members))
		b := neighbours[a][r.IntN(k)]
		gap := r.Float64()
		base, toward := x[members[a]], x[members[b]]
		row := make([]float64, len(base))
		floats.SubTo(row, toward, base)
		floats.Scale(gap, row)
		floats.Add(row, base)
		outX = append(outX, row)
		outY = append(outY, minority)
	}
	return outX, outY, nil
}

// nearest returns, per member, the positions (within members) of its k
// closest other members by Euclidean distance, ties broken by position.
func nearest(x [][]float64, members []int, k int) [][]int {
	out := make([][]int, len(members))
	order := make([]int, 0, len(members)-1)
	dist := make([]float64, len(members))
	for a, i := range members {
		order = order[:0]
		for b, j := range members {
			if b == a {
				continue
			}
			dist[b] = floats.Distance(x[i], x[j], 2)
			order = append(order, b)
		}
		sort.SliceStable(order, func(p, q int) bool { return dist[order[p]] < dist[order[q]] })
		out[a] = append([]int(nil), order[:k]...)
	}
	return out
}
