package forest

import (
	"math/rand/v2"
	"sort"
)

// Node is one entry of a flattened tree. Leaves have Feature < 0.
// Value holds the weighted class fractions and Cover the weighted sample
// mass that reached the node during training.
type Node struct {
	Feature   int        `json:"feature"`
	Threshold float64    `json:"threshold"`
	Left      int        `json:"left"`
	Right     int        `json:"right"`
	Value     [2]float64 `json:"value"`
	Cover     float64    `json:"cover"`
}

func (n Node) IsLeaf() bool { return n.Feature < 0 }

// Tree is a binary CART tree stored depth-first; the root is Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Leaf follows x to its leaf. Rows go left when x[feature] <= threshold.
func (t *Tree) Leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

func (t *Tree) PredictProba(x []float64) float64 {
	return t.Nodes[t.Leaf(x)].Value[1]
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type grower struct {
	x           [][]float64
	y           []int
	w           []float64
	rng         *rand.Rand
	maxFeatures int
	minLeaf     int
	minSplit    int
	maxDepth    int

	nodes      []Node
	importance []float64
}

func (g *grower) grow(idx []int) Tree {
	g.nodes = g.nodes[:0]
	g.build(idx, 0)
	return Tree{Nodes: append([]Node(nil), g.nodes...)}
}

func (g *grower) build(idx []int, depth int) int {
	var w0, w1 float64
	for _, i := range idx {
		if g.y[i] == 1 {
			w1 += g.w[i]
		} else {
			w0 += g.w[i]
		}
	}
	total := w0 + w1
	id := len(g.nodes)
	node := Node{Feature: -1, Cover: total}
	if total > 0 {
		node.Value = [2]float64{w0 / total, w1 / total}
	}
	g.nodes = append(g.nodes, node)

	if w0 == 0 || w1 == 0 || len(idx) < g.minSplit || (g.maxDepth > 0 && depth >= g.maxDepth) {
		return id
	}
	s, ok := g.bestSplit(idx, w0, w1)
	if !ok {
		return id
	}

	left, right := partition(idx, func(i int) bool { return g.x[i][s.feature] <= s.threshold })
	g.importance[s.feature] += s.gain
	l := g.build(left, depth+1)
	r := g.build(right, depth+1)
	g.nodes[id].Feature = s.feature
	g.nodes[id].Threshold = s.threshold
	g.nodes[id].Left = l
	g.nodes[id].Right = r
	return id
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func gini(w0, w1 float64) float64 {
	t := w0 + w1
	if t == 0 {
		return 0
	}
	p0, p1 := w0/t, w1/t
	return 1 - p0*p0 - p1*p1
}

// bestSplit scans features in random order until maxFeatures non-constant
// ones have been evaluated, continuing past that only while no valid split
// exists.
func (g *grower) bestSplit(idx []int, w0, w1 float64) (split, bool) {
	parent := (w0 + w1) * gini(w0, w1)
	best := split{gain: -1}
	found := false
	visited := 0
	sorted := make([]int, len(idx))

	for _, f := range g.rng.Perm(len(g.x[idx[0]])) {
		if visited >= g.maxFeatures && found {
			break
		}
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return g.x[sorted[a]][f] < g.x[sorted[b]][f] })
		lo, hi := g.x[sorted[0]][f], g.x[sorted[len(sorted)-1]][f]
		if lo == hi {
			continue
		}
		visited++

		var l0, l1 float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			if g.y[i] == 1 {
				l1 += g.w[i]
			} else {
				l0 += g.w[i]
			}
			v, next := g.x[i][f], g.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			if k+1 < g.minLeaf || len(sorted)-k-1 < g.minLeaf {
				continue
			}
			r0, r1 := w0-l0, w1-l1
			gain := parent - (l0+l1)*gini(l0, l1) - (r0+r1)*gini(r0, r1)
			if gain > best.gain {
				threshold := v + (next-v)/2
				if threshold >= next {
					threshold = v
				}
				best = split{feature: f, threshold: threshold, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func partition(idx []int, goLeft func(int) bool) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if goLeft(i) {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
