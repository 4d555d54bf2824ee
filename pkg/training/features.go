package training

import (
	"fmt"
	"math"

	"github.com/synaptica-ai/halo/pkg/cohort"
	"github.com/synaptica-ai/halo/pkg/dataset"
	"github.com/synaptica-ai/halo/pkg/panel"
)

// excluded columns never become model inputs.
var excluded = map[string]bool{
	cohort.ColPatientID: true,
	panel.ColTimepoint:  true,
	panel.LabelHypo:     true,
	panel.LabelCV:       true,
	cohort.ColSex:       true,
}

// Matrix is the dense design matrix handed to the learners.
type Matrix struct {
	Names   []string
	X       [][]float64
	Y       []int
	Medians []float64
}

// BuildMatrix selects every non-excluded column as a feature, derives sex_M
// from a raw sex column when needed, and fills gaps with the column median
// over all rows. A label at or above 0.5 is positive; a missing label is not.
func BuildMatrix(stacked *dataset.Table, label string) (*Matrix, error) {
	labels, err := stacked.Floats(label)
	if err != nil {
		return nil, fmt.Errorf("label: %w", err)
	}

	var names []string
	var cols [][]float64
	for _, c := range stacked.Columns() {
		if excluded[c.Name] {
			continue
		}
		if c.Kind != dataset.Numeric {
			return nil, fmt.Errorf("feature column %s is not numeric", c.Name)
		}
		names = append(names, c.Name)
		cols = append(cols, c.Floats)
	}
	if !stacked.Has(panel.ColSexMale) {
		if sexes, err := stacked.Strings(cohort.ColSex); err == nil {
			male := make([]float64, len(sexes))
			for i, s := range sexes {
				if s == string(cohort.Male) {
					male[i] = 1
				}
			}
			names = append(names, panel.ColSexMale)
			cols = append(cols, male)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("stacked table has no feature columns")
	}

	n := stacked.NumRows()
	m := &Matrix{Names: names, X: make([][]float64, n), Y: make([]int, n), Medians: make([]float64, len(cols))}
	for j, col := range cols {
		median, ok := dataset.Median(col)
		if !ok {
			median = 0
		}
		m.Medians[j] = median
	}
	for i := 0; i < n; i++ {
		row := make([]float64, len(cols))
		for j, col := range cols {
			v := col[i]
			if math.IsNaN(v) {
				v = m.Medians[j]
			}
			row[j] = v
		}
		m.X[i] = row
		if labels[i] >= 0.5 {
			m.Y[i] = 1
		}
	}
	return m, nil
}

func subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	sx := make([][]float64, len(idx))
	sy := make([]int, len(idx))
	for k, i := range idx {
		sx[k] = x[i]
		sy[k] = y[i]
	}
	return sx, sy
}

func positiveRate(y []int) float64 {
	if len(y) == 0 {
		return 0
	}
	pos := 0
	for _, v := range y {
		pos += v
	}
	return float64(pos) / float64(len(y))
}

func classCounts(y []int) [2]int {
	var c [2]int
	for _, v := range y {
		c[v]++
	}
	return c
}
