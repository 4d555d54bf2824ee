// Package metrics scores binary classifiers: ROC, AUC, calibration and the
// per-class report.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var ErrSingleClass = errors.New("both classes are required")

// ROC points ordered by decreasing threshold, starting at (0,0).
type ROC struct {
	FPR        []float64 `json:"fpr"`
	TPR        []float64 `json:"tpr"`
	Thresholds []float64 `json:"thresholds"`
}

// ROCCurve emits one point per distinct score. Tied scores move both rates
// in a single step.
func ROCCurve(y []int, scores []float64) (ROC, error) {
	if len(y) != len(scores) {
		return ROC{}, fmt.Errorf("have %d scores for %d labels", len(scores), len(y))
	}
	var pos, neg float64
	for _, label := range y {
		if label == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return ROC{}, ErrSingleClass
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	roc := ROC{FPR: []float64{0}, TPR: []float64{0}, Thresholds: []float64{math.Inf(1)}}
	var tp, fp float64
	for k, i := range order {
		if y[i] == 1 {
			tp++
		} else {
			fp++
		}
		if k+1 < len(order) && scores[order[k+1]] == scores[i] {
			continue
		}
		roc.FPR = append(roc.FPR, fp/neg)
		roc.TPR = append(roc.TPR, tp/pos)
		roc.Thresholds = append(roc.Thresholds, scores[i])
	}
	return roc, nil
}

// AUC integrates y over x with the trapezoidal rule. x must be monotonic.
func AUC(x, y []float64) float64 {
	area := 0.0
	for i := 1; i < len(x) && i < len(y); i++ {
		area += (x[i] - x[i-1]) * (y[i] + y[i-1]) / 2
	}
	return math.Abs(area)
}

// ROCAUC is the area under the ROC curve, or NaN when only one class exists.
func ROCAUC(y []int, scores []float64) float64 {
	roc, err := ROCCurve(y, scores)
	if err != nil {
		return math.NaN()
	}
	return AUC(roc.FPR, roc.TPR)
}

// Interp linearly interpolates (xp, fp) at each x, clamping outside the
// range. xp must be non-decreasing; for repeated xp the last point wins.
func Interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	n := len(xp)
	if n == 0 {
		return out
	}
	for i, v := range x {
		switch {
		case v <= xp[0]:
			out[i] = fp[0]
			if v == xp[0] {
				j := sort.Search(n, func(k int) bool { return xp[k] > v }) - 1
				out[i] = fp[j]
			}
		case v >= xp[n-1]:
			out[i] = fp[n-1]
		default:
			j := sort.Search(n, func(k int) bool { return xp[k] > v }) - 1
			if xp[j] == v {
				out[i] = fp[j]
				continue
			}
			t := (v - xp[j]) / (xp[j+1] - xp[j])
			out[i] = fp[j] + t*(fp[j+1]-fp[j])
		}
	}
	return out
}

// Linspace returns n evenly spaced points over [lo, hi].
func Linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

type CalibrationBin struct {
	MeanPredicted    float64 `json:"mean_predicted"`
	FractionPositive float64 `json:"fraction_positive"`
	Count            int     `json:"count"`
}

// Calibration groups probabilities into uniform-width bins over [0,1] and
// returns only the bins that received at least one prediction. A value on
// an interior edge falls in the lower bin.
func Calibration(y []int, probs []float64, bins int) ([]CalibrationBin, error) {
	if len(y) != len(probs) {
		return nil, fmt.Errorf("have %d probabilities for %d labels", len(probs), len(y))
	}
	if bins <= 0 {
		return nil, fmt.Errorf("bins must be positive, got %d", bins)
	}
	sumProb := make([]float64, bins)
	sumTrue := make([]float64, bins)
	counts := make([]int, bins)
	// Interior edges; a probability on an edge falls in the lower bin.
	edges := Linspace(0, 1, bins+1)[1:bins]
	for i, p := range probs {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return nil, fmt.Errorf("probability %v outside [0,1]", p)
		}
		b := sort.SearchFloat64s(edges, p)
		sumProb[b] += p
		sumTrue[b] += float64(y[i])
		counts[b]++
	}
	var out []CalibrationBin
	for b := range counts {
		if counts[b] == 0 {
			continue
		}
		c := float64(counts[b])
		out = append(out, CalibrationBin{MeanPredicted: sumProb[b] / c, FractionPositive: sumTrue[b] / c, Count: counts[b]})
	}
	return out, nil
}

// Brier is the mean squared error of probabilities against labels.
func Brier(y []int, probs []float64) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i, p := range probs {
		d := p - float64(y[i])
		sum += d * d
	}
	return sum / float64(len(y))
}

func Accuracy(y, pred []int) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	correct := 0
	for i := range y {
		if y[i] == pred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y))
}

type ClassScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is the per-class precision/recall/F1 breakdown with macro and
// support-weighted averages. Undefined ratios count as 0.
type Report struct {
	Classes  [2]ClassScores `json:"classes"`
	Accuracy float64        `json:"accuracy"`
	Macro    ClassScores    `json:"macro_avg"`
	Weighted ClassScores    `json:"weighted_avg"`
}

func ClassificationReport(y, pred []int) Report {
	var r Report
	total := len(y)
	for c := 0; c < 2; c++ {
		var tp, fp, fn int
		for i := range y {
			switch {
			case pred[i] == c && y[i] == c:
				tp++
			case pred[i] == c:
				fp++
			case y[i] == c:
				fn++
			}
		}
		s := ClassScores{
			Precision: ratio(tp, tp+fp),
			Recall:    ratio(tp, tp+fn),
			Support:   tp + fn,
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Classes[c] = s
		r.Macro.Precision += s.Precision / 2
		r.Macro.Recall += s.Recall / 2
		r.Macro.F1 += s.F1 / 2
		if total > 0 {
			w := float64(s.Support) / float64(total)
			r.Weighted.Precision += s.Precision * w
			r.Weighted.Recall += s.Recall * w
			r.Weighted.F1 += s.F1 * w
		}
	}
	r.Macro.Support = total
	r.Weighted.Support = total
	r.Accuracy = Accuracy(y, pred)
	return r
}

// String renders the report as an aligned text table.
func (r Report) String() string {
	const width = 12
	var b strings.Builder
	fmt.Fprintf(&b, "%*s ", width, "")
	for _, h := range []string{"precision", "recall", "f1-score", "support"} {
		fmt.Fprintf(&b, " %9s", h)
	}
	b.WriteString("\n\n")
	row := func(name string, s ClassScores) {
		fmt.Fprintf(&b, "%*s  %9.2f %9.2f %9.2f %9d\n", width, name, s.Precision, s.Recall, s.F1, s.Support)
	}
	row("0", r.Classes[0])
	row("1", r.Classes[1])
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s  %9s %9s %9.2f %9d\n", width, "accuracy", "", "", r.Accuracy, r.Macro.Support)
	row("macro avg", r.Macro)
	row("weighted avg", r.Weighted)
	return b.String()
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
