package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// Confusion は混同行列。行が正解ラベル、列が予測ラベル。
type Confusion struct {
	Labels []float64
	Counts [][]int
}

// ConfusionMatrix は混同行列を計算する
//
// labels が nil の場合は yTrue と yPred に現れるラベルの昇順を使う。
// labels に含まれない値を持つ行は数えない。
func ConfusionMatrix(yTrue, yPred *mat.VecDense, labels []float64) (*Confusion, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		labels = uniqueLabels(yTrue, yPred)
	}
	if len(labels) == 0 {
		return nil, errors.NewValueError("ConfusionMatrix", "labels must not be empty")
	}

	pos := make(map[float64]int, len(labels))
	for i, l := range labels {
		if _, dup := pos[l]; dup {
			return nil, errors.NewValidationError("labels", "duplicate label", l)
		}
		pos[l] = i
	}

	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := 0; i < n; i++ {
		t, okT := pos[yTrue.AtVec(i)]
		p, okP := pos[yPred.AtVec(i)]
		if okT && okP {
			counts[t][p]++
		}
	}
	return &Confusion{Labels: append([]float64(nil), labels...), Counts: counts}, nil
}

// At returns the number of samples with true label i predicted as label j
// (indices into Labels).
func (c *Confusion) At(i, j int) int { return c.Counts[i][j] }

// Total returns the sum of all cells.
func (c *Confusion) Total() int {
	var total int
	for _, row := range c.Counts {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// Dense returns the counts as a matrix, as consumed by the heatmap plot.
func (c *Confusion) Dense() *mat.Dense {
	k := len(c.Labels)
	d := mat.NewDense(k, k, nil)
	for i, row := range c.Counts {
		for j, v := range row {
			d.Set(i, j, float64(v))
		}
	}
	return d
}

// String renders the matrix with true labels as rows.
func (c *Confusion) String() string {
	names := make([]string, len(c.Labels))
	for i, l := range c.Labels {
		names[i] = formatLabel(l)
	}

	width := len("true\\pred")
	for i := range c.Counts {
		for j := range c.Counts[i] {
			if w := len(strconv.Itoa(c.Counts[i][j])); w > width {
				width = w
			}
		}
		if len(names[i]) > width {
			width = len(names[i])
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s", width, "true\\pred")
	for _, name := range names {
		fmt.Fprintf(&b, " %*s", width, name)
	}
	b.WriteByte('\n')
	for i, row := range c.Counts {
		fmt.Fprintf(&b, "%*s", width, names[i])
		for _, v := range row {
			fmt.Fprintf(&b, " %*d", width, v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ClassMetrics はクラスごとの適合率・再現率・F1・サポート
type ClassMetrics struct {
	Label     float64
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report は scikit-learn の classification_report に相当する
type Report struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	// Digits は String で表示する小数点以下の桁数（既定 2）
	Digits int

	showAccuracy bool
}

// PrecisionRecallFScoreSupport はクラスごとの指標を計算する
//
// 0/0 になる比率は 0 とし、UndefinedMetricWarning を発生させる。
func PrecisionRecallFScoreSupport(yTrue, yPred *mat.VecDense, labels []float64) ([]ClassMetrics, error) {
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	return perClass(cm), nil
}

func perClass(cm *Confusion) []ClassMetrics {
	k := len(cm.Labels)
	out := make([]ClassMetrics, k)
	var noPred, noTrue []string
	for c := 0; c < k; c++ {
		tp := cm.Counts[c][c]
		var predicted, actual int
		for o := 0; o < k; o++ {
			predicted += cm.Counts[o][c]
			actual += cm.Counts[c][o]
		}

		m := ClassMetrics{Label: cm.Labels[c], Name: formatLabel(cm.Labels[c]), Support: actual}
		if predicted > 0 {
			m.Precision = float64(tp) / float64(predicted)
		} else {
			noPred = append(noPred, m.Name)
		}
		if actual > 0 {
			m.Recall = float64(tp) / float64(actual)
		} else {
			noTrue = append(noTrue, m.Name)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		out[c] = m
	}

	if len(noPred) > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision",
			"no predicted samples in labels "+strings.Join(noPred, ", "), 0))
	}
	if len(noTrue) > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall",
			"no true samples in labels "+strings.Join(noTrue, ", "), 0))
	}
	return out
}

// ClassificationReport は主要な分類指標のレポートを作成する
//
// targetNames は labels と同じ順序の表示名。nil の場合はラベル値を使う。
func ClassificationReport(yTrue, yPred *mat.VecDense, labels []float64, targetNames []string) (*Report, error) {
	cm, err := ConfusionMatrix(yTrue, yPred, labels)
	if err != nil {
		return nil, err
	}
	if targetNames != nil && len(targetNames) != len(cm.Labels) {
		return nil, errors.NewDimensionError("ClassificationReport", len(cm.Labels), len(targetNames), 0)
	}

	classes := perClass(cm)
	if targetNames != nil {
		for i := range classes {
			classes[i].Name = targetNames[i]
		}
	}

	r := &Report{Classes: classes, Digits: 2}
	var total int
	var correct int
	for i, c := range classes {
		total += c.Support
		correct += cm.Counts[i][i]
		r.MacroAvg.Precision += c.Precision
		r.MacroAvg.Recall += c.Recall
		r.MacroAvg.F1 += c.F1
		r.WeightedAvg.Precision += c.Precision * float64(c.Support)
		r.WeightedAvg.Recall += c.Recall * float64(c.Support)
		r.WeightedAvg.F1 += c.F1 * float64(c.Support)
	}

	k := float64(len(classes))
	r.MacroAvg.Name, r.MacroAvg.Support = "macro avg", total
	r.MacroAvg.Precision /= k
	r.MacroAvg.Recall /= k
	r.MacroAvg.F1 /= k

	r.WeightedAvg.Name, r.WeightedAvg.Support = "weighted avg", total
	if total > 0 {
		r.WeightedAvg.Precision /= float64(total)
		r.WeightedAvg.Recall /= float64(total)
		r.WeightedAvg.F1 /= float64(total)
		r.Accuracy = float64(correct) / float64(total)
	}

	// accuracy 行は全ての行が labels に含まれるときだけ意味を持つ
	r.showAccuracy = total == yTrue.Len() && cm.Total() == yTrue.Len()
	return r, nil
}

// ByLabel returns the metrics of one class.
func (r *Report) ByLabel(label float64) (ClassMetrics, bool) {
	for _, c := range r.Classes {
		if c.Label == label {
			return c, true
		}
	}
	return ClassMetrics{}, false
}

// String renders the report in the scikit-learn text layout.
func (r *Report) String() string {
	digits := r.Digits
	if digits <= 0 {
		digits = 2
	}
	width := len("weighted avg")
	for _, c := range r.Classes {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}
	if digits > width {
		width = digits
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	row := func(m ClassMetrics) {
		fmt.Fprintf(&b, "%*s  %9.*f %9.*f %9.*f %9d\n",
			width, m.Name, digits, m.Precision, digits, m.Recall, digits, m.F1, m.Support)
	}
	for _, c := range r.Classes {
		row(c)
	}
	b.WriteByte('\n')
	if r.showAccuracy {
		fmt.Fprintf(&b, "%*s  %9s %9s %9.*f %9d\n", width, "accuracy", "", "", digits, r.Accuracy, r.MacroAvg.Support)
	}
	row(r.MacroAvg)
	row(r.WeightedAvg)
	return b.String()
}

func uniqueLabels(vs ...*mat.VecDense) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, v := range vs {
		for i := 0; i < v.Len(); i++ {
			x := v.AtVec(i)
			if _, ok := seen[x]; !ok {
				seen[x] = struct{}{}
				out = append(out, x)
			}
		}
	}
	sort.Float64s(out)
	return out
}

func formatLabel(l float64) string {
	return strconv.FormatFloat(l, 'g', -1, 64)
}
