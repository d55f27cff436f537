// Package metrics は不正検知モデルの評価指標を提供する。
//
// 入力は *mat.VecDense（長さ n の列ベクトル）で、
// nil は空ベクトルとして扱われエラーになる。
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// logLossEps は log(0) を避けるためのクリッピング幅
const logLossEps = 1e-15

// checkPair は長さの一致と空でないことを確認し、要素数を返す
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 || yPred.Len() == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

// checkBinary は正解ラベルが 0/1 のみであることを確認する
func checkBinary(op string, yTrue *mat.VecDense) error {
	for i := 0; i < yTrue.Len(); i++ {
		if v := yTrue.AtVec(i); v != 0 && v != 1 {
			return errors.NewValidationError("y_true", "binary labels (0 or 1) required in "+op, v)
		}
	}
	return nil
}

// AUC は ROC 曲線下面積を計算する
//
// yPred は陽性クラス（不正）のスコア。同点のスコアは一つの閾値として扱われる。
// 陽性または陰性しか存在しない場合は定義できないため 0.5 を返す。
func AUC(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	// stat.ROC はスコアの昇順ソートを要求する
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yPred.AtVec(idx[a]) < yPred.AtVec(idx[b]) })

	scores := make([]float64, n)
	classes := make([]bool, n)
	var positives int
	for k, i := range idx {
		scores[k] = yPred.AtVec(i)
		classes[k] = yTrue.AtVec(i) == 1
		if classes[k] {
			positives++
		}
	}
	if positives == 0 || positives == n {
		return 0.5, nil
	}

	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// AUCMatrix は行列形式の入力に対して AUC を計算する（先頭列を使用）
func AUCMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	yt, err := firstColumn("AUCMatrix", yTrue)
	if err != nil {
		return 0, err
	}
	yp, err := firstColumn("AUCMatrix", yPred)
	if err != nil {
		return 0, err
	}
	return AUC(yt, yp)
}

func firstColumn(op string, m mat.Matrix) (*mat.VecDense, error) {
	if m == nil {
		return nil, errors.NewValueError(op, "nil matrix")
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return nil, errors.NewValueError(op, "empty matrix")
	}
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v, nil
}

// BinaryLogLoss は二値分類の対数損失（交差エントロピー）を計算する
//
// 確率は [eps, 1-eps] にクリップされる。
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := math.Min(math.Max(yPred.AtVec(i), logLossEps), 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	var correct int
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率（1 - Accuracy）を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// AveragePrecision は適合率-再現率曲線の平均適合率を計算する
//
// スコアの降順に閾値を下げ、各閾値での再現率の増分 × 適合率を合計する。
// 同点のスコアは一つの閾値として扱われる。陽性が一つもない場合は 0。
func AveragePrecision(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AveragePrecision", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AveragePrecision", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	var positives float64
	for i := range idx {
		idx[i] = i
		positives += yTrue.AtVec(i)
	}
	if positives == 0 {
		return 0, nil
	}
	sort.SliceStable(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) > yScore.AtVec(idx[b]) })

	var ap, tp, prevTP float64
	for k := 0; k < n; {
		score := yScore.AtVec(idx[k])
		for k < n && yScore.AtVec(idx[k]) == score {
			tp += yTrue.AtVec(idx[k])
			k++
		}
		if tp > prevTP {
			ap += (tp - prevTP) / positives * (tp / float64(k))
			prevTP = tp
		}
	}
	return ap, nil
}
