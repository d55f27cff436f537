package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// MSE は平均二乗誤差（Mean Squared Error）を計算する
func MSE(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	// MSE = (1/n) * Σ(yTrue - yPred)²
	var sum float64
	for i := 0; i < n; i++ {
		diff := yTrue.AtVec(i) - yPred.AtVec(i)
		sum += diff * diff
	}
	return sum / float64(n), nil
}

// BrierScore は陽性クラス確率と 0/1 ラベルの平均二乗誤差を計算する
//
// 0 が最良。確率は [0, 1] の範囲でなければならない。
func BrierScore(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BrierScore", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BrierScore", yTrue); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		if p := yProb.AtVec(i); !(p >= 0 && p <= 1) {
			return 0, errors.NewValidationError("y_prob", "probabilities must be within [0, 1]", p)
		}
	}
	return MSE(yTrue, yProb)
}

// ProbabilityScores は陽性クラス確率に対する閾値に依存しない指標
type ProbabilityScores struct {
	ROCAUC           float64 `json:"roc_auc"`
	AveragePrecision float64 `json:"average_precision"`
	LogLoss          float64 `json:"log_loss"`
	Brier            float64 `json:"brier"`
}

// ScoreProbabilities は不正クラス確率 yProb をまとめて評価する
func ScoreProbabilities(yTrue, yProb *mat.VecDense) (ProbabilityScores, error) {
	var s ProbabilityScores
	var err error
	if s.ROCAUC, err = AUC(yTrue, yProb); err != nil {
		return s, err
	}
	if s.AveragePrecision, err = AveragePrecision(yTrue, yProb); err != nil {
		return s, err
	}
	if s.LogLoss, err = BinaryLogLoss(yTrue, yProb); err != nil {
		return s, err
	}
	if s.Brier, err = BrierScore(yTrue, yProb); err != nil {
		return s, err
	}
	return s, nil
}
