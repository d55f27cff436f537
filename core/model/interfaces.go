// Package model provides the estimator contracts, fitted-state bookkeeping and
// gob persistence shared by every fraudforest estimator.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Scorer is the interface for models that can compute a score.
type Scorer interface {
	// Score returns the mean accuracy on the given test data and labels.
	Score(X, y mat.Matrix) float64
}

// Classifier combines interfaces for classification models.
type Classifier interface {
	Fitter
	Predictor
	Scorer

	// PredictProba returns probability estimates for each class.
	// Columns follow the order of Classes.
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted class labels seen during fitting.
	Classes() []float64
}

// WeightedFitter is implemented by estimators that accept per-sample weights.
// A zero weight excludes the sample.
type WeightedFitter interface {
	FitWeighted(X, y mat.Matrix, sampleWeight []float64) error
}

// ImportanceProvider exposes impurity based feature importances.
type ImportanceProvider interface {
	GetFeatureImportances() []float64
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}
