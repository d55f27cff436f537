// Package log defines standard attribute keys for machine learning operations.
//
// Using the same keys everywhere keeps the training logs filterable: a run
// can be followed by "estimator.id", a step by "ml.operation", and the data
// flowing through it by the "data.*" and "split.*" keys.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "RandomForestClassifier", "ColumnPipeline"
	ModelNameKey = "model.name"

	// EstimatorIDKey identifies one training run (a UUID).
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	// Examples: "dataset", "ensemble", "workflow"
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ColumnsKey lists column names of a loaded table.
	ColumnsKey = "data.columns"

	// PathKey is the file a step reads or writes.
	PathKey = "data.path"

	// ClassCountsKey records the label distribution.
	ClassCountsKey = "data.class_counts"
)

// Time-based split
const (
	// CutoffKey is the timestamp separating train from test.
	CutoffKey = "split.cutoff"

	// TrainRowsKey is the number of rows with timestamp <= cutoff.
	TrainRowsKey = "split.train_rows"

	// TestRowsKey is the number of rows with timestamp > cutoff.
	TestRowsKey = "split.test_rows"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records model accuracy for evaluation operations.
	AccuracyKey = "metrics.accuracy"

	// PrecisionKey records precision of the positive (fraud) class.
	PrecisionKey = "metrics.precision"

	// RecallKey records recall of the positive (fraud) class.
	RecallKey = "metrics.recall"

	// F1Key records the F1 score of the positive (fraud) class.
	F1Key = "metrics.f1"

	// AUCKey records ROC AUC computed from fraud probabilities.
	AUCKey = "metrics.roc_auc"

	// TreeIndexKey records which tree of an ensemble an event refers to.
	TreeIndexKey = "training.tree"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// NEstimatorsKey records the number of trees in a forest.
	NEstimatorsKey = "hyperparams.n_estimators"

	// MaxDepthKey records the maximum depth of each tree.
	MaxDepthKey = "hyperparams.max_depth"
)

// Standard attribute value constants for common operations.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"
	OperationLoad         = "load"
	OperationSplit        = "split"
	OperationSave         = "save"

	PhaseTraining      = "training"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
)
