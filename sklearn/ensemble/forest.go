// Package ensemble implements bagged tree ensembles compatible with
// scikit-learn's RandomForestClassifier.
package ensemble

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/core/parallel"
	"github.com/fraudlab/fraudforest/pkg/errors"
	"github.com/fraudlab/fraudforest/pkg/log"
	"github.com/fraudlab/fraudforest/sklearn/tree"
	"github.com/fraudlab/fraudforest/sklearn/utils"
)

// Defaults used by NewRandomForestClassifier.
const (
	DefaultNEstimators = 16
	DefaultMaxDepth    = 8
	DefaultRandomState = 42
)

// CallbackEnv describes a finished tree.
type CallbackEnv struct {
	TreeIndex int
	Completed int
	Total     int
	Elapsed   time.Duration
}

// Callback is invoked once per fitted tree. Calls are serialized.
type Callback func(env CallbackEnv)

// RandomForestClassifier averages the class probabilities of decision trees
// fitted on bootstrap samples.
type RandomForestClassifier struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	bootstrap       bool
	classWeight     string // "none", "balanced", "balanced_subsample"
	randomState     int64  // -1 draws a random seed per fit
	nJobs           int    // <= 0 means one worker per CPU

	callbacks []Callback

	// Model parameters
	estimators_  []*tree.DecisionTreeClassifier
	classes_     []float64
	nClasses_    int
	nFeatures_   int
	importances_ []float64
}

// RandomForestOption is a functional option for RandomForestClassifier
type RandomForestOption func(*RandomForestClassifier)

// NewRandomForestClassifier creates a forest of 16 trees of depth 8 with
// balanced_subsample class weights and seed 42.
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     DefaultNEstimators,
		criterion:       "gini",
		maxDepth:        DefaultMaxDepth,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     tree.MaxFeaturesSqrt,
		bootstrap:       true,
		classWeight:     utils.ClassWeightBalancedSubsample,
		randomState:     DefaultRandomState,
		nJobs:           1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithCriterion sets the split criterion of every tree.
func WithCriterion(criterion string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.criterion = criterion }
}

// WithMaxDepth limits tree depth. Values <= 0 mean unlimited.
func WithMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		if depth <= 0 {
			depth = -1
		}
		rf.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples in each leaf.
func WithMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures sets the per-split feature sampling strategy.
func WithMaxFeatures(strategy string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = strategy }
}

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(bootstrap bool) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.bootstrap = bootstrap }
}

// WithClassWeight sets "none", "balanced" or "balanced_subsample".
func WithClassWeight(mode string) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.classWeight = mode }
}

// WithRandomState fixes the seed. Negative values draw a fresh seed per fit.
func WithRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs sets the number of trees fitted concurrently.
func WithNJobs(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

// WithCallbacks registers per-tree progress callbacks.
func WithCallbacks(callbacks ...Callback) RandomForestOption {
	return func(rf *RandomForestClassifier) { rf.callbacks = append(rf.callbacks, callbacks...) }
}

// Fit fits the forest with unit sample weights.
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	return rf.FitWeighted(X, y, nil)
}

// FitWeighted fits the forest. Per-tree seeds are drawn from the forest seed
// before any tree is scheduled, so the result does not depend on NJobs.
func (rf *RandomForestClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	start := time.Now()
	if err := rf.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if yRows != nSamples {
		return errors.NewDimensionError("RandomForestClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("RandomForestClassifier.Fit", 1, yCols, 1)
	}
	if sampleWeight != nil && len(sampleWeight) != nSamples {
		return errors.NewDimensionError("RandomForestClassifier.FitWeighted", nSamples, len(sampleWeight), 0)
	}

	Xd, ok := X.(*mat.Dense)
	if !ok {
		Xd = mat.DenseCopyOf(X)
	}
	labels := mat.Col(nil, 0, y)
	yv := mat.NewVecDense(nSamples, labels)

	base := make([]float64, nSamples)
	for i := range base {
		base[i] = 1
		if sampleWeight != nil {
			base[i] = sampleWeight[i]
		}
	}
	if rf.classWeight == utils.ClassWeightBalanced ||
		(rf.classWeight == utils.ClassWeightBalancedSubsample && !rf.bootstrap) {
		expanded, err := utils.ComputeSampleWeight(utils.ClassWeightBalanced, labels, nil)
		if err != nil {
			return err
		}
		floats.Mul(base, expanded)
	}

	seed := rf.randomState
	if seed < 0 {
		seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(seed))
	seeds := make([]int64, rf.nEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}

	logger := log.GetLoggerWithName("ensemble")
	estimators := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	var (
		mu        sync.Mutex
		completed int
	)
	err := parallel.ForEach(rf.nEstimators, rf.nJobs, func(i int) error {
		treeRng := rand.New(rand.NewSource(seeds[i]))
		weights := make([]float64, nSamples)
		copy(weights, base)
		if rf.bootstrap {
			indices := utils.BootstrapIndices(treeRng, nSamples)
			floats.Mul(weights, utils.Bincount(indices, nSamples))
			if rf.classWeight == utils.ClassWeightBalancedSubsample {
				subsample, err := utils.ComputeSampleWeight(utils.ClassWeightBalancedSubsample, labels, indices)
				if err != nil {
					return err
				}
				floats.Mul(weights, subsample)
			}
		}

		dt := tree.NewDecisionTreeClassifier(
			tree.WithCriterion(rf.criterion),
			tree.WithMaxDepth(rf.maxDepth),
			tree.WithMinSamplesSplit(rf.minSamplesSplit),
			tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
			tree.WithMaxFeatures(rf.maxFeatures),
			tree.WithRandomState(treeRng.Int63()),
		)
		if err := dt.FitWeighted(Xd, yv, weights); err != nil {
			return errors.Wrapf(err, "tree %d", i)
		}
		estimators[i] = dt

		mu.Lock()
		defer mu.Unlock()
		completed++
		logger.Debug("Tree fitted",
			log.TreeIndexKey, i,
			"depth", dt.GetDepth(),
			"n_leaves", dt.GetNLeaves(),
		)
		env := CallbackEnv{TreeIndex: i, Completed: completed, Total: rf.nEstimators, Elapsed: time.Since(start)}
		for _, cb := range rf.callbacks {
			cb(env)
		}
		return nil
	})
	if err != nil {
		return errors.NewModelError("RandomForestClassifier.Fit", "tree fitting failed", err)
	}

	rf.state.Reset()
	rf.estimators_ = estimators
	rf.classes_ = estimators[0].Classes()
	rf.nClasses_ = len(rf.classes_)
	rf.nFeatures_ = nFeatures
	rf.importances_ = rf.computeImportances()
	rf.state.SetDimensions(nFeatures, nSamples)
	rf.state.SetFitted()

	logger.Info("Random forest fitted",
		log.ModelNameKey, "RandomForestClassifier",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, nSamples,
		log.FeaturesKey, nFeatures,
		log.NEstimatorsKey, rf.nEstimators,
		log.MaxDepthKey, rf.maxDepth,
		log.RandomSeedKey, seed,
		log.DurationMsKey, time.Since(start),
	)
	return nil
}

func (rf *RandomForestClassifier) validateParams() error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", rf.nEstimators)
	}
	switch rf.classWeight {
	case "", utils.ClassWeightNone, utils.ClassWeightBalanced, utils.ClassWeightBalancedSubsample:
	default:
		return errors.NewValidationError("class_weight", "must be none, balanced or balanced_subsample", rf.classWeight)
	}
	return nil
}

// computeImportances averages the normalized importances of trees that have
// at least one split and renormalizes the result.
func (rf *RandomForestClassifier) computeImportances() []float64 {
	out := make([]float64, rf.nFeatures_)
	used := 0
	for _, dt := range rf.estimators_ {
		if dt.GetNLeaves() <= 1 {
			continue
		}
		floats.Add(out, dt.GetFeatureImportances())
		used++
	}
	if used == 0 {
		return out
	}
	floats.Scale(1/float64(used), out)
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

// PredictProba returns the mean class probabilities of the trees
// (n × n_classes, columns in Classes order).
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return rf.predictProba("PredictProba", X)
}

func (rf *RandomForestClassifier) predictProba(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", method); err != nil {
		return nil, err
	}
	n, nFeatures := X.Dims()
	if err := rf.state.RequireFeatures("RandomForestClassifier."+method, nFeatures); err != nil {
		return nil, err
	}

	perTree := make([]mat.Matrix, len(rf.estimators_))
	err := parallel.ForEach(len(rf.estimators_), rf.nJobs, func(i int) error {
		p, err := rf.estimators_[i].PredictProba(X)
		perTree[i] = p
		return err
	})
	if err != nil {
		return nil, err
	}

	out := mat.NewDense(n, rf.nClasses_, nil)
	for _, p := range perTree {
		out.Add(out, p)
	}
	out.Scale(1/float64(len(perTree)), out)
	return out, nil
}

// Predict returns the class with the highest mean probability as an n×1 matrix.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.predictProba("Predict", X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, rf.classes_[floats.MaxIdx(proba.RawRowView(i))])
	}
	return out, nil
}

// Score returns the mean accuracy on the given data.
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := rf.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// Classes returns the sorted class labels.
func (rf *RandomForestClassifier) Classes() []float64 { return rf.classes_ }

// Estimators returns the fitted trees.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier { return rf.estimators_ }

// NFeatures returns the number of features seen during Fit.
func (rf *RandomForestClassifier) NFeatures() int { return rf.nFeatures_ }

// IsFitted reports whether the forest has been fitted or loaded.
func (rf *RandomForestClassifier) IsFitted() bool { return rf.state.IsFitted() }

// GetFeatureImportances returns the impurity-based importances. They are
// non-negative and sum to 1 unless every tree is a single leaf.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	out := make([]float64, len(rf.importances_))
	copy(out, rf.importances_)
	return out
}

// GetParams returns the hyperparameters.
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"class_weight":      rf.classWeight,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams updates hyperparameters.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "n_estimators":
			rf.nEstimators, ok = value.(int)
		case "criterion":
			rf.criterion, ok = value.(string)
		case "max_depth":
			rf.maxDepth, ok = value.(int)
			if ok && rf.maxDepth <= 0 {
				rf.maxDepth = -1
			}
		case "min_samples_split":
			rf.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			rf.minSamplesLeaf, ok = value.(int)
		case "max_features":
			rf.maxFeatures, ok = value.(string)
		case "bootstrap":
			rf.bootstrap, ok = value.(bool)
		case "class_weight":
			rf.classWeight, ok = value.(string)
		case "random_state":
			rf.randomState, ok = value.(int64)
		case "n_jobs":
			rf.nJobs, ok = value.(int)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong type", value)
		}
	}
	return nil
}

// String returns a short description.
func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_depth=%d, class_weight=%s, random_state=%d)",
		rf.nEstimators, rf.maxDepth, rf.classWeight, rf.randomState)
}

type forestSnapshot struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	ClassWeight     string
	RandomState     int64
	NJobs           int
	Estimators      []*tree.DecisionTreeClassifier
	Classes         []float64
	NFeatures       int
	Importances     []float64
	State           model.ModelState
}

// GobEncode implements gob.GobEncoder.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	return model.EncodeSnapshot(forestSnapshot{
		NEstimators:     rf.nEstimators,
		Criterion:       rf.criterion,
		MaxDepth:        rf.maxDepth,
		MinSamplesSplit: rf.minSamplesSplit,
		MinSamplesLeaf:  rf.minSamplesLeaf,
		MaxFeatures:     rf.maxFeatures,
		Bootstrap:       rf.bootstrap,
		ClassWeight:     rf.classWeight,
		RandomState:     rf.randomState,
		NJobs:           rf.nJobs,
		Estimators:      rf.estimators_,
		Classes:         rf.classes_,
		NFeatures:       rf.nFeatures_,
		Importances:     rf.importances_,
		State:           rf.state.GetState(),
	})
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var snap forestSnapshot
	if err := model.DecodeSnapshot(data, &snap); err != nil {
		return err
	}
	rf.nEstimators = snap.NEstimators
	rf.criterion = snap.Criterion
	rf.maxDepth = snap.MaxDepth
	rf.minSamplesSplit = snap.MinSamplesSplit
	rf.minSamplesLeaf = snap.MinSamplesLeaf
	rf.maxFeatures = snap.MaxFeatures
	rf.bootstrap = snap.Bootstrap
	rf.classWeight = snap.ClassWeight
	rf.randomState = snap.RandomState
	rf.nJobs = snap.NJobs
	rf.estimators_ = snap.Estimators
	rf.classes_ = snap.Classes
	rf.nClasses_ = len(snap.Classes)
	rf.nFeatures_ = snap.NFeatures
	rf.importances_ = snap.Importances
	rf.state = model.NewStateManager()
	rf.state.SetState(snap.State)
	return nil
}
