// Package tree implements CART decision trees compatible with scikit-learn's
// DecisionTreeClassifier.
package tree

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

// featureThreshold is the smallest gap between two values that can be split.
const featureThreshold = 1e-7

// Max feature strategies.
const (
	MaxFeaturesAll  = "all"
	MaxFeaturesSqrt = "sqrt"
	MaxFeaturesLog2 = "log2"
)

// Node is one entry of the flat node array. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Value holds the weighted class distribution, normalized to sum to 1.
	Value           []float64
	Impurity        float64
	Samples         int
	WeightedSamples float64
	Depth           int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// DecisionTreeClassifier is a CART classifier.
type DecisionTreeClassifier struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // -1 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "all", "sqrt", "log2"
	randomState     int64  // -1 draws a random seed per fit

	// Model parameters
	classes_     []float64
	nClasses_    int
	nFeatures_   int
	nodes_       []Node
	importances_ []float64
}

// DecisionTreeOption is a functional option for DecisionTreeClassifier
type DecisionTreeOption func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a tree with scikit-learn's defaults.
func NewDecisionTreeClassifier(opts ...DecisionTreeOption) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        -1,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     MaxFeaturesAll,
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure ("gini" or "entropy").
func WithCriterion(criterion string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.criterion = criterion }
}

// WithMaxDepth limits the depth of the tree. Values <= 0 mean unlimited.
func WithMaxDepth(depth int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		if depth <= 0 {
			depth = -1
		}
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples in each leaf.
func WithMinSamplesLeaf(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithMaxFeatures sets how many features are examined per split.
func WithMaxFeatures(strategy string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.maxFeatures = strategy }
}

// WithRandomState fixes the seed of the feature permutation.
func WithRandomState(seed int64) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

// Fit builds the tree with unit sample weights.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	return dt.FitWeighted(X, y, nil)
}

// FitWeighted builds the tree. Samples with zero weight are ignored when
// searching splits but still contribute their label to the class set.
func (dt *DecisionTreeClassifier) FitWeighted(X, y mat.Matrix, sampleWeight []float64) error {
	if err := dt.validateParams(); err != nil {
		return err
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if yRows != nSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", 1, yCols, 1)
	}

	weights, err := checkSampleWeight(sampleWeight, nSamples)
	if err != nil {
		return err
	}

	dt.extractClasses(y)
	yIdx := make([]int, nSamples)
	for i := range yIdx {
		yIdx[i] = sort.SearchFloat64s(dt.classes_, y.At(i, 0))
	}

	seed := dt.randomState
	if seed < 0 {
		seed = rand.Int63()
	}

	b := &builder{
		dt:          dt,
		x:           rawMatrix(X),
		y:           yIdx,
		w:           weights,
		nClasses:    dt.nClasses_,
		nFeatures:   nFeatures,
		maxFeatures: resolveMaxFeatures(dt.maxFeatures, nFeatures),
		rng:         rand.New(rand.NewSource(seed)),
		importances: make([]float64, nFeatures),
	}

	indices := make([]int, 0, nSamples)
	for i, w := range weights {
		if w > 0 {
			indices = append(indices, i)
		}
	}

	dt.state.Reset()
	dt.nFeatures_ = nFeatures
	b.build(indices, 0)
	dt.nodes_ = b.nodes

	rootWeight := dt.nodes_[0].WeightedSamples
	var total float64
	for j := range b.importances {
		b.importances[j] /= rootWeight
		total += b.importances[j]
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	dt.importances_ = b.importances

	dt.state.SetDimensions(nFeatures, nSamples)
	dt.state.SetFitted()
	return nil
}

func (dt *DecisionTreeClassifier) validateParams() error {
	switch dt.criterion {
	case "gini", "entropy":
	default:
		return errors.NewValidationError("criterion", "must be gini or entropy", dt.criterion)
	}
	switch dt.maxFeatures {
	case MaxFeaturesAll, MaxFeaturesSqrt, MaxFeaturesLog2, "":
	default:
		return errors.NewValidationError("max_features", "must be all, sqrt or log2", dt.maxFeatures)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", dt.minSamplesLeaf)
	}
	return nil
}

func checkSampleWeight(sampleWeight []float64, n int) ([]float64, error) {
	if sampleWeight == nil {
		weights := make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
		return weights, nil
	}
	if len(sampleWeight) != n {
		return nil, errors.NewDimensionError("DecisionTreeClassifier.FitWeighted", n, len(sampleWeight), 0)
	}
	var total float64
	for i, w := range sampleWeight {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, errors.NewValidationError("sample_weight", fmt.Sprintf("invalid weight at index %d", i), w)
		}
		total += w
	}
	if total <= 0 {
		return nil, errors.NewValueError("DecisionTreeClassifier.FitWeighted", "sample weights sum to zero")
	}
	return sampleWeight, nil
}

func (dt *DecisionTreeClassifier) extractClasses(y mat.Matrix) {
	n, _ := y.Dims()
	seen := make(map[float64]struct{})
	dt.classes_ = dt.classes_[:0]
	for i := 0; i < n; i++ {
		v := y.At(i, 0)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			dt.classes_ = append(dt.classes_, v)
		}
	}
	sort.Float64s(dt.classes_)
	dt.nClasses_ = len(dt.classes_)
}

func resolveMaxFeatures(strategy string, nFeatures int) int {
	var k int
	switch strategy {
	case MaxFeaturesSqrt:
		k = int(math.Sqrt(float64(nFeatures)))
	case MaxFeaturesLog2:
		k = int(math.Log2(float64(nFeatures)))
	default:
		k = nFeatures
	}
	if k < 1 {
		k = 1
	}
	return k
}

// rawMatrix gives row-major access to X without copying a *mat.Dense.
func rawMatrix(X mat.Matrix) rowMajor {
	d, ok := X.(*mat.Dense)
	if !ok {
		d = mat.DenseCopyOf(X)
	}
	raw := d.RawMatrix()
	return rowMajor{data: raw.Data, stride: raw.Stride}
}

type rowMajor struct {
	data   []float64
	stride int
}

func (g rowMajor) at(i, j int) float64 { return g.data[i*g.stride+j] }

// Predict returns the most probable class for every row as an n×1 matrix.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.predictProba("Predict", X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, dt.classes_[argmax(proba.RawRowView(i))])
	}
	return out, nil
}

// PredictProba returns class probabilities (n × n_classes, columns in
// Classes order).
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	return dt.predictProba("PredictProba", X)
}

func (dt *DecisionTreeClassifier) predictProba(method string, X mat.Matrix) (*mat.Dense, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", method); err != nil {
		return nil, err
	}
	n, nFeatures := X.Dims()
	if err := dt.state.RequireFeatures("DecisionTreeClassifier."+method, nFeatures); err != nil {
		return nil, err
	}
	x := rawMatrix(X)
	out := mat.NewDense(n, dt.nClasses_, nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, dt.nodes_[dt.apply(x, i)].Value)
	}
	return out, nil
}

// apply returns the index of the leaf reached by row i.
func (dt *DecisionTreeClassifier) apply(x rowMajor, i int) int {
	k := 0
	for !dt.nodes_[k].IsLeaf() {
		node := &dt.nodes_[k]
		if x.at(i, node.Feature) <= node.Threshold {
			k = node.Left
		} else {
			k = node.Right
		}
	}
	return k
}

func argmax(values []float64) int {
	best := 0
	for j, v := range values {
		if v > values[best] {
			best = j
		}
	}
	return best
}

// Score returns the mean accuracy on the given data.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := dt.Predict(X)
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

// Classes returns the sorted class labels seen during Fit.
func (dt *DecisionTreeClassifier) Classes() []float64 { return dt.classes_ }

// Nodes returns the flat node array. The root is node 0.
func (dt *DecisionTreeClassifier) Nodes() []Node { return dt.nodes_ }

// IsFitted reports whether the tree has been built.
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.state.IsFitted() }

// GetFeatureImportances returns the normalized total impurity decrease per
// feature. All zeros when the tree is a single leaf.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	out := make([]float64, len(dt.importances_))
	copy(out, dt.importances_)
	return out
}

// GetDepth returns the depth of the deepest leaf (a single leaf has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int {
	depth := 0
	for i := range dt.nodes_ {
		if dt.nodes_[i].Depth > depth {
			depth = dt.nodes_[i].Depth
		}
	}
	return depth
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	leaves := 0
	for i := range dt.nodes_ {
		if dt.nodes_[i].IsLeaf() {
			leaves++
		}
	}
	return leaves
}

// GetParams returns the hyperparameters.
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams updates hyperparameters.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "criterion":
			dt.criterion, ok = value.(string)
		case "max_depth":
			dt.maxDepth, ok = value.(int)
			if ok && dt.maxDepth <= 0 {
				dt.maxDepth = -1
			}
		case "min_samples_split":
			dt.minSamplesSplit, ok = value.(int)
		case "min_samples_leaf":
			dt.minSamplesLeaf, ok = value.(int)
		case "max_features":
			dt.maxFeatures, ok = value.(string)
		case "random_state":
			dt.randomState, ok = value.(int64)
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
func (dt *DecisionTreeClassifier) String() string {
	if !dt.state.IsFitted() {
		return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d)", dt.criterion, dt.maxDepth)
	}
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d, depth=%d, n_leaves=%d)",
		dt.criterion, dt.maxDepth, dt.GetDepth(), dt.GetNLeaves())
}

type treeSnapshot struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	RandomState     int64
	Classes         []float64
	NFeatures       int
	Nodes           []Node
	Importances     []float64
	State           model.ModelState
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	return model.EncodeSnapshot(treeSnapshot{
		Criterion:       dt.criterion,
		MaxDepth:        dt.maxDepth,
		MinSamplesSplit: dt.minSamplesSplit,
		MinSamplesLeaf:  dt.minSamplesLeaf,
		MaxFeatures:     dt.maxFeatures,
		RandomState:     dt.randomState,
		Classes:         dt.classes_,
		NFeatures:       dt.nFeatures_,
		Nodes:           dt.nodes_,
		Importances:     dt.importances_,
		State:           dt.state.GetState(),
	})
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := model.DecodeSnapshot(data, &snap); err != nil {
		return err
	}
	dt.criterion = snap.Criterion
	dt.maxDepth = snap.MaxDepth
	dt.minSamplesSplit = snap.MinSamplesSplit
	dt.minSamplesLeaf = snap.MinSamplesLeaf
	dt.maxFeatures = snap.MaxFeatures
	dt.randomState = snap.RandomState
	dt.classes_ = snap.Classes
	dt.nClasses_ = len(snap.Classes)
	dt.nFeatures_ = snap.NFeatures
	dt.nodes_ = snap.Nodes
	dt.importances_ = snap.Importances
	dt.state = model.NewStateManager()
	dt.state.SetState(snap.State)
	return nil
}
