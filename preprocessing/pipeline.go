package preprocessing

import (
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/dataset"
	"github.com/fraudlab/fraudforest/pkg/errors"
	"github.com/fraudlab/fraudforest/pkg/log"
)

// FeatureTransformer maps raw transaction rows to a numeric feature matrix
// aligned row-for-row with the input.
type FeatureTransformer interface {
	Fit(frame *dataset.Frame) error
	Transform(frame *dataset.Frame) (*mat.Dense, error)
	FitTransform(frame *dataset.Frame) (*mat.Dense, error)
	FeatureNames() []string
}

// Scaler kinds accepted by ColumnPipeline.
const (
	ScalerStandard = "standard"
	ScalerMinMax   = "minmax"
	ScalerNone     = "none"
)

// ColumnPipeline imputes and scales numeric columns and one-hot encodes
// categorical ones. The output holds the numeric block first, then one block
// per categorical column.
type ColumnPipeline struct {
	state  *model.StateManager
	logger log.Logger

	numeric       []string
	categorical   []string
	scalerKind    string
	handleUnknown string

	fillValues []float64
	standard   *StandardScaler
	minmax     *MinMaxScaler
	encoder    *OneHotEncoder
}

// PipelineOption configures a ColumnPipeline.
type PipelineOption func(*ColumnPipeline)

// WithScaler selects "standard" (default), "minmax" or "none".
func WithScaler(kind string) PipelineOption {
	return func(p *ColumnPipeline) { p.scalerKind = kind }
}

// WithHandleUnknown selects how unseen categories are treated: "ignore"
// (default) or "error".
func WithHandleUnknown(mode string) PipelineOption {
	return func(p *ColumnPipeline) { p.handleUnknown = mode }
}

// NewColumnPipeline creates an unfitted pipeline over the named columns.
func NewColumnPipeline(numeric, categorical []string, opts ...PipelineOption) *ColumnPipeline {
	p := &ColumnPipeline{
		state:         model.NewStateManager(),
		logger:        log.GetLoggerWithName("preprocessing"),
		numeric:       append([]string(nil), numeric...),
		categorical:   append([]string(nil), categorical...),
		scalerKind:    ScalerStandard,
		handleUnknown: HandleUnknownIgnore,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InferColumns splits the frame's columns by kind, skipping the excluded names.
func InferColumns(frame *dataset.Frame, exclude ...string) (numeric, categorical []string) {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	for _, c := range frame.Columns() {
		if skip[c.Name] {
			continue
		}
		if c.Kind == dataset.Numeric {
			numeric = append(numeric, c.Name)
		} else {
			categorical = append(categorical, c.Name)
		}
	}
	return numeric, categorical
}

// NumericColumns returns the numeric input columns.
func (p *ColumnPipeline) NumericColumns() []string { return p.numeric }

// CategoricalColumns returns the categorical input columns.
func (p *ColumnPipeline) CategoricalColumns() []string { return p.categorical }

// IsFitted reports whether the pipeline has been fitted or loaded.
func (p *ColumnPipeline) IsFitted() bool { return p.state.IsFitted() }

// Fit learns imputation values, scaling statistics and categories.
func (p *ColumnPipeline) Fit(frame *dataset.Frame) error {
	start := time.Now()
	if len(p.numeric)+len(p.categorical) == 0 {
		return errors.NewValidationError("columns", "pipeline needs at least one input column", 0)
	}
	switch p.scalerKind {
	case ScalerStandard, ScalerMinMax, ScalerNone:
	default:
		return errors.NewValidationError("scaler", "must be standard, minmax or none", p.scalerKind)
	}
	if frame == nil || frame.Len() == 0 {
		return errors.NewModelError("ColumnPipeline.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := frame.Require(append(append([]string(nil), p.numeric...), p.categorical...)...); err != nil {
		return err
	}

	p.state.Reset()
	p.standard, p.minmax, p.encoder = nil, nil, nil

	if len(p.numeric) > 0 {
		raw, err := p.numericBlock(frame)
		if err != nil {
			return err
		}
		p.fillValues = make([]float64, len(p.numeric))
		col := make([]float64, frame.Len())
		for j := range p.numeric {
			mat.Col(col, j, raw)
			p.fillValues[j] = nanMean(col)
		}
		impute(raw, p.fillValues)

		switch p.scalerKind {
		case ScalerStandard:
			p.standard = NewStandardScalerDefault()
			err = p.standard.Fit(raw)
		case ScalerMinMax:
			p.minmax = NewMinMaxScalerDefault()
			err = p.minmax.Fit(raw)
		}
		if err != nil {
			return err
		}
	}

	if len(p.categorical) > 0 {
		cols, err := p.categoricalValues(frame)
		if err != nil {
			return err
		}
		p.encoder = NewOneHotEncoder(p.handleUnknown)
		if err := p.encoder.Fit(cols); err != nil {
			return err
		}
	}

	if len(p.FeatureNames()) == 0 {
		return errors.NewValueError("ColumnPipeline.Fit", "categorical columns hold no values")
	}
	p.state.SetDimensions(len(p.FeatureNames()), frame.Len())
	p.state.SetFitted()
	p.logger.Info("Feature pipeline fitted",
		log.ModelNameKey, "ColumnPipeline",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, frame.Len(),
		log.FeaturesKey, len(p.FeatureNames()),
		log.DurationMsKey, time.Since(start),
	)
	return nil
}

// Transform maps rows to features using the fitted state.
func (p *ColumnPipeline) Transform(frame *dataset.Frame) (*mat.Dense, error) {
	if err := p.state.RequireFitted("ColumnPipeline", "Transform"); err != nil {
		return nil, err
	}
	if frame == nil || frame.Len() == 0 {
		return nil, errors.NewValueError("ColumnPipeline.Transform", "no rows to transform")
	}
	if err := frame.Require(append(append([]string(nil), p.numeric...), p.categorical...)...); err != nil {
		return nil, err
	}

	n := frame.Len()
	width, _ := p.state.GetDimensions()
	out := mat.NewDense(n, width, nil)
	offset := 0

	if len(p.numeric) > 0 {
		raw, err := p.numericBlock(frame)
		if err != nil {
			return nil, err
		}
		impute(raw, p.fillValues)

		var scaled mat.Matrix = raw
		switch {
		case p.standard != nil:
			scaled, err = p.standard.Transform(raw)
		case p.minmax != nil:
			scaled, err = p.minmax.Transform(raw)
		}
		if err != nil {
			return nil, err
		}
		out.Slice(0, n, 0, len(p.numeric)).(*mat.Dense).Copy(scaled)
		offset = len(p.numeric)
	}

	if p.encoder != nil && p.encoder.NOutputs() > 0 {
		cols, err := p.categoricalValues(frame)
		if err != nil {
			return nil, err
		}
		encoded, err := p.encoder.Transform(cols)
		if err != nil {
			return nil, err
		}
		out.Slice(0, n, offset, width).(*mat.Dense).Copy(encoded)
	}
	return out, nil
}

// FitTransform fits on frame and transforms it.
func (p *ColumnPipeline) FitTransform(frame *dataset.Frame) (*mat.Dense, error) {
	if err := p.Fit(frame); err != nil {
		return nil, err
	}
	return p.Transform(frame)
}

// FeatureNames returns the output column names.
func (p *ColumnPipeline) FeatureNames() []string {
	names := append([]string(nil), p.numeric...)
	if p.encoder != nil {
		names = append(names, p.encoder.FeatureNames(p.categorical)...)
	}
	return names
}

func (p *ColumnPipeline) numericBlock(frame *dataset.Frame) (*mat.Dense, error) {
	raw := mat.NewDense(frame.Len(), len(p.numeric), nil)
	for j, name := range p.numeric {
		values, err := frame.Float(name)
		if err != nil {
			return nil, err
		}
		raw.SetCol(j, values)
	}
	return raw, nil
}

// categoricalValues returns the categorical inputs as strings. Numeric
// columns listed as categorical are formatted, NaN becoming missing.
func (p *ColumnPipeline) categoricalValues(frame *dataset.Frame) ([][]string, error) {
	cols := make([][]string, len(p.categorical))
	for j, name := range p.categorical {
		c, ok := frame.Column(name)
		if !ok {
			return nil, frame.Require(name)
		}
		if c.Kind == dataset.Categorical {
			cols[j] = c.Strings
			continue
		}
		values := make([]string, len(c.Floats))
		for i, v := range c.Floats {
			if !math.IsNaN(v) {
				values[i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		cols[j] = values
	}
	return cols, nil
}

// nanMean is the mean of the non-NaN values, 0 when there are none.
func nanMean(values []float64) float64 {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return 0
	}
	return stat.Mean(present, nil)
}

func impute(m *mat.Dense, fill []float64) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.IsNaN(m.At(i, j)) {
				m.Set(i, j, fill[j])
			}
		}
	}
}

type pipelineSnapshot struct {
	Numeric       []string
	Categorical   []string
	ScalerKind    string
	HandleUnknown string
	FillValues    []float64
	Standard      *StandardScaler
	MinMax        *MinMaxScaler
	Encoder       *OneHotEncoder
	State         model.ModelState
}

// GobEncode implements gob.GobEncoder.
func (p *ColumnPipeline) GobEncode() ([]byte, error) {
	return model.EncodeSnapshot(pipelineSnapshot{
		Numeric:       p.numeric,
		Categorical:   p.categorical,
		ScalerKind:    p.scalerKind,
		HandleUnknown: p.handleUnknown,
		FillValues:    p.fillValues,
		Standard:      p.standard,
		MinMax:        p.minmax,
		Encoder:       p.encoder,
		State:         p.state.GetState(),
	})
}

// GobDecode implements gob.GobDecoder.
func (p *ColumnPipeline) GobDecode(data []byte) error {
	var snap pipelineSnapshot
	if err := model.DecodeSnapshot(data, &snap); err != nil {
		return err
	}
	p.numeric, p.categorical = snap.Numeric, snap.Categorical
	p.scalerKind, p.handleUnknown = snap.ScalerKind, snap.HandleUnknown
	p.fillValues = snap.FillValues
	p.standard, p.minmax, p.encoder = snap.Standard, snap.MinMax, snap.Encoder
	p.state = model.NewStateManager()
	p.state.SetState(snap.State)
	p.logger = log.GetLoggerWithName("preprocessing")
	return nil
}

// SavePipeline writes a fitted pipeline artifact.
func SavePipeline(p *ColumnPipeline, path string) error {
	if err := p.state.RequireFitted("ColumnPipeline", "Save"); err != nil {
		return err
	}
	return model.SaveModel(p, path)
}

// LoadPipeline reads a pipeline artifact written by SavePipeline.
func LoadPipeline(path string) (*ColumnPipeline, error) {
	p := &ColumnPipeline{}
	if err := model.LoadModel(p, path); err != nil {
		return nil, err
	}
	if !p.state.IsFitted() {
		return nil, errors.NewModelError("LoadPipeline", "artifact holds an unfitted pipeline", nil)
	}
	return p, nil
}
