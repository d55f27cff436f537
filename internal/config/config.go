// Package config loads the training workflow settings from a YAML file,
// environment variables and an optional .env file.
package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fraudlab/fraudforest/pkg/errors"
	"github.com/fraudlab/fraudforest/pkg/log"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAUDFOREST_"

// Settings is the full workflow configuration.
type Settings struct {
	Data     DataSettings     `yaml:"data"`
	Pipeline PipelineSettings `yaml:"pipeline"`
	Forest   ForestSettings   `yaml:"forest"`
	Output   OutputSettings   `yaml:"output"`
	LogLevel string           `yaml:"logLevel"`
}

// DataSettings describes the labeled transaction dataset.
type DataSettings struct {
	Path            string  `yaml:"path"`
	TimestampColumn string  `yaml:"timestampColumn"`
	LabelColumn     string  `yaml:"labelColumn"`
	TrainFraction   float64 `yaml:"trainFraction"`
}

// PipelineSettings configures the feature pipeline. When ArtifactPath is set
// the pipeline is loaded from it instead of being fitted on the training rows.
// Empty column lists are inferred from the dataset.
type PipelineSettings struct {
	ArtifactPath       string   `yaml:"artifactPath"`
	NumericColumns     []string `yaml:"numericColumns"`
	CategoricalColumns []string `yaml:"categoricalColumns"`
	Scaler             string   `yaml:"scaler"`
	HandleUnknown      string   `yaml:"handleUnknown"`
}

// ForestSettings holds the random forest hyperparameters.
type ForestSettings struct {
	NEstimators int    `yaml:"nEstimators"`
	MaxDepth    int    `yaml:"maxDepth"`
	RandomState int64  `yaml:"randomState"`
	ClassWeight string `yaml:"classWeight"`
	MaxFeatures string `yaml:"maxFeatures"`
	Criterion   string `yaml:"criterion"`
	NJobs       int    `yaml:"nJobs"`
}

// OutputSettings lists where artifacts go. Empty optional paths disable the
// corresponding output.
type OutputSettings struct {
	ModelPath       string `yaml:"modelPath"`
	ReportDir       string `yaml:"reportDir"`
	ChartFormat     string `yaml:"chartFormat"`
	PredictionsPath string `yaml:"predictionsPath"`
	RegistryPath    string `yaml:"registryPath"`
	MetricsFile     string `yaml:"metricsFile"`
	TopN            int    `yaml:"topN"`
}

// Default returns the settings of the reference training run.
func Default() Settings {
	return Settings{
		Data: DataSettings{
			TimestampColumn: "timestamp",
			LabelColumn:     "label",
			TrainFraction:   0.7,
		},
		Pipeline: PipelineSettings{
			Scaler:        "standard",
			HandleUnknown: "ignore",
		},
		Forest: ForestSettings{
			NEstimators: 16,
			MaxDepth:    8,
			RandomState: 42,
			ClassWeight: "balanced_subsample",
			MaxFeatures: "sqrt",
			Criterion:   "gini",
		},
		Output: OutputSettings{
			ModelPath:   "artifacts/forest.gob",
			ReportDir:   "artifacts/reports",
			ChartFormat: "png",
			TopN:        10,
		},
		LogLevel: "info",
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error when optional is true.
func LoadEnvFile(path string, optional bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

// Load reads the YAML file at path (skipped when path is empty) on top of
// Default, applies FRAUDFOREST_* environment overrides and validates the
// result.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "read config file %s", path)
		}
		defer f.Close()
		if err := decode(f, &s); err != nil {
			return Settings{}, errors.Wrapf(err, "parse config file %s", path)
		}
	}
	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, errors.Wrap(err, "configuration validation failed")
	}
	return s, nil
}

// Parse decodes YAML on top of Default without environment overrides.
func Parse(data []byte) (Settings, error) {
	s := Default()
	if err := decode(bytes.NewReader(data), &s); err != nil {
		return Settings{}, err
	}
	return s, s.Validate()
}

func decode(r io.Reader, s *Settings) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (s *Settings) applyEnv() error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = errors.NewValidationError(EnvPrefix+key, "not an integer", v)
				return
			}
			*dst = n
		}
	}

	str("DATA_PATH", &s.Data.Path)
	str("TIMESTAMP_COLUMN", &s.Data.TimestampColumn)
	str("LABEL_COLUMN", &s.Data.LabelColumn)
	if v, ok := lookup("TRAIN_FRACTION"); ok {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return errors.NewValidationError(EnvPrefix+"TRAIN_FRACTION", "not a number", v)
		}
		s.Data.TrainFraction = f
	}

	str("PIPELINE_PATH", &s.Pipeline.ArtifactPath)
	list("NUMERIC_COLUMNS", &s.Pipeline.NumericColumns)
	list("CATEGORICAL_COLUMNS", &s.Pipeline.CategoricalColumns)
	str("SCALER", &s.Pipeline.Scaler)
	str("HANDLE_UNKNOWN", &s.Pipeline.HandleUnknown)

	num("N_ESTIMATORS", &s.Forest.NEstimators)
	num("MAX_DEPTH", &s.Forest.MaxDepth)
	num("N_JOBS", &s.Forest.NJobs)
	if v, ok := lookup("RANDOM_STATE"); ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return errors.NewValidationError(EnvPrefix+"RANDOM_STATE", "not an integer", v)
		}
		s.Forest.RandomState = n
	}
	str("CLASS_WEIGHT", &s.Forest.ClassWeight)
	str("MAX_FEATURES", &s.Forest.MaxFeatures)
	str("CRITERION", &s.Forest.Criterion)

	str("MODEL_PATH", &s.Output.ModelPath)
	str("REPORT_DIR", &s.Output.ReportDir)
	str("CHART_FORMAT", &s.Output.ChartFormat)
	str("PREDICTIONS_PATH", &s.Output.PredictionsPath)
	str("REGISTRY_PATH", &s.Output.RegistryPath)
	str("METRICS_FILE", &s.Output.MetricsFile)
	num("TOP_N", &s.Output.TopN)

	str("LOG_LEVEL", &s.LogLevel)
	return err
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (s *Settings) Validate() error {
	if s.Data.Path == "" {
		return errors.NewValidationError("data.path", "dataset path is required", s.Data.Path)
	}
	if s.Data.TimestampColumn == "" || s.Data.LabelColumn == "" {
		return errors.NewValidationError("data", "timestamp and label columns are required", s.Data)
	}
	if s.Data.TimestampColumn == s.Data.LabelColumn {
		return errors.NewValidationError("data.labelColumn", "must differ from the timestamp column", s.Data.LabelColumn)
	}
	if !(s.Data.TrainFraction > 0 && s.Data.TrainFraction < 1) {
		return errors.NewValidationError("data.trainFraction", "must be in (0, 1)", s.Data.TrainFraction)
	}

	seen := map[string]string{
		s.Data.TimestampColumn: "timestamp column",
		s.Data.LabelColumn:     "label column",
	}
	for _, col := range append(append([]string(nil), s.Pipeline.NumericColumns...), s.Pipeline.CategoricalColumns...) {
		if prev, dup := seen[col]; dup {
			return errors.NewValidationError("pipeline", "column already used as "+prev, col)
		}
		seen[col] = "feature column"
	}
	if !oneOf(s.Pipeline.Scaler, "standard", "minmax", "none") {
		return errors.NewValidationError("pipeline.scaler", "must be standard, minmax or none", s.Pipeline.Scaler)
	}
	if !oneOf(s.Pipeline.HandleUnknown, "ignore", "error") {
		return errors.NewValidationError("pipeline.handleUnknown", "must be ignore or error", s.Pipeline.HandleUnknown)
	}

	if s.Forest.NEstimators < 1 {
		return errors.NewValidationError("forest.nEstimators", "must be at least 1", s.Forest.NEstimators)
	}
	if s.Forest.MaxDepth < 0 {
		return errors.NewValidationError("forest.maxDepth", "must be >= 0 (0 means unlimited)", s.Forest.MaxDepth)
	}
	if !oneOf(s.Forest.ClassWeight, "none", "balanced", "balanced_subsample") {
		return errors.NewValidationError("forest.classWeight", "must be none, balanced or balanced_subsample", s.Forest.ClassWeight)
	}
	if !oneOf(s.Forest.MaxFeatures, "all", "sqrt", "log2") {
		return errors.NewValidationError("forest.maxFeatures", "must be all, sqrt or log2", s.Forest.MaxFeatures)
	}
	if !oneOf(s.Forest.Criterion, "gini", "entropy") {
		return errors.NewValidationError("forest.criterion", "must be gini or entropy", s.Forest.Criterion)
	}

	if s.Output.ModelPath == "" {
		return errors.NewValidationError("output.modelPath", "model path is required", s.Output.ModelPath)
	}
	if !oneOf(s.Output.ChartFormat, "png", "svg", "pdf") {
		return errors.NewValidationError("output.chartFormat", "must be png, svg or pdf", s.Output.ChartFormat)
	}
	if s.Output.TopN < 0 {
		return errors.NewValidationError("output.topN", "must be >= 0 (0 means all)", s.Output.TopN)
	}
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
