package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, 0.7, s.Data.TrainFraction)
	assert.Equal(t, 16, s.Forest.NEstimators)
	assert.Equal(t, 8, s.Forest.MaxDepth)
	assert.Equal(t, int64(42), s.Forest.RandomState)
	assert.Equal(t, "balanced_subsample", s.Forest.ClassWeight)

	// Only the dataset path is missing from the defaults.
	err := s.Validate()
	require.Error(t, err)
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "data.path", verr.ParamName)

	s.Data.Path = "transactions.csv"
	assert.NoError(t, s.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
data:
  path: data/tx.parquet
  labelColumn: is_fraud
pipeline:
  numericColumns: [amount, velocity_1h]
  categoricalColumns: [channel]
  scaler: minmax
forest:
  nEstimators: 32
  maxDepth: 0
  nJobs: 4
output:
  modelPath: out/model.gob
  chartFormat: svg
logLevel: debug
`)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data/tx.parquet", s.Data.Path)
	assert.Equal(t, "is_fraud", s.Data.LabelColumn)
	assert.Equal(t, "timestamp", s.Data.TimestampColumn)
	assert.Equal(t, []string{"amount", "velocity_1h"}, s.Pipeline.NumericColumns)
	assert.Equal(t, "minmax", s.Pipeline.Scaler)
	assert.Equal(t, 32, s.Forest.NEstimators)
	assert.Equal(t, 0, s.Forest.MaxDepth)
	assert.Equal(t, 4, s.Forest.NJobs)
	assert.Equal(t, "sqrt", s.Forest.MaxFeatures)
	assert.Equal(t, "svg", s.Output.ChartFormat)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
data:
  path: tx.csv
forest:
  trees: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trees")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "data:\n  path: from-file.csv\n")
	t.Setenv("FRAUDFOREST_DATA_PATH", "from-env.csv")
	t.Setenv("FRAUDFOREST_N_ESTIMATORS", "64")
	t.Setenv("FRAUDFOREST_RANDOM_STATE", "7")
	t.Setenv("FRAUDFOREST_TRAIN_FRACTION", "0.8")
	t.Setenv("FRAUDFOREST_CATEGORICAL_COLUMNS", "channel, mcc ,")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.csv", s.Data.Path)
	assert.Equal(t, 64, s.Forest.NEstimators)
	assert.Equal(t, int64(7), s.Forest.RandomState)
	assert.Equal(t, 0.8, s.Data.TrainFraction)
	assert.Equal(t, []string{"channel", "mcc"}, s.Pipeline.CategoricalColumns)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("FRAUDFOREST_DATA_PATH", "tx.csv")
	t.Setenv("FRAUDFOREST_MAX_DEPTH", "deep")

	_, err := Load("")
	require.Error(t, err)
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "FRAUDFOREST_MAX_DEPTH", verr.ParamName)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "FRAUDFOREST_DATA_PATH=dotenv.csv\nFRAUDFOREST_TOP_N=3\n")
	t.Setenv("FRAUDFOREST_DATA_PATH", "")
	t.Setenv("FRAUDFOREST_TOP_N", "")
	require.NoError(t, os.Unsetenv("FRAUDFOREST_DATA_PATH"))
	require.NoError(t, os.Unsetenv("FRAUDFOREST_TOP_N"))

	require.NoError(t, LoadEnvFile(envPath, false))
	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv.csv", s.Data.Path)
	assert.Equal(t, 3, s.Output.TopN)

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env"), true))
	assert.Error(t, LoadEnvFile(filepath.Join(dir, "missing.env"), false))
	assert.NoError(t, LoadEnvFile("", false))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		param  string
	}{
		{"fraction zero", func(s *Settings) { s.Data.TrainFraction = 0 }, "data.trainFraction"},
		{"fraction one", func(s *Settings) { s.Data.TrainFraction = 1 }, "data.trainFraction"},
		{"label equals timestamp", func(s *Settings) { s.Data.LabelColumn = "timestamp" }, "data.labelColumn"},
		{"label as feature", func(s *Settings) { s.Pipeline.NumericColumns = []string{"label"} }, "pipeline"},
		{"duplicate feature", func(s *Settings) {
			s.Pipeline.NumericColumns = []string{"amount"}
			s.Pipeline.CategoricalColumns = []string{"amount"}
		}, "pipeline"},
		{"scaler", func(s *Settings) { s.Pipeline.Scaler = "robust" }, "pipeline.scaler"},
		{"handle unknown", func(s *Settings) { s.Pipeline.HandleUnknown = "skip" }, "pipeline.handleUnknown"},
		{"estimators", func(s *Settings) { s.Forest.NEstimators = 0 }, "forest.nEstimators"},
		{"depth", func(s *Settings) { s.Forest.MaxDepth = -2 }, "forest.maxDepth"},
		{"class weight", func(s *Settings) { s.Forest.ClassWeight = "auto" }, "forest.classWeight"},
		{"max features", func(s *Settings) { s.Forest.MaxFeatures = "half" }, "forest.maxFeatures"},
		{"criterion", func(s *Settings) { s.Forest.Criterion = "mse" }, "forest.criterion"},
		{"model path", func(s *Settings) { s.Output.ModelPath = "" }, "output.modelPath"},
		{"chart format", func(s *Settings) { s.Output.ChartFormat = "gif" }, "output.chartFormat"},
		{"top n", func(s *Settings) { s.Output.TopN = -1 }, "output.topN"},
		{"log level", func(s *Settings) { s.LogLevel = "trace" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			s.Data.Path = "tx.csv"
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.param, verr.ParamName)
		})
	}
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte("data:\n  path: x.csv\n"))
	require.NoError(t, err)
	assert.Equal(t, "x.csv", s.Data.Path)

	_, err = Parse(nil)
	assert.Error(t, err)
}
