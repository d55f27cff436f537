package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudlab/fraudforest/dataset"
)

func writeConfig(t *testing.T) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	n := 120
	ts := make([]float64, n)
	amount := make([]float64, n)
	label := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i)
		amount[i] = float64(10 + i%7)
		if i%6 == 0 {
			amount[i] = 900
			label[i] = 1
		}
	}
	frame, err := dataset.NewFrame(
		dataset.NewNumeric("timestamp", ts),
		dataset.NewNumeric("amount", amount),
		dataset.NewNumeric("label", label),
	)
	require.NoError(t, err)
	data := filepath.Join(dir, "tx.parquet")
	require.NoError(t, dataset.SaveParquet(frame, data))

	cfgPath = filepath.Join(dir, "fraud.yaml")
	yaml := fmt.Sprintf(`data:
  path: %s
forest:
  nEstimators: 4
output:
  modelPath: %s
  registryPath: %s
logLevel: warn
`, data, filepath.Join(dir, "forest.gob"), filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	return cfgPath, dir
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "fit-pipeline")

	stdout.Reset()
	assert.Equal(t, 2, run(context.Background(), nil, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"--bogus"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), []string{"predict"}, &stdout, &stderr))
}

func TestRunMissingConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "train"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "absent.yaml")
}

func TestTrainEvaluateAndListRuns(t *testing.T) {
	cfgPath, dir := writeConfig(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfgPath, "train"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "fraud")
	assert.Contains(t, stdout.String(), "ROC AUC")
	assert.FileExists(t, filepath.Join(dir, "forest.gob"))

	stdout.Reset()
	code = run(context.Background(), []string{"--config", cfgPath, "evaluate"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	code = run(context.Background(), []string{"runs", "--registry", filepath.Join(dir, "runs.db")}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "evaluate")
	assert.Contains(t, lines[1], "train")
}

func TestFitPipelineCommand(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	out := filepath.Join(dir, "pipeline.gob")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfgPath, "fit-pipeline", "-o", out}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.FileExists(t, out)
	assert.Contains(t, stdout.String(), "features: amount")
}
