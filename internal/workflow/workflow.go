// Package workflow runs the end-to-end fraud model training and evaluation
// on top of the dataset, preprocessing, ensemble and metrics packages.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/dataset"
	"github.com/fraudlab/fraudforest/inspection"
	"github.com/fraudlab/fraudforest/internal/config"
	"github.com/fraudlab/fraudforest/internal/registry"
	"github.com/fraudlab/fraudforest/internal/telemetry"
	"github.com/fraudlab/fraudforest/metrics"
	"github.com/fraudlab/fraudforest/pkg/errors"
	"github.com/fraudlab/fraudforest/pkg/log"
	"github.com/fraudlab/fraudforest/preprocessing"
	"github.com/fraudlab/fraudforest/sklearn/drift"
	"github.com/fraudlab/fraudforest/sklearn/ensemble"
)

// ClassNames name the 0/1 labels in reports and charts.
var ClassNames = []string{"legit", "fraud"}

var classLabels = []float64{0, 1}

// Options tune a run without changing its configuration.
type Options struct {
	// Callbacks receive per-tree progress while the forest is fitted.
	Callbacks []ensemble.Callback
}

// Artifacts lists the files written by a run. Empty fields were not written.
type Artifacts struct {
	Model           string
	Pipeline        string
	Report          string
	ConfusionChart  string
	ImportanceChart string
	Predictions     string
	Metrics         string
}

// Result is the outcome of Run or Evaluate.
type Result struct {
	RunID    string
	Split    *dataset.Split
	Pipeline *preprocessing.ColumnPipeline
	Model    *ensemble.RandomForestClassifier

	// Labels, Predictions and FraudScores are aligned with Split.Test.
	Labels      *mat.VecDense
	Predictions *mat.VecDense
	FraudScores *mat.VecDense

	Report      *metrics.Report
	Confusion   *metrics.Confusion
	Scores      metrics.ProbabilityScores
	Importances inspection.Ranking
	Drift       drift.Report
	Artifacts   Artifacts
}

// run carries the shared state of one invocation.
type run struct {
	id        string
	command   string
	cfg       config.Settings
	opts      Options
	logger    log.Logger
	telemetry *telemetry.Recorder
	started   time.Time
	result    *Result
}

func newRun(command string, cfg config.Settings, opts Options) *run {
	id := uuid.NewString()
	return &run{
		id:        id,
		command:   command,
		cfg:       cfg,
		opts:      opts,
		logger:    log.GetLoggerWithName("workflow").With(log.EstimatorIDKey, id, "command", command),
		telemetry: telemetry.New(),
		started:   time.Now(),
		result:    &Result{RunID: id},
	}
}

// step runs fn, logging and timing it. The context is checked first so a
// cancelled run stops between steps.
func (r *run) step(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "%s cancelled before %s", r.command, name)
	}
	start := time.Now()
	if err := fn(); err != nil {
		r.logger.Error("Step failed", err, log.OperationKey, name)
		return errors.Wrapf(err, "%s", name)
	}
	elapsed := time.Since(start)
	r.telemetry.ObserveStep(name, elapsed)
	r.logger.Debug("Step completed", log.OperationKey, name, log.DurationMsKey, elapsed)
	return nil
}

// Run trains a forest on the earlier part of the dataset and evaluates it on
// the later part.
func Run(ctx context.Context, cfg config.Settings, opts Options) (*Result, error) {
	r := newRun("train", cfg, opts)
	r.logger.Info("Training run started", log.PathKey, cfg.Data.Path)

	var (
		frame         *dataset.Frame
		xTrain, xTest *mat.Dense
	)
	steps := []struct {
		name string
		fn   func() error
	}{
		{log.OperationLoad, func() (err error) { frame, err = r.load(ctx); return err }},
		{log.OperationSplit, func() error { return r.split(frame) }},
		{log.OperationTransform, func() (err error) { xTrain, xTest, err = r.features(frame); return err }},
		{log.OperationFit, func() error { return r.fit(xTrain) }},
		{log.OperationScore, func() error { return r.evaluate(xTest) }},
		{"drift", r.scanDrift},
		{"importance", r.rankImportances},
		{log.OperationSave, r.saveModel},
		{"save_pipeline", r.savePipeline},
		{"predictions", r.writePredictions},
	}
	for _, s := range steps {
		if err := r.step(ctx, s.name, s.fn); err != nil {
			return nil, err
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return r.result, nil
}

// Evaluate reloads the model at Output.ModelPath and scores it on the test
// partition of the configured dataset. Features are built with the configured
// pipeline artifact, or else with the pipeline the training run saved next to
// the model. The pipeline is never refitted.
func Evaluate(ctx context.Context, cfg config.Settings, opts Options) (*Result, error) {
	r := newRun("evaluate", cfg, opts)
	if r.cfg.Pipeline.ArtifactPath == "" {
		r.cfg.Pipeline.ArtifactPath = PipelinePath(cfg.Output.ModelPath)
	}
	r.logger.Info("Evaluation run started", log.PathKey, cfg.Data.Path)

	var (
		frame *dataset.Frame
		xTest *mat.Dense
	)
	steps := []struct {
		name string
		fn   func() error
	}{
		{log.OperationLoad, func() (err error) { frame, err = r.load(ctx); return err }},
		{"load_model", r.loadModel},
		{log.OperationSplit, func() error { return r.split(frame) }},
		{log.OperationTransform, func() (err error) { _, xTest, err = r.features(frame); return err }},
		{log.OperationScore, func() error { return r.evaluate(xTest) }},
		{"drift", r.scanDrift},
		{"importance", r.rankImportances},
		{"predictions", r.writePredictions},
	}
	for _, s := range steps {
		if err := r.step(ctx, s.name, s.fn); err != nil {
			return nil, err
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return r.result, nil
}

// FitPipeline fits the feature pipeline on the training partition and saves
// it to Pipeline.ArtifactPath.
func FitPipeline(ctx context.Context, cfg config.Settings) (*preprocessing.ColumnPipeline, error) {
	if cfg.Pipeline.ArtifactPath == "" {
		return nil, errors.NewValidationError("pipeline.artifactPath", "an output path is required", "")
	}
	r := newRun("fit-pipeline", cfg, Options{})
	// the artifact is the output here, so the pipeline is always fitted
	r.cfg.Pipeline.ArtifactPath = ""

	var frame *dataset.Frame
	err := r.step(ctx, log.OperationLoad, func() (err error) { frame, err = r.load(ctx); return err })
	if err == nil {
		err = r.step(ctx, log.OperationSplit, func() error { return r.split(frame) })
	}
	if err == nil {
		err = r.step(ctx, log.OperationFitTransform, func() error { _, _, err := r.features(frame); return err })
	}
	if err == nil {
		err = r.step(ctx, log.OperationSave, func() error {
			if err := ensureDir(cfg.Pipeline.ArtifactPath); err != nil {
				return err
			}
			return preprocessing.SavePipeline(r.result.Pipeline, cfg.Pipeline.ArtifactPath)
		})
	}
	if err != nil {
		return nil, err
	}
	r.logger.Info("Feature pipeline saved",
		log.PathKey, cfg.Pipeline.ArtifactPath,
		log.FeaturesKey, len(r.result.Pipeline.FeatureNames()),
		log.DurationMsKey, time.Since(r.started),
	)
	return r.result.Pipeline, nil
}

// finish records the run in the registry and the metrics textfile.
func (r *run) finish() error {
	res := r.result
	if path := r.cfg.Output.RegistryPath; path != "" {
		store, err := registry.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Record(r.record()); err != nil {
			return err
		}
	}

	r.telemetry.ObserveSplit(res.Split.Train.Len(), res.Split.Test.Len(), res.Split.Cutoff)
	r.telemetry.ObserveReport(res.Report, res.Scores)
	r.telemetry.Trees.Set(float64(len(res.Model.Estimators())))
	r.telemetry.DriftPoints.Set(float64(len(res.Drift.Drifts)))
	r.telemetry.MarkSuccess(time.Now())
	if path := r.cfg.Output.MetricsFile; path != "" {
		if err := r.telemetry.WriteTextfile(path); err != nil {
			return err
		}
		res.Artifacts.Metrics = path
	}

	fraud, _ := res.Report.ByLabel(1)
	r.logger.Info("Run completed",
		log.TrainRowsKey, res.Split.Train.Len(),
		log.TestRowsKey, res.Split.Test.Len(),
		log.AccuracyKey, res.Report.Accuracy,
		log.PrecisionKey, fraud.Precision,
		log.RecallKey, fraud.Recall,
		log.F1Key, fraud.F1,
		log.AUCKey, res.Scores.ROCAUC,
		"metrics.average_precision", res.Scores.AveragePrecision,
		log.DurationMsKey, time.Since(r.started),
	)
	return nil
}

func (r *run) record() registry.RunRecord {
	res := r.result
	params := make(map[string]string)
	for k, v := range res.Model.GetParams() {
		params[k] = fmt.Sprint(v)
	}
	rec := registry.RunRecord{
		ID:         r.id,
		Command:    r.command,
		StartedAt:  r.started.UTC(),
		DurationMs: time.Since(r.started).Milliseconds(),
		DataPath:   r.cfg.Data.Path,
		ModelPath:  r.cfg.Output.ModelPath,
		Pipeline:   res.Artifacts.Pipeline,
		ReportDir:  r.cfg.Output.ReportDir,
		Params:     params,
		Cutoff:     res.Split.Cutoff,
		TrainRows:  res.Split.Train.Len(),
		TestRows:   res.Split.Test.Len(),
		Accuracy:   res.Report.Accuracy,
		Scores:     res.Scores,
		Drifts:     len(res.Drift.Drifts),
	}
	for _, c := range res.Report.Classes {
		rec.Classes = append(rec.Classes, registry.ClassSummary{
			Label:     c.Name,
			Precision: c.Precision,
			Recall:    c.Recall,
			F1:        c.F1,
			Support:   c.Support,
		})
	}
	rec.TopFeatures = res.Importances.Names()
	return rec
}

// PipelinePath is where a training run that fits its own pipeline saves it:
// artifacts/forest.gob gets artifacts/forest.pipeline.gob.
func PipelinePath(modelPath string) string {
	ext := filepath.Ext(modelPath)
	return strings.TrimSuffix(modelPath, ext) + ".pipeline" + ext
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}
	return nil
}

// loadModel reads the forest written by a previous training run.
func (r *run) loadModel() error {
	rf := &ensemble.RandomForestClassifier{}
	if err := model.LoadModel(rf, r.cfg.Output.ModelPath); err != nil {
		return err
	}
	if !rf.IsFitted() {
		return errors.NewModelError("Evaluate", "model artifact holds an unfitted forest", nil)
	}
	r.result.Model = rf
	r.result.Artifacts.Model = r.cfg.Output.ModelPath
	return nil
}
