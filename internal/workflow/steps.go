package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/dataset"
	"github.com/fraudlab/fraudforest/inspection"
	"github.com/fraudlab/fraudforest/metrics"
	"github.com/fraudlab/fraudforest/pkg/errors"
	"github.com/fraudlab/fraudforest/pkg/log"
	"github.com/fraudlab/fraudforest/preprocessing"
	"github.com/fraudlab/fraudforest/sklearn/drift"
	"github.com/fraudlab/fraudforest/sklearn/ensemble"
	"github.com/fraudlab/fraudforest/visualization"
)

// Column names of the predictions file.
const (
	PredictionColumn  = "prediction"
	FraudScoreColumn  = "fraud_probability"
	reportFileName    = "classification_report.txt"
	confusionBaseName = "confusion_matrix"
	importanceBase    = "feature_importances"
)

// load reads the dataset. The timestamp, label and configured numeric
// columns must decode as numbers.
func (r *run) load(ctx context.Context) (*dataset.Frame, error) {
	d := r.cfg.Data
	numeric := append([]string{d.TimestampColumn, d.LabelColumn}, r.cfg.Pipeline.NumericColumns...)
	return dataset.Load(ctx, d.Path, dataset.WithNumericColumns(numeric...))
}

// split partitions the frame by time. Both sides must hold rows.
func (r *run) split(frame *dataset.Frame) error {
	data := r.cfg.Data
	if err := frame.Require(data.TimestampColumn, data.LabelColumn); err != nil {
		return err
	}
	s, err := dataset.TimeSplit(frame, data.TimestampColumn, data.TrainFraction)
	if err != nil {
		return err
	}
	if s.Train.Len() == 0 || s.Test.Len() == 0 {
		return errors.NewValueError("split", "time split left a partition empty; the dataset needs more than one distinct timestamp")
	}
	r.result.Split = s
	r.logger.Info("Dataset split",
		log.SamplesKey, frame.Len(),
		log.CutoffKey, s.Cutoff,
		log.TrainRowsKey, s.Train.Len(),
		log.TestRowsKey, s.Test.Len(),
	)
	return nil
}

// features returns the train and test feature matrices. A configured
// pipeline artifact is applied to both partitions as is; otherwise a
// pipeline is fitted on the training partition only.
func (r *run) features(frame *dataset.Frame) (xTrain, xTest *mat.Dense, err error) {
	s := r.result.Split
	pc := r.cfg.Pipeline

	var p *preprocessing.ColumnPipeline
	if pc.ArtifactPath != "" {
		if p, err = preprocessing.LoadPipeline(pc.ArtifactPath); err != nil {
			return nil, nil, errors.Wrapf(err, "load pipeline artifact %s", pc.ArtifactPath)
		}
		r.result.Artifacts.Pipeline = pc.ArtifactPath
		if xTrain, err = p.Transform(s.Train); err != nil {
			return nil, nil, err
		}
	} else {
		numeric, categorical := pc.NumericColumns, pc.CategoricalColumns
		if len(numeric)+len(categorical) == 0 {
			numeric, categorical = preprocessing.InferColumns(frame, r.cfg.Data.TimestampColumn, r.cfg.Data.LabelColumn)
		}
		p = preprocessing.NewColumnPipeline(numeric, categorical,
			preprocessing.WithScaler(pc.Scaler),
			preprocessing.WithHandleUnknown(pc.HandleUnknown),
		)
		if xTrain, err = p.FitTransform(s.Train); err != nil {
			return nil, nil, err
		}
	}
	if xTest, err = p.Transform(s.Test); err != nil {
		return nil, nil, err
	}
	r.result.Pipeline = p
	r.logger.Info("Features built",
		log.PhaseKey, log.PhasePreprocessing,
		log.ColumnsKey, append(append([]string(nil), p.NumericColumns()...), p.CategoricalColumns()...),
		log.FeaturesKey, len(p.FeatureNames()),
	)
	return xTrain, xTest, nil
}

// fit trains the forest on the training partition.
func (r *run) fit(xTrain *mat.Dense) error {
	y, err := r.result.Split.Train.Labels(r.cfg.Data.LabelColumn)
	if err != nil {
		return err
	}
	fc := r.cfg.Forest
	rf := ensemble.NewRandomForestClassifier(
		ensemble.WithNEstimators(fc.NEstimators),
		ensemble.WithMaxDepth(fc.MaxDepth),
		ensemble.WithRandomState(fc.RandomState),
		ensemble.WithClassWeight(fc.ClassWeight),
		ensemble.WithMaxFeatures(fc.MaxFeatures),
		ensemble.WithCriterion(fc.Criterion),
		ensemble.WithNJobs(fc.NJobs),
		ensemble.WithCallbacks(r.opts.Callbacks...),
	)
	if err := rf.Fit(xTrain, y); err != nil {
		return err
	}
	r.result.Model = rf
	return nil
}

// evaluate predicts the test partition and computes the report, the
// confusion matrix and the AUC of the fraud probability.
func (r *run) evaluate(xTest *mat.Dense) error {
	res := r.result
	yTest, err := res.Split.Test.Labels(r.cfg.Data.LabelColumn)
	if err != nil {
		return err
	}
	proba, err := res.Model.PredictProba(xTest)
	if err != nil {
		return err
	}
	pred, err := res.Model.Predict(xTest)
	if err != nil {
		return err
	}

	n := yTest.Len()
	res.Labels = yTest
	res.Predictions = mat.NewVecDense(n, mat.Col(nil, 0, pred))
	res.FraudScores = mat.NewVecDense(n, nil)
	for j, c := range res.Model.Classes() {
		if c != 1 {
			continue
		}
		for i := 0; i < n; i++ {
			res.FraudScores.SetVec(i, proba.At(i, j))
		}
	}

	if res.Report, err = metrics.ClassificationReport(yTest, res.Predictions, classLabels, ClassNames); err != nil {
		return err
	}
	if res.Confusion, err = metrics.ConfusionMatrix(yTest, res.Predictions, classLabels); err != nil {
		return err
	}
	if res.Scores, err = metrics.ScoreProbabilities(yTest, res.FraudScores); err != nil {
		return err
	}

	dir := r.cfg.Output.ReportDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create report directory %s", dir)
	}
	text := fmt.Sprintf("%s\n%s\nroc_auc %.4f  average_precision %.4f  log_loss %.4f  brier %.4f\n",
		res.Report, res.Confusion, res.Scores.ROCAUC, res.Scores.AveragePrecision, res.Scores.LogLoss, res.Scores.Brier)
	reportPath := filepath.Join(dir, reportFileName)
	if err := os.WriteFile(reportPath, []byte(text), 0o644); err != nil {
		return errors.Wrapf(err, "write report %s", reportPath)
	}
	res.Artifacts.Report = reportPath

	chart := filepath.Join(dir, confusionBaseName+"."+r.cfg.Output.ChartFormat)
	if err := visualization.SaveConfusionMatrix(res.Confusion, ClassNames, chart); err != nil {
		return err
	}
	res.Artifacts.ConfusionChart = chart
	return nil
}

// scanDrift replays the test predictions in time order through a drift
// detector. A drift is reported, not treated as a failure.
func (r *run) scanDrift() error {
	res := r.result
	ts, err := res.Split.Test.Float(r.cfg.Data.TimestampColumn)
	if err != nil {
		return err
	}
	rep, err := drift.Scan(res.Labels, res.Predictions, ts)
	if err != nil {
		return err
	}
	res.Drift = rep
	if rep.Detected() {
		r.logger.Warn("Error rate drift on the test period",
			"drift.count", len(rep.Drifts),
			"drift.first_timestamp", rep.Times[0],
			"drift.error_rate", rep.ErrorRate,
		)
	}
	return nil
}

// rankImportances ranks the model's feature importances by pipeline output
// column and charts them when a report directory is set.
func (r *run) rankImportances() error {
	res := r.result
	names := res.Pipeline.FeatureNames()
	if len(names) != res.Model.NFeatures() {
		return errors.NewDimensionError("rankImportances", res.Model.NFeatures(), len(names), 1)
	}
	ranking, err := inspection.FromModel(res.Model, names, r.cfg.Output.TopN)
	if err != nil {
		return err
	}
	res.Importances = ranking
	r.logger.Debug("Feature importances ranked", "top", ranking.Names())

	dir := r.cfg.Output.ReportDir
	if dir == "" {
		return nil
	}
	chart := filepath.Join(dir, importanceBase+"."+r.cfg.Output.ChartFormat)
	if err := visualization.SaveFeatureImportances(ranking, chart); err != nil {
		return err
	}
	res.Artifacts.ImportanceChart = chart

	reportPath := filepath.Join(dir, reportFileName)
	f, err := os.OpenFile(reportPath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open report %s", reportPath)
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + ranking.String()); err != nil {
		return errors.Wrapf(err, "write report %s", reportPath)
	}
	return nil
}

func (r *run) saveModel() error {
	path := r.cfg.Output.ModelPath
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := model.SaveModel(r.result.Model, path); err != nil {
		return err
	}
	r.result.Artifacts.Model = path
	r.logger.Info("Model saved", log.PathKey, path, log.NEstimatorsKey, len(r.result.Model.Estimators()))
	return nil
}

// savePipeline writes a pipeline fitted by this run next to the model so
// Evaluate can rebuild the same features.
func (r *run) savePipeline() error {
	if r.result.Artifacts.Pipeline != "" {
		return nil
	}
	path := PipelinePath(r.cfg.Output.ModelPath)
	if err := preprocessing.SavePipeline(r.result.Pipeline, path); err != nil {
		return err
	}
	r.result.Artifacts.Pipeline = path
	r.logger.Info("Feature pipeline saved", log.PathKey, path, log.FeaturesKey, len(r.result.Pipeline.FeatureNames()))
	return nil
}

// writePredictions stores the test timestamps, labels, predictions and
// fraud probabilities as parquet.
func (r *run) writePredictions() error {
	path := r.cfg.Output.PredictionsPath
	if path == "" {
		return nil
	}
	res := r.result
	ts, err := res.Split.Test.Float(r.cfg.Data.TimestampColumn)
	if err != nil {
		return err
	}
	labels, err := res.Split.Test.Float(r.cfg.Data.LabelColumn)
	if err != nil {
		return err
	}
	out, err := dataset.NewFrame(
		dataset.NewNumeric(r.cfg.Data.TimestampColumn, ts),
		dataset.NewNumeric(r.cfg.Data.LabelColumn, labels),
		dataset.NewNumeric(PredictionColumn, res.Predictions.RawVector().Data),
		dataset.NewNumeric(FraudScoreColumn, res.FraudScores.RawVector().Data),
	)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := dataset.SaveParquet(out, path); err != nil {
		return err
	}
	res.Artifacts.Predictions = path
	return nil
}
