// Package telemetry exposes the outcome of a training run as Prometheus
// gauges. Batch runs have no scrape endpoint, so the gauges are written to a
// node-exporter textfile at the end of the run.
package telemetry

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fraudlab/fraudforest/metrics"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

const namespace = "fraudforest"

// Recorder holds the gauges of one run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	Precision *prometheus.GaugeVec // per class
	Recall    *prometheus.GaugeVec // per class
	F1        *prometheus.GaugeVec // per class
	Support   *prometheus.GaugeVec // per class
	Accuracy  prometheus.Gauge
	ROCAUC    prometheus.Gauge
	AvgPrec   prometheus.Gauge
	LogLoss   prometheus.Gauge
	Brier     prometheus.Gauge

	TrainRows prometheus.Gauge
	TestRows  prometheus.Gauge
	Cutoff    prometheus.Gauge
	Trees     prometheus.Gauge

	DriftPoints prometheus.Gauge

	StepDuration *prometheus.GaugeVec // seconds per workflow step
	LastSuccess  prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the gauges on reg.
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	classGauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "test",
			Name:      name,
			Help:      help,
		}, []string{"class"})
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Recorder{
		registry:  reg,
		Precision: classGauge("precision", "Precision on the test partition"),
		Recall:    classGauge("recall", "Recall on the test partition"),
		F1:        classGauge("f1", "F1 score on the test partition"),
		Support:   classGauge("support", "Number of test rows of the class"),
		Accuracy:  gauge("test", "accuracy", "Accuracy on the test partition"),
		ROCAUC:    gauge("test", "roc_auc", "ROC AUC of the fraud probability on the test partition"),
		AvgPrec:   gauge("test", "average_precision", "Average precision of the fraud probability on the test partition"),
		LogLoss:   gauge("test", "log_loss", "Log loss of the fraud probability on the test partition"),
		Brier:     gauge("test", "brier_score", "Brier score of the fraud probability on the test partition"),
		TrainRows: gauge("split", "train_rows", "Rows in the training partition"),
		TestRows:  gauge("split", "test_rows", "Rows in the test partition"),
		Cutoff:    gauge("split", "cutoff", "Timestamp cutoff between train and test"),
		Trees:     gauge("model", "trees", "Number of fitted trees"),
		StepDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of each workflow step",
		}, []string{"step"}),
		DriftPoints: gauge("test", "drift_points", "Error rate drifts detected over the test period"),
		LastSuccess: gauge("", "last_success_timestamp_seconds", "Unix time of the last successful run"),
	}
}

// Registry returns the registry backing the gauges.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveSplit records partition sizes and the cutoff.
func (r *Recorder) ObserveSplit(trainRows, testRows int, cutoff float64) {
	r.TrainRows.Set(float64(trainRows))
	r.TestRows.Set(float64(testRows))
	r.Cutoff.Set(cutoff)
}

// ObserveReport records the per-class metrics and the probability scores.
func (r *Recorder) ObserveReport(report *metrics.Report, scores metrics.ProbabilityScores) {
	for _, c := range report.Classes {
		r.Precision.WithLabelValues(c.Name).Set(c.Precision)
		r.Recall.WithLabelValues(c.Name).Set(c.Recall)
		r.F1.WithLabelValues(c.Name).Set(c.F1)
		r.Support.WithLabelValues(c.Name).Set(float64(c.Support))
	}
	r.Accuracy.Set(report.Accuracy)
	r.ROCAUC.Set(scores.ROCAUC)
	r.AvgPrec.Set(scores.AveragePrecision)
	r.LogLoss.Set(scores.LogLoss)
	r.Brier.Set(scores.Brier)
}

// ObserveStep records how long a workflow step took.
func (r *Recorder) ObserveStep(step string, d time.Duration) {
	r.StepDuration.WithLabelValues(step).Set(d.Seconds())
}

// MarkSuccess stamps the completion time of the run.
func (r *Recorder) MarkSuccess(t time.Time) {
	r.LastSuccess.Set(float64(t.Unix()))
}

// WriteTextfile writes the gauges in the Prometheus text format. The file is
// replaced atomically so a concurrent scrape never sees a partial write.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create metrics directory for %s", path)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}
