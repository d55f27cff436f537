// Package fraudforest trains a class-balanced random forest that flags
// fraudulent card transactions, evaluating it on the most recent part of the
// data the way it would be deployed.
//
// The workflow splits the labeled transactions on a single timestamp cutoff
// (70% of the observed time range), fits a feature pipeline on the earlier
// rows only, trains the forest with per-tree balanced class weights and
// reports per-class precision, recall and F1 on the later rows together with
// the confusion matrix and feature importances.
//
// # Features
//
//   - Time-based split: no transaction after the cutoff leaks into training
//   - Random forest with bootstrap and balanced_subsample class weights
//   - Deterministic training for a fixed random state, on any number of workers
//   - Parquet, CSV and Arrow IPC input through Apache Arrow
//   - Structured JSON logging and typed errors with stack traces
//
// # Quick Start
//
// Train from the command line:
//
//	go install github.com/fraudlab/fraudforest/cmd/fraudforest@latest
//	fraudforest --config fraud.yaml train --progress
//
// Or use the packages directly:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "log"
//
//	    "github.com/fraudlab/fraudforest/dataset"
//	    "github.com/fraudlab/fraudforest/preprocessing"
//	    "github.com/fraudlab/fraudforest/sklearn/ensemble"
//	)
//
//	func main() {
//	    frame, err := dataset.Load(context.Background(), "transactions.parquet")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    split, err := dataset.TimeSplit(frame, "timestamp", dataset.DefaultTrainFraction)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    numeric, categorical := preprocessing.InferColumns(frame, "timestamp", "label")
//	    pipeline := preprocessing.NewColumnPipeline(numeric, categorical)
//	    X, err := pipeline.FitTransform(split.Train)
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    y, err := split.Train.Labels("label")
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    rf := ensemble.NewRandomForestClassifier()
//	    if err := rf.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(rf)
//	}
//
// # Packages
//
//   - dataset: columnar loading, time-based splitting, parquet output
//   - preprocessing: imputation, scaling, one-hot encoding, the column pipeline
//   - sklearn/tree: weighted CART decision tree classifier
//   - sklearn/ensemble: random forest classifier
//   - sklearn/utils: class weights and bootstrap sampling
//   - sklearn/drift: error rate drift detection over the test period
//   - metrics: classification report, confusion matrix, ROC AUC, Brier score
//   - inspection: feature importance ranking
//   - visualization: confusion matrix and importance charts
//   - core/model: shared interfaces, fitted state, gob persistence
//   - core/parallel: worker pool used by the forest
//   - internal/workflow: the end-to-end train and evaluate runs
package fraudforest
