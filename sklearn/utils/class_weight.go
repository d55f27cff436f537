// Package utils provides sample weighting and resampling helpers shared by
// the ensemble estimators.
package utils

import (
	"math/rand"
	"sort"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// Class weight modes.
const (
	ClassWeightNone              = "none"
	ClassWeightBalanced          = "balanced"
	ClassWeightBalancedSubsample = "balanced_subsample"
)

// ComputeClassWeight returns one weight per entry of classes.
//
// "balanced" gives n_samples / (n_classes * count(class)); "none" or "" gives
// ones. Every class must occur in y.
func ComputeClassWeight(classWeight string, classes, y []float64) ([]float64, error) {
	weights := make([]float64, len(classes))
	switch classWeight {
	case "", ClassWeightNone:
		for k := range weights {
			weights[k] = 1
		}
		return weights, nil
	case ClassWeightBalanced:
	default:
		return nil, errors.NewValidationError("class_weight", "must be balanced or none", classWeight)
	}

	if len(y) == 0 {
		return nil, errors.NewModelError("ComputeClassWeight", "empty data", errors.ErrEmptyData)
	}
	counts := make(map[float64]int, len(classes))
	for _, v := range y {
		counts[v]++
	}
	for k, c := range classes {
		n := counts[c]
		if n == 0 {
			return nil, errors.NewValidationError("classes", "class not present in y", c)
		}
		weights[k] = float64(len(y)) / (float64(len(classes)) * float64(n))
	}
	return weights, nil
}

// ComputeSampleWeight returns one "balanced" weight per entry of y.
//
// When indices is non-nil the class weights are computed on y[indices] only
// (a bootstrap subsample, duplicates counted) and samples whose class is
// absent from the subsample get weight 0.
func ComputeSampleWeight(classWeight string, y []float64, indices []int) ([]float64, error) {
	switch classWeight {
	case ClassWeightBalanced, ClassWeightBalancedSubsample:
	case "", ClassWeightNone:
		out := make([]float64, len(y))
		for i := range out {
			out[i] = 1
		}
		return out, nil
	default:
		return nil, errors.NewValidationError("class_weight", "must be balanced, balanced_subsample or none", classWeight)
	}

	subsample := y
	if indices != nil {
		subsample = make([]float64, len(indices))
		for k, i := range indices {
			if i < 0 || i >= len(y) {
				return nil, errors.NewValidationError("indices", "index out of range", i)
			}
			subsample[k] = y[i]
		}
	}

	classes := UniqueLabels(subsample)
	classWeights, err := ComputeClassWeight(ClassWeightBalanced, classes, subsample)
	if err != nil {
		return nil, err
	}
	lookup := make(map[float64]float64, len(classes))
	for k, c := range classes {
		lookup[c] = classWeights[k]
	}

	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = lookup[v]
	}
	return out, nil
}

// UniqueLabels returns the sorted distinct values of y.
func UniqueLabels(y []float64) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// BootstrapIndices draws n indices uniformly from [0, n) with replacement.
func BootstrapIndices(rng *rand.Rand, n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = rng.Intn(n)
	}
	return indices
}

// Bincount returns how many times each value in [0, n) occurs in indices.
func Bincount(indices []int, n int) []float64 {
	counts := make([]float64, n)
	for _, i := range indices {
		counts[i]++
	}
	return counts
}
