// Package inspection ranks the features a fitted model relies on.
package inspection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

// FeatureScore pairs a feature with its importance.
type FeatureScore struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// Ranking is ordered by descending importance.
type Ranking []FeatureScore

// RankFeatures sorts importances in descending order (stable, so ties keep
// feature order) and keeps the first topN. topN <= 0 keeps all. names may be
// nil, in which case features are named "feature_<index>".
func RankFeatures(importances []float64, names []string, topN int) (Ranking, error) {
	if names != nil && len(names) != len(importances) {
		return nil, errors.NewDimensionError("RankFeatures", len(importances), len(names), 1)
	}
	ranking := make(Ranking, len(importances))
	for i, v := range importances {
		if math.IsNaN(v) || v < 0 {
			return nil, errors.NewValidationError("importances", fmt.Sprintf("invalid importance for feature %d", i), v)
		}
		name := fmt.Sprintf("feature_%d", i)
		if names != nil {
			name = names[i]
		}
		ranking[i] = FeatureScore{Index: i, Name: name, Importance: v}
	}
	sort.SliceStable(ranking, func(a, b int) bool {
		return ranking[a].Importance > ranking[b].Importance
	})
	if topN > 0 && topN < len(ranking) {
		ranking = ranking[:topN]
	}
	return ranking, nil
}

// FromModel ranks the importances reported by a fitted model.
func FromModel(m model.ImportanceProvider, names []string, topN int) (Ranking, error) {
	importances := m.GetFeatureImportances()
	if len(importances) == 0 {
		return nil, errors.NewNotFittedError(fmt.Sprintf("%T", m), "GetFeatureImportances")
	}
	return RankFeatures(importances, names, topN)
}

// Names returns the feature names in rank order.
func (r Ranking) Names() []string {
	names := make([]string, len(r))
	for i, s := range r {
		names[i] = s.Name
	}
	return names
}

// Total returns the summed importance of the ranked features.
func (r Ranking) Total() float64 {
	var total float64
	for _, s := range r {
		total += s.Importance
	}
	return total
}

// String renders the ranking as an aligned table.
func (r Ranking) String() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "rank\tfeature\timportance\t")
	for i, s := range r {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t\n", i+1, s.Name, s.Importance)
	}
	_ = w.Flush()
	return b.String()
}
