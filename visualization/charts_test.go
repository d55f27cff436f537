package visualization

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fraudlab/fraudforest/inspection"
	"github.com/fraudlab/fraudforest/metrics"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

func nonEmpty(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("chart not written: %v", err)
	}
	if info.Size() == 0 {
		t.Errorf("%s is empty", path)
	}
}

func TestSaveConfusionMatrix(t *testing.T) {
	cm := &metrics.Confusion{
		Labels: []float64{0, 1},
		Counts: [][]int{{90, 3}, {2, 5}},
	}
	dir := t.TempDir()

	for _, name := range []string{"cm.png", "cm.svg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := SaveConfusionMatrix(cm, []string{"legit", "fraud"}, path); err != nil {
				t.Fatalf("SaveConfusionMatrix failed: %v", err)
			}
			nonEmpty(t, path)
		})
	}

	t.Run("uniform counts", func(t *testing.T) {
		flat := &metrics.Confusion{Labels: []float64{0, 1}, Counts: [][]int{{1, 1}, {1, 1}}}
		path := filepath.Join(dir, "flat.png")
		if err := SaveConfusionMatrix(flat, nil, path); err != nil {
			t.Fatalf("SaveConfusionMatrix failed: %v", err)
		}
		nonEmpty(t, path)
	})

	t.Run("errors", func(t *testing.T) {
		err := SaveConfusionMatrix(cm, nil, filepath.Join(dir, "cm.bmp"))
		if !errors.Is(err, errors.ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
		if err := SaveConfusionMatrix(cm, []string{"only"}, filepath.Join(dir, "x.png")); err == nil {
			t.Error("expected error for name count mismatch")
		}
		if err := SaveConfusionMatrix(&metrics.Confusion{}, nil, filepath.Join(dir, "y.png")); err == nil {
			t.Error("expected error for empty matrix")
		}
	})
}

func TestSaveFeatureImportances(t *testing.T) {
	r, err := inspection.RankFeatures([]float64{0.5, 0.2, 0.3}, []string{"amount", "hour", "velocity_2h"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "importances.svg")
	if err := SaveFeatureImportances(r, path); err != nil {
		t.Fatalf("SaveFeatureImportances failed: %v", err)
	}
	nonEmpty(t, path)

	if err := SaveFeatureImportances(nil, path); err == nil {
		t.Error("expected error for empty ranking")
	}
	if err := SaveFeatureImportances(r, "importances.txt"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}
