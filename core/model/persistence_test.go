package model

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

type snapshot struct {
	Name    string
	Weights []float64
	State   ModelState
}

func TestSaveLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gob")
	in := snapshot{Name: "forest", Weights: []float64{0.25, 0.75}, State: ModelState{Fitted: true, NFeatures: 2, NSamples: 10}}

	if err := SaveModel(&in, path); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}

	var out snapshot
	if err := LoadModel(&out, path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if out.Name != in.Name || len(out.Weights) != 2 || out.Weights[1] != 0.75 || out.State != in.State {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	var out snapshot
	err := LoadModel(&out, filepath.Join(t.TempDir(), "missing.gob"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var modelErr *errors.ModelError
	if !errors.As(err, &modelErr) {
		t.Errorf("expected ModelError, got %T", err)
	}
}

func TestLoadModelFromReaderCorrupt(t *testing.T) {
	var out snapshot
	if err := LoadModelFromReader(&out, bytes.NewBufferString("not gob")); err == nil {
		t.Error("expected decode error")
	}
}

func TestStateManager(t *testing.T) {
	s := NewStateManager()
	if err := s.RequireFitted("Tree", "Predict"); err == nil {
		t.Fatal("expected NotFittedError before SetFitted")
	} else {
		var nf *errors.NotFittedError
		if !errors.As(err, &nf) || nf.Method != "Predict" {
			t.Errorf("unexpected error %v", err)
		}
	}

	s.SetDimensions(3, 100)
	s.SetFitted()
	if err := s.RequireFitted("Tree", "Predict"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := s.RequireFeatures("Predict", 4); err == nil {
		t.Error("expected DimensionError for 4 features")
	}
	if got := s.GetState(); got != (ModelState{Fitted: true, NFeatures: 3, NSamples: 100}) {
		t.Errorf("GetState = %+v", got)
	}

	s.Reset()
	if s.IsFitted() {
		t.Error("Reset should clear fitted state")
	}
}
