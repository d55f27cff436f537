package preprocessing

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/dataset"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

func transactions(t *testing.T, amount []float64, channel []string, mcc []float64) *dataset.Frame {
	t.Helper()
	f, err := dataset.NewFrame(
		dataset.NewNumeric("amount", amount),
		dataset.NewCategorical("channel", channel),
		dataset.NewNumeric("mcc", mcc),
	)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func TestColumnPipelineFitTransform(t *testing.T) {
	train := transactions(t,
		[]float64{1, 3, math.NaN(), 2},
		[]string{"web", "pos", "web", ""},
		[]float64{5411, 5999, 5411, math.NaN()},
	)

	p := NewColumnPipeline([]string{"amount"}, []string{"channel", "mcc"}, WithScaler(ScalerNone))
	out, err := p.FitTransform(train)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	wantNames := []string{"amount", "channel_pos", "channel_web", "mcc_5411", "mcc_5999"}
	if got := p.FeatureNames(); !reflect.DeepEqual(got, wantNames) {
		t.Errorf("FeatureNames = %v, want %v", got, wantNames)
	}

	want := mat.NewDense(4, 5, []float64{
		1, 0, 1, 1, 0,
		3, 1, 0, 0, 1,
		2, 0, 1, 1, 0, // NaN amount imputed with the training mean
		2, 0, 0, 0, 0,
	})
	if !mat.EqualApprox(out, want, 1e-12) {
		t.Errorf("FitTransform =\n%v\nwant\n%v", mat.Formatted(out), mat.Formatted(want))
	}

	test := transactions(t, []float64{math.NaN()}, []string{"atm"}, []float64{5999})
	got, err := p.Transform(test)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if !mat.Equal(got, mat.NewDense(1, 5, []float64{2, 0, 0, 0, 1})) {
		t.Errorf("Transform = %v", mat.Formatted(got))
	}
}

func TestColumnPipelineScalers(t *testing.T) {
	train := transactions(t, []float64{0, 10}, []string{"a", "b"}, []float64{1, 2})

	tests := []struct {
		scaler string
		want   []float64
	}{
		{ScalerStandard, []float64{-1, 1}},
		{ScalerMinMax, []float64{0, 1}},
		{ScalerNone, []float64{0, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.scaler, func(t *testing.T) {
			p := NewColumnPipeline([]string{"amount", "mcc"}, nil, WithScaler(tt.scaler))
			out, err := p.FitTransform(train)
			if err != nil {
				t.Fatalf("FitTransform failed: %v", err)
			}
			for i, w := range tt.want {
				if math.Abs(out.At(i, 0)-w) > 1e-12 {
					t.Errorf("row %d = %v, want %v", i, out.At(i, 0), w)
				}
			}
		})
	}
}

func TestColumnPipelineErrors(t *testing.T) {
	train := transactions(t, []float64{1, 2}, []string{"a", "b"}, []float64{1, 2})

	t.Run("unknown scaler", func(t *testing.T) {
		p := NewColumnPipeline([]string{"amount"}, nil, WithScaler("robust"))
		if err := p.Fit(train); err == nil {
			t.Error("expected ValidationError")
		}
	})

	t.Run("missing column", func(t *testing.T) {
		p := NewColumnPipeline([]string{"amount", "velocity"}, nil)
		err := p.Fit(train)
		if !errors.Is(err, errors.ErrMissingColumn) {
			t.Errorf("expected ErrMissingColumn, got %v", err)
		}
	})

	t.Run("not fitted", func(t *testing.T) {
		p := NewColumnPipeline([]string{"amount"}, nil)
		_, err := p.Transform(train)
		var nf *errors.NotFittedError
		if !errors.As(err, &nf) {
			t.Errorf("expected NotFittedError, got %v", err)
		}
	})

	t.Run("no columns", func(t *testing.T) {
		if err := NewColumnPipeline(nil, nil).Fit(train); err == nil {
			t.Error("expected error for empty column lists")
		}
	})

	t.Run("unknown category in error mode", func(t *testing.T) {
		p := NewColumnPipeline(nil, []string{"channel"}, WithHandleUnknown(HandleUnknownError))
		if err := p.Fit(train); err != nil {
			t.Fatal(err)
		}
		other := transactions(t, []float64{1}, []string{"z"}, []float64{1})
		if _, err := p.Transform(other); err == nil {
			t.Error("expected ValidationError for unseen category")
		}
	})
}

func TestInferColumns(t *testing.T) {
	f := transactions(t, []float64{1}, []string{"a"}, []float64{2})
	numeric, categorical := InferColumns(f, "mcc")
	if !reflect.DeepEqual(numeric, []string{"amount"}) {
		t.Errorf("numeric = %v", numeric)
	}
	if !reflect.DeepEqual(categorical, []string{"channel"}) {
		t.Errorf("categorical = %v", categorical)
	}
}

func TestSaveLoadPipeline(t *testing.T) {
	train := transactions(t,
		[]float64{1, 2, 3, math.NaN()},
		[]string{"web", "pos", "web", "pos"},
		[]float64{1, 2, 3, 4},
	)
	p := NewColumnPipeline([]string{"amount", "mcc"}, []string{"channel"}, WithScaler(ScalerMinMax))
	want, err := p.FitTransform(train)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "pipeline.gob")
	if err := SavePipeline(p, path); err != nil {
		t.Fatalf("SavePipeline failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	loaded, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline failed: %v", err)
	}
	if !reflect.DeepEqual(loaded.FeatureNames(), p.FeatureNames()) {
		t.Errorf("FeatureNames = %v, want %v", loaded.FeatureNames(), p.FeatureNames())
	}
	got, err := loaded.Transform(train)
	if err != nil {
		t.Fatalf("Transform after load: %v", err)
	}
	if !mat.Equal(got, want) {
		t.Errorf("loaded pipeline transforms differently:\n%v\nwant\n%v", mat.Formatted(got), mat.Formatted(want))
	}

	if err := SavePipeline(NewColumnPipeline([]string{"amount"}, nil), path); err == nil {
		t.Error("expected error saving an unfitted pipeline")
	}
}
