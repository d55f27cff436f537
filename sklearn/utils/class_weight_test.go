package utils

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestComputeClassWeight(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		classes []float64
		y       []float64
		want    []float64
		wantErr bool
	}{
		{
			name:    "balanced",
			mode:    ClassWeightBalanced,
			classes: []float64{0, 1},
			y:       []float64{0, 0, 0, 1},
			want:    []float64{4.0 / 6, 2},
		},
		{
			name:    "none",
			mode:    ClassWeightNone,
			classes: []float64{0, 1},
			y:       []float64{0, 1},
			want:    []float64{1, 1},
		},
		{
			name:    "missing class",
			mode:    ClassWeightBalanced,
			classes: []float64{0, 1, 2},
			y:       []float64{0, 1},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mode:    "auto",
			classes: []float64{0},
			y:       []float64{0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeClassWeight(tt.mode, tt.classes, tt.y)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			for k := range tt.want {
				if math.Abs(got[k]-tt.want[k]) > 1e-12 {
					t.Errorf("weight[%d] = %v, want %v", k, got[k], tt.want[k])
				}
			}
		})
	}
}

func TestComputeSampleWeight(t *testing.T) {
	y := []float64{0, 0, 0, 1, 1, 2}

	t.Run("full data", func(t *testing.T) {
		got, err := ComputeSampleWeight(ClassWeightBalanced, y, nil)
		if err != nil {
			t.Fatal(err)
		}
		want := []float64{6.0 / 9, 6.0 / 9, 6.0 / 9, 1, 1, 2}
		for i := range want {
			if math.Abs(got[i]-want[i]) > 1e-12 {
				t.Errorf("weight[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("subsample", func(t *testing.T) {
		// Subsample holds classes 0 (x3) and 1 (x1); class 2 is absent.
		got, err := ComputeSampleWeight(ClassWeightBalancedSubsample, y, []int{0, 0, 1, 3})
		if err != nil {
			t.Fatal(err)
		}
		want := []float64{4.0 / 6, 4.0 / 6, 4.0 / 6, 2, 2, 0}
		for i := range want {
			if math.Abs(got[i]-want[i]) > 1e-12 {
				t.Errorf("weight[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("index out of range", func(t *testing.T) {
		if _, err := ComputeSampleWeight(ClassWeightBalanced, y, []int{6}); err == nil {
			t.Error("expected error")
		}
	})
}

func TestBootstrap(t *testing.T) {
	a := BootstrapIndices(rand.New(rand.NewSource(1)), 50)
	b := BootstrapIndices(rand.New(rand.NewSource(1)), 50)
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different draws")
	}

	counts := Bincount(a, 50)
	var total float64
	for _, c := range counts {
		total += c
	}
	if total != 50 {
		t.Errorf("bincount total = %v, want 50", total)
	}
	if got := UniqueLabels([]float64{2, 0, 2, 1}); !reflect.DeepEqual(got, []float64{0, 1, 2}) {
		t.Errorf("UniqueLabels = %v", got)
	}
}
