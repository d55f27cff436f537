package dataset

import (
	"strings"
	"testing"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

func TestNewFrameValidation(t *testing.T) {
	if _, err := NewFrame(NewNumeric("a", []float64{1, 2}), NewNumeric("b", []float64{1})); err == nil {
		t.Error("expected error for ragged columns")
	}
	if _, err := NewFrame(NewNumeric("a", []float64{1}), NewCategorical("a", []string{"x"})); err == nil {
		t.Error("expected error for duplicate names")
	}
	f, err := NewFrame()
	if err != nil || f.Len() != 0 {
		t.Errorf("empty frame: %v, len %d", err, f.Len())
	}
}

func TestFrameAccessors(t *testing.T) {
	f, err := NewFrame(
		NewNumeric("amount", []float64{10, 20, 30}),
		NewCategorical("type", []string{"CASH_OUT", "TRANSFER", "PAYMENT"}),
	)
	if err != nil {
		t.Fatal(err)
	}

	if names := f.Names(); len(names) != 2 || names[0] != "amount" || names[1] != "type" {
		t.Errorf("Names() = %v", names)
	}
	if _, err := f.Float("type"); err == nil {
		t.Error("Float on categorical column should fail")
	}
	if _, err := f.Strings("amount"); err == nil {
		t.Error("Strings on numeric column should fail")
	}
	if _, err := f.Float("missing"); !errors.Is(err, errors.ErrMissingColumn) {
		t.Errorf("expected ErrMissingColumn, got %v", err)
	}

	sub := f.Take([]int{2, 0})
	amounts, _ := sub.Float("amount")
	types, _ := sub.Strings("type")
	if len(amounts) != 2 || amounts[0] != 30 || types[1] != "CASH_OUT" {
		t.Errorf("Take() = %v %v", amounts, types)
	}
	amounts[0] = -1
	orig, _ := f.Float("amount")
	if orig[2] != 30 {
		t.Error("Take must copy values")
	}
}

func TestFrameRequire(t *testing.T) {
	f, _ := NewFrame(NewNumeric("timestamp", []float64{1}))

	if err := f.Require("timestamp"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := f.Require("timestamp", "label", "amount")
	if err == nil {
		t.Fatal("expected missing column error")
	}
	var dsErr *errors.DatasetError
	if !errors.As(err, &dsErr) {
		t.Fatalf("expected DatasetError, got %T", err)
	}
	if !errors.Is(err, errors.ErrMissingColumn) {
		t.Error("expected ErrMissingColumn in chain")
	}
	if msg := err.Error(); !strings.Contains(msg, "label") || !strings.Contains(msg, "amount") {
		t.Errorf("error should list missing columns: %s", msg)
	}
}

func TestFrameLabels(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(func(error) {})

	f, _ := NewFrame(
		&Column{Name: "is_fraud", Kind: Numeric, Floats: []float64{0, 1, 1}, Source: "bool"},
		NewNumeric("score", []float64{0, 2, 1}),
	)

	y, err := f.Labels("is_fraud")
	if err != nil {
		t.Fatal(err)
	}
	if y.Len() != 3 || y.AtVec(1) != 1 {
		t.Errorf("labels = %v", y.RawVector().Data)
	}
	if len(warnings) != 1 {
		t.Errorf("expected a DataConversionWarning for boolean labels, got %d", len(warnings))
	}

	_, err = f.Labels("score")
	var vErr *errors.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError for label 2, got %v", err)
	}
}
