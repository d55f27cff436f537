package dataset

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

func transactionsFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrame(
		NewNumeric("timestamp", []float64{100, 200, 300, 400}),
		NewNumeric("amount", []float64{10.5, math.NaN(), 99.9, 1200}),
		NewCategorical("type", []string{"TRANSFER", "CASH_OUT", "", "PAYMENT"}),
		NewNumeric("label", []float64{0, 1, 0, 1}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.parquet")
	in := transactionsFrame(t)
	if err := SaveParquet(in, path); err != nil {
		t.Fatalf("SaveParquet: %v", err)
	}

	out, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Len() != 4 || len(out.Names()) != 4 {
		t.Fatalf("got %d rows, columns %v", out.Len(), out.Names())
	}

	amounts, err := out.Float("amount")
	if err != nil {
		t.Fatal(err)
	}
	if amounts[0] != 10.5 || !math.IsNaN(amounts[1]) || amounts[3] != 1200 {
		t.Errorf("amount = %v", amounts)
	}
	types, err := out.Strings("type")
	if err != nil {
		t.Fatal(err)
	}
	if types[0] != "TRANSFER" || types[2] != "" {
		t.Errorf("type = %v", types)
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.csv")
	content := "timestamp,amount,type,is_fraud\n" +
		"1,10.5,TRANSFER,false\n" +
		"2,,CASH_OUT,true\n" +
		"3,7.25,PAYMENT,false\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Require("timestamp", "amount", "type", "is_fraud"); err != nil {
		t.Fatal(err)
	}

	ts, _ := f.Float("timestamp")
	if len(ts) != 3 || ts[2] != 3 {
		t.Errorf("timestamp = %v", ts)
	}
	amounts, _ := f.Float("amount")
	if !math.IsNaN(amounts[1]) || amounts[2] != 7.25 {
		t.Errorf("amount = %v", amounts)
	}
	col, _ := f.Column("is_fraud")
	if col.Kind != Numeric || col.Source != "bool" {
		t.Errorf("is_fraud decoded as %v from %q", col.Kind, col.Source)
	}
	if col.Floats[1] != 1 {
		t.Errorf("is_fraud = %v", col.Floats)
	}
	if types, _ := f.Strings("type"); types[1] != "CASH_OUT" {
		t.Errorf("type = %v", types)
	}
}

func TestLoadCSVInfersTypesFromAllRows(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []float64
	}{
		{"integer first, decimal later", "timestamp,amount,label\n1,100,0\n2,12.5,1\n", []float64{100, 12.5}},
		{"blank first cell", "timestamp,amount,label\n1,,0\n2,12.5,1\n3,7.25,0\n", []float64{math.NaN(), 12.5, 7.25}},
		{"null marker first", "timestamp,amount,label\n1,NA,0\n2,3,1\n", []float64{math.NaN(), 3}},
		{"no values", "timestamp,amount,label\n1,,0\n2,,1\n", []float64{math.NaN(), math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "transactions.csv")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			f, err := Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			col, ok := f.Column("amount")
			if !ok || col.Kind != Numeric {
				t.Fatalf("amount decoded as %v", col.Kind)
			}
			if len(col.Floats) != len(tt.want) {
				t.Fatalf("amount = %v, want %v", col.Floats, tt.want)
			}
			for i, want := range tt.want {
				got := col.Floats[i]
				if math.IsNaN(want) != math.IsNaN(got) || (!math.IsNaN(want) && got != want) {
					t.Errorf("amount[%d] = %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestLoadCSVNumericColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.csv")
	content := "timestamp,amount,merchant,label\n" +
		"1,10,shop,0\n" +
		"2,n/a,cafe,1\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if col, _ := f.Column("amount"); col.Kind != Categorical {
		t.Errorf("amount without a numeric hint decoded as %v", col.Kind)
	}

	_, err = Load(context.Background(), path, WithNumericColumns("timestamp", "amount", "label"))
	if err == nil {
		t.Fatal("expected a non-numeric amount to fail")
	}
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if verr.ParamName != "amount" || verr.Value != "n/a" {
		t.Errorf("ValidationError = %+v", verr)
	}
	var dsErr *errors.DatasetError
	if !errors.As(err, &dsErr) || dsErr.Path != path {
		t.Errorf("expected DatasetError for %s, got %v", path, err)
	}
}

func TestLoadCSVBooleanLabelWithNumericHint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.csv")
	content := "timestamp,label\n1,false\n2,true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := Load(context.Background(), path, WithNumericColumns("timestamp", "label"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	col, _ := f.Column("label")
	if col.Kind != Numeric || col.Source != "bool" || col.Floats[1] != 1 {
		t.Errorf("label = %+v", col)
	}
}

func TestLoadArrowIPCWithTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.arrow")
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: &arrow.TimestampType{Unit: arrow.Second}},
		{Name: "label", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "country", Type: &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int8, ValueType: arrow.BinaryTypes.String}},
	}, nil)

	mem := memory.NewGoAllocator()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	b.Field(0).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{1700000000, 1700000600}, nil)
	b.Field(1).(*array.BooleanBuilder).AppendValues([]bool{false, true}, nil)
	db := b.Field(2).(*array.BinaryDictionaryBuilder)
	if err := db.AppendString("DE"); err != nil {
		t.Fatal(err)
	}
	db.AppendNull()
	rec := b.NewRecord()
	defer rec.Release()

	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := ipc.NewFileWriter(out, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(rec); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ts, _ := f.Float("timestamp")
	if ts[1] != 1700000600 {
		t.Errorf("timestamp = %v", ts)
	}
	countries, err := f.Strings("country")
	if err != nil {
		t.Fatal(err)
	}
	if countries[0] != "DE" || countries[1] != "" {
		t.Errorf("country = %v", countries)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	unsupported := filepath.Join(dir, "data.xlsx")
	if err := os.WriteFile(unsupported, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(dir, "broken.parquet")
	if err := os.WriteFile(corrupt, []byte("not parquet"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		is   error
	}{
		{"missing file", filepath.Join(dir, "missing.parquet"), nil},
		{"unsupported extension", unsupported, errors.ErrUnsupportedFormat},
		{"corrupt parquet", corrupt, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			var dsErr *errors.DatasetError
			if !errors.As(err, &dsErr) {
				t.Fatalf("expected DatasetError, got %T: %v", err, err)
			}
			if dsErr.Path != tt.path {
				t.Errorf("Path = %q, want %q", dsErr.Path, tt.path)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v in chain", tt.is)
			}
		})
	}
}

func TestLoadCanceledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.parquet")
	if err := SaveParquet(transactionsFrame(t), path); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Load(ctx, path); err == nil {
		t.Error("expected error for canceled context")
	}
}
