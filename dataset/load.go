package dataset

import (
	"context"
	stdcsv "encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/fraudlab/fraudforest/pkg/errors"
	"github.com/fraudlab/fraudforest/pkg/log"
)

// csvNulls are the cell values read as null from CSV input.
var csvNulls = []string{"", "NA", "NaN", "null", "NULL"}

// LoadOption configures Load.
type LoadOption func(*loadConfig)

type loadConfig struct {
	numeric map[string]bool
}

// WithNumericColumns marks columns that must decode as numbers. It applies to
// CSV input, where column types are inferred; a value in one of these columns
// that is neither a number, a boolean nor a timestamp fails the load.
func WithNumericColumns(names ...string) LoadOption {
	return func(c *loadConfig) {
		for _, name := range names {
			if name != "" {
				c.numeric[name] = true
			}
		}
	}
}

// Load reads a columnar file into a Frame. The format is chosen by extension:
// .parquet/.pq, .csv, or .arrow/.feather/.ipc (Arrow IPC file).
func Load(ctx context.Context, path string, opts ...LoadOption) (*Frame, error) {
	logger := log.GetLoggerWithName("dataset")
	start := time.Now()
	cfg := loadConfig{numeric: make(map[string]bool)}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		frame *Frame
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".parquet", ".pq":
		frame, err = loadParquet(ctx, path)
	case ".csv":
		frame, err = loadCSV(ctx, path, cfg)
	case ".arrow", ".feather", ".ipc":
		frame, err = loadIPC(ctx, path)
	default:
		err = errors.Wrapf(errors.ErrUnsupportedFormat, "extension %q", ext)
	}
	if err != nil {
		var dsErr *errors.DatasetError
		if errors.As(err, &dsErr) {
			return nil, err
		}
		return nil, errors.NewDatasetError("load", path, err)
	}

	logger.Debug("Dataset loaded",
		log.OperationKey, log.OperationLoad,
		log.PathKey, path,
		log.SamplesKey, frame.Len(),
		log.FeaturesKey, len(frame.columns),
		log.DurationMsKey, time.Since(start),
	)
	return frame, nil
}

func loadParquet(ctx context.Context, path string) (*Frame, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	return FromTable(ctx, tbl)
}

// loadCSV reads the file twice. The first pass reads every cell as a string
// and infers each column's type from all of its values, the second decodes
// the file with that schema.
func loadCSV(ctx context.Context, path string, cfg loadConfig) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := stdcsv.NewReader(f).Read()
	if err == io.EOF {
		return nil, errors.ErrEmptyData
	}
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(header))
	for i, name := range header {
		fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
	}

	raw, err := readCSVTable(ctx, f, arrow.NewSchema(fields, nil))
	if err != nil {
		return nil, err
	}
	defer raw.Release()
	if raw.NumRows() == 0 {
		return nil, errors.ErrEmptyData
	}

	for i := range fields {
		dt, err := inferCSVColumn(raw.Column(i), cfg.numeric[fields[i].Name])
		if err != nil {
			return nil, err
		}
		fields[i].Type = dt
	}

	tbl, err := readCSVTable(ctx, f, arrow.NewSchema(fields, nil))
	if err != nil {
		return nil, err
	}
	defer tbl.Release()
	return FromTable(ctx, tbl)
}

func readCSVTable(ctx context.Context, f *os.File, schema *arrow.Schema) (arrow.Table, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	r := csv.NewReader(f, schema,
		csv.WithHeader(true),
		csv.WithChunk(4096),
		csv.WithNullReader(true, csvNulls...),
	)
	defer r.Release()

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := r.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return array.NewTableFromRecords(r.Schema(), recs), nil
}

// csvTypes is the widening order used for CSV columns. A column takes the
// first type every one of its values parses as.
var csvTypes = []arrow.DataType{
	arrow.PrimitiveTypes.Int64,
	arrow.FixedWidthTypes.Boolean,
	&arrow.TimestampType{Unit: arrow.Second},
	arrow.PrimitiveTypes.Float64,
	arrow.BinaryTypes.String,
}

// inferCSVColumn returns the first type in csvTypes that every non-null
// value parses as. A column with no values is numeric. Numeric columns never
// fall back to strings.
func inferCSVColumn(col *arrow.Column, numeric bool) (arrow.DataType, error) {
	var values []string
	for _, chunk := range col.Data().Chunks() {
		strs := chunk.(*array.String)
		for i := 0; i < strs.Len(); i++ {
			if !strs.IsNull(i) {
				values = append(values, strs.Value(i))
			}
		}
	}
	if len(values) == 0 {
		return arrow.PrimitiveTypes.Float64, nil
	}

	candidates := csvTypes
	if numeric {
		candidates = csvTypes[:len(csvTypes)-1]
	}
	var bad string
	for _, dt := range candidates {
		ok := true
		for _, v := range values {
			if !parsesAs(v, dt) {
				ok, bad = false, v
				break
			}
		}
		if ok {
			return dt, nil
		}
	}
	return nil, errors.NewValidationError(col.Name(), "value is not numeric", bad)
}

func parsesAs(v string, dt arrow.DataType) bool {
	var err error
	switch t := dt.(type) {
	case *arrow.Int64Type:
		_, err = strconv.ParseInt(v, 10, 64)
	case *arrow.BooleanType:
		_, err = strconv.ParseBool(v)
	case *arrow.TimestampType:
		_, err = arrow.TimestampFromString(v, t.Unit)
	case *arrow.Float64Type:
		_, err = strconv.ParseFloat(v, 64)
	case *arrow.StringType:
		return true
	}
	return err == nil
}

func loadIPC(ctx context.Context, path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	recs := make([]arrow.Record, 0, r.NumRecords())
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, err
		}
		// the reader reuses rec on the next call
		rec.Retain()
		recs = append(recs, rec)
	}
	tbl := array.NewTableFromRecords(r.Schema(), recs)
	defer tbl.Release()
	return FromTable(ctx, tbl)
}

// FromTable converts an arrow table into a Frame, copying every value.
func FromTable(ctx context.Context, tbl arrow.Table) (*Frame, error) {
	schema := tbl.Schema()
	rows := int(tbl.NumRows())
	cols := make([]*Column, 0, schema.NumFields())

	for i, field := range schema.Fields() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col := &Column{Name: field.Name, Source: field.Type.String()}
		if isCategorical(field.Type) {
			col.Kind = Categorical
			col.Strings = make([]string, 0, rows)
		} else {
			col.Kind = Numeric
			col.Floats = make([]float64, 0, rows)
		}

		for _, chunk := range tbl.Column(i).Data().Chunks() {
			if err := appendChunk(col, chunk); err != nil {
				return nil, errors.Wrapf(err, "column %q", field.Name)
			}
		}
		cols = append(cols, col)
	}
	return NewFrame(cols...)
}

func isCategorical(dt arrow.DataType) bool {
	switch t := dt.(type) {
	case *arrow.StringType, *arrow.LargeStringType, *arrow.BinaryType, *arrow.LargeBinaryType:
		return true
	case *arrow.DictionaryType:
		return isCategorical(t.ValueType)
	}
	return false
}

func appendChunk(col *Column, chunk arrow.Array) error {
	n := chunk.Len()
	if col.Kind == Categorical {
		for i := 0; i < n; i++ {
			if chunk.IsNull(i) {
				col.Strings = append(col.Strings, "")
				continue
			}
			s, err := stringAt(chunk, i)
			if err != nil {
				return err
			}
			col.Strings = append(col.Strings, s)
		}
		return nil
	}

	for i := 0; i < n; i++ {
		if chunk.IsNull(i) {
			col.Floats = append(col.Floats, math.NaN())
			continue
		}
		v, err := floatAt(chunk, i)
		if err != nil {
			return err
		}
		col.Floats = append(col.Floats, v)
	}
	return nil
}

func stringAt(arr arrow.Array, i int) (string, error) {
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return a.ValueString(i), nil
	case *array.LargeBinary:
		return string(a.Value(i)), nil
	case *array.Dictionary:
		return stringAt(a.Dictionary(), a.GetValueIndex(i))
	}
	return "", errors.Wrapf(errors.ErrUnsupportedFormat, "arrow type %s", arr.DataType())
}

// floatAt converts one non-null value. Timestamps, dates and times keep
// their stored unit.
func floatAt(arr arrow.Array, i int) (float64, error) {
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Int64:
		return float64(a.Value(i)), nil
	case *array.Int32:
		return float64(a.Value(i)), nil
	case *array.Int16:
		return float64(a.Value(i)), nil
	case *array.Int8:
		return float64(a.Value(i)), nil
	case *array.Uint64:
		return float64(a.Value(i)), nil
	case *array.Uint32:
		return float64(a.Value(i)), nil
	case *array.Uint16:
		return float64(a.Value(i)), nil
	case *array.Uint8:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		if a.Value(i) {
			return 1, nil
		}
		return 0, nil
	case *array.Timestamp:
		return float64(a.Value(i)), nil
	case *array.Date32:
		return float64(a.Value(i)), nil
	case *array.Date64:
		return float64(a.Value(i)), nil
	case *array.Time32:
		return float64(a.Value(i)), nil
	case *array.Time64:
		return float64(a.Value(i)), nil
	case *array.Duration:
		return float64(a.Value(i)), nil
	case *array.Dictionary:
		return floatAt(a.Dictionary(), a.GetValueIndex(i))
	}
	return 0, errors.Wrapf(errors.ErrUnsupportedFormat, "arrow type %s", arr.DataType())
}
