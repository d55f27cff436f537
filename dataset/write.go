package dataset

import (
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// parquetChunkSize is the row group size used when writing.
const parquetChunkSize = 64 * 1024

// Schema returns the arrow schema of the frame: float64 for numeric
// columns, utf8 for categorical ones.
func (f *Frame) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(f.columns))
	for i, c := range f.columns {
		if c.Kind == Numeric {
			fields[i] = arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64}
		} else {
			fields[i] = arrow.Field{Name: c.Name, Type: arrow.BinaryTypes.String}
		}
	}
	return arrow.NewSchema(fields, nil)
}

// Record builds an arrow record holding a copy of the frame.
// The caller must Release it.
func (f *Frame) Record(mem memory.Allocator) arrow.Record {
	b := array.NewRecordBuilder(mem, f.Schema())
	defer b.Release()

	for i, c := range f.columns {
		switch fb := b.Field(i).(type) {
		case *array.Float64Builder:
			fb.AppendValues(c.Floats, nil)
		case *array.StringBuilder:
			fb.AppendValues(c.Strings, nil)
		}
	}
	return b.NewRecord()
}

// WriteParquet writes the frame to w as a snappy-compressed parquet file.
// If w is an io.WriteCloser it is closed.
func WriteParquet(f *Frame, w io.Writer) error {
	rec := f.Record(memory.DefaultAllocator)
	defer rec.Release()

	tbl := array.NewTableFromRecords(rec.Schema(), []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	return pqarrow.WriteTable(tbl, w, parquetChunkSize, props, pqarrow.DefaultWriterProps())
}

// SaveParquet writes the frame to a parquet file at path.
func SaveParquet(f *Frame, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return errors.NewDatasetError("save", path, err)
	}
	err = WriteParquet(f, out)
	// the parquet writer closes out itself on success
	if cerr := out.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
		err = cerr
	}
	if err != nil {
		return errors.NewDatasetError("save", path, err)
	}
	return nil
}
