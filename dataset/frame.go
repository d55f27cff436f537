// Package dataset loads labeled transaction tables and partitions them by time.
//
// A Frame is an immutable, column-oriented table. Numeric columns hold float64
// values (nulls become NaN), categorical columns hold strings (nulls become "").
package dataset

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// Kind is the storage class of a column.
type Kind uint8

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Column is one named column. Exactly one of Floats or Strings is set,
// depending on Kind.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []float64
	Strings []string
	// Source is the arrow type the column was decoded from; empty for
	// columns built in memory.
	Source string
}

// NewNumeric creates a numeric column.
func NewNumeric(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Floats: values}
}

// NewCategorical creates a categorical column.
func NewCategorical(name string, values []string) *Column {
	return &Column{Name: name, Kind: Categorical, Strings: values}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Floats)
	}
	return len(c.Strings)
}

func (c *Column) take(indices []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Source: c.Source}
	if c.Kind == Numeric {
		out.Floats = make([]float64, len(indices))
		for i, idx := range indices {
			out.Floats[i] = c.Floats[idx]
		}
		return out
	}
	out.Strings = make([]string, len(indices))
	for i, idx := range indices {
		out.Strings[i] = c.Strings[idx]
	}
	return out
}

// Frame is an ordered set of equally long named columns.
type Frame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// NewFrame builds a frame. Column names must be unique and all columns must
// have the same length.
func NewFrame(columns ...*Column) (*Frame, error) {
	f := &Frame{columns: columns, index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if c == nil {
			return nil, errors.NewValidationError("columns", "nil column", i)
		}
		if _, dup := f.index[c.Name]; dup {
			return nil, errors.NewValidationError("columns", "duplicate column name", c.Name)
		}
		f.index[c.Name] = i
		if i == 0 {
			f.rows = c.Len()
		} else if c.Len() != f.rows {
			return nil, errors.NewDimensionError("NewFrame", f.rows, c.Len(), 0)
		}
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.rows }

// Names returns the column names in order.
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, c := range f.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. The returned columns must not be modified.
func (f *Frame) Columns() []*Column { return f.columns }

// Column looks a column up by name.
func (f *Frame) Column(name string) (*Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.columns[i], true
}

func missingColumn(names ...string) error {
	return errors.NewDatasetError("column", "",
		errors.Wrapf(errors.ErrMissingColumn, "%s", strings.Join(names, ", ")))
}

// Float returns the values of a numeric column.
func (f *Frame) Float(name string) ([]float64, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, missingColumn(name)
	}
	if c.Kind != Numeric {
		return nil, errors.NewValidationError(name, "column is not numeric", c.Kind.String())
	}
	return c.Floats, nil
}

// Strings returns the values of a categorical column.
func (f *Frame) Strings(name string) ([]string, error) {
	c, ok := f.Column(name)
	if !ok {
		return nil, missingColumn(name)
	}
	if c.Kind != Categorical {
		return nil, errors.NewValidationError(name, "column is not categorical", c.Kind.String())
	}
	return c.Strings, nil
}

// Require returns a DatasetError wrapping errors.ErrMissingColumn listing
// every name that is not present.
func (f *Frame) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := f.index[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return missingColumn(missing...)
	}
	return nil
}

// Take returns a new frame holding copies of the given rows in the given order.
func (f *Frame) Take(indices []int) *Frame {
	cols := make([]*Column, len(f.columns))
	for i, c := range f.columns {
		cols[i] = c.take(indices)
	}
	out := &Frame{columns: cols, index: f.index, rows: len(indices)}
	return out
}

// Labels returns a numeric or boolean column as a 0/1 label vector.
// Any other value is a ValidationError.
func (f *Frame) Labels(name string) (*mat.VecDense, error) {
	values, err := f.Float(name)
	if err != nil {
		return nil, err
	}
	if f.rows == 0 {
		return nil, errors.NewValueError("Labels", "no rows")
	}
	for i, v := range values {
		if v != 0 && v != 1 {
			if math.IsNaN(v) {
				return nil, errors.NewValidationError(name, fmt.Sprintf("missing label at row %d", i), v)
			}
			return nil, errors.NewValidationError(name, fmt.Sprintf("label must be 0 or 1 (row %d)", i), v)
		}
	}
	if c, _ := f.Column(name); c.Source == "bool" {
		errors.Warn(errors.NewDataConversionWarning("bool", "float64", "label column "+name+" converted to 0/1"))
	}
	y := make([]float64, len(values))
	copy(y, values)
	return mat.NewVecDense(len(y), y), nil
}
