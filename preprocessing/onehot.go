package preprocessing

import (
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/core/model"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

// HandleUnknown values for OneHotEncoder.
const (
	HandleUnknownIgnore = "ignore"
	HandleUnknownError  = "error"
)

// OneHotEncoder encodes categorical string columns as one-hot numeric arrays.
//
// Categories are learned per column and sorted. Empty strings are missing
// values and encode to an all-zero block, as do unknown categories when
// HandleUnknown is "ignore".
type OneHotEncoder struct {
	state *model.StateManager

	// Categories holds the sorted categories of each input column.
	Categories [][]string

	HandleUnknown string

	lookup []map[string]int
}

// NewOneHotEncoder creates an encoder. handleUnknown is "ignore" or "error".
func NewOneHotEncoder(handleUnknown string) *OneHotEncoder {
	return &OneHotEncoder{
		state:         model.NewStateManager(),
		HandleUnknown: handleUnknown,
	}
}

// Fit learns the categories of every column. columns[j] holds the values of
// input column j.
func (e *OneHotEncoder) Fit(columns [][]string) error {
	if e.HandleUnknown != HandleUnknownIgnore && e.HandleUnknown != HandleUnknownError {
		return errors.NewValidationError("handle_unknown", "must be \"ignore\" or \"error\"", e.HandleUnknown)
	}
	n, err := columnRows("OneHotEncoder.Fit", columns)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	e.Categories = make([][]string, len(columns))
	for j, col := range columns {
		seen := make(map[string]struct{})
		for _, v := range col {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				e.Categories[j] = append(e.Categories[j], v)
			}
		}
		sort.Strings(e.Categories[j])
	}
	e.buildLookup()

	e.state.SetDimensions(len(columns), n)
	e.state.SetFitted()
	return nil
}

func (e *OneHotEncoder) buildLookup() {
	e.lookup = make([]map[string]int, len(e.Categories))
	for j, cats := range e.Categories {
		e.lookup[j] = make(map[string]int, len(cats))
		for k, c := range cats {
			e.lookup[j][c] = k
		}
	}
}

// NOutputs returns the width of the encoded matrix.
func (e *OneHotEncoder) NOutputs() int {
	var total int
	for _, cats := range e.Categories {
		total += len(cats)
	}
	return total
}

// Transform encodes the columns into an n × NOutputs matrix.
func (e *OneHotEncoder) Transform(columns [][]string) (*mat.Dense, error) {
	if err := e.state.RequireFitted("OneHotEncoder", "Transform"); err != nil {
		return nil, err
	}
	if err := e.state.RequireFeatures("OneHotEncoder.Transform", len(columns)); err != nil {
		return nil, err
	}
	n, err := columnRows("OneHotEncoder.Transform", columns)
	if err != nil {
		return nil, err
	}
	width := e.NOutputs()
	if n == 0 || width == 0 {
		return &mat.Dense{}, nil
	}

	out := mat.NewDense(n, width, nil)
	offset := 0
	for j, col := range columns {
		for i, v := range col {
			if v == "" {
				continue
			}
			k, ok := e.lookup[j][v]
			if !ok {
				if e.HandleUnknown == HandleUnknownError {
					return nil, errors.NewValidationError("category", "unknown category in column "+strconv.Itoa(j), v)
				}
				continue
			}
			out.Set(i, offset+k, 1)
		}
		offset += len(e.Categories[j])
	}
	return out, nil
}

// FeatureNames returns "<input>_<category>" for every output column.
func (e *OneHotEncoder) FeatureNames(inputNames []string) []string {
	var names []string
	for j, cats := range e.Categories {
		prefix := "x" + strconv.Itoa(j)
		if j < len(inputNames) {
			prefix = inputNames[j]
		}
		for _, c := range cats {
			names = append(names, prefix+"_"+c)
		}
	}
	return names
}

// IsFitted reports whether Fit has been called.
func (e *OneHotEncoder) IsFitted() bool { return e.state.IsFitted() }

type oneHotSnapshot struct {
	Categories    [][]string
	HandleUnknown string
	State         model.ModelState
}

// GobEncode implements gob.GobEncoder.
func (e *OneHotEncoder) GobEncode() ([]byte, error) {
	return model.EncodeSnapshot(oneHotSnapshot{Categories: e.Categories, HandleUnknown: e.HandleUnknown, State: e.state.GetState()})
}

// GobDecode implements gob.GobDecoder.
func (e *OneHotEncoder) GobDecode(data []byte) error {
	var snap oneHotSnapshot
	if err := model.DecodeSnapshot(data, &snap); err != nil {
		return err
	}
	e.Categories, e.HandleUnknown = snap.Categories, snap.HandleUnknown
	e.state = model.NewStateManager()
	e.state.SetState(snap.State)
	e.buildLookup()
	return nil
}

func columnRows(op string, columns [][]string) (int, error) {
	if len(columns) == 0 {
		return 0, nil
	}
	n := len(columns[0])
	for _, col := range columns[1:] {
		if len(col) != n {
			return 0, errors.NewDimensionError(op, n, len(col), 0)
		}
	}
	return n, nil
}
