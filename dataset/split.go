package dataset

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// DefaultTrainFraction places the cutoff at 70% of the observed time range.
const DefaultTrainFraction = 0.7

// Split is the result of TimeSplit.
type Split struct {
	First  float64
	Last   float64
	Cutoff float64

	Train *Frame
	Test  *Frame

	// TrainIndex and TestIndex are the source row numbers of Train and Test.
	TrainIndex []int
	TestIndex  []int
}

// TimeSplit partitions the frame on a single timestamp cutoff
//
//	cutoff = first + fraction*(last-first)
//
// Rows with timestamp <= cutoff go to Train, the rest to Test, each side
// keeping the input order. When every timestamp is equal Test is empty;
// callers decide whether that is acceptable.
func TimeSplit(frame *Frame, column string, fraction float64) (*Split, error) {
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return nil, errors.NewValidationError("fraction", "must be within [0, 1]", fraction)
	}
	if frame == nil || frame.Len() == 0 {
		return nil, errors.NewValueError("TimeSplit", "cannot split an empty frame")
	}
	ts, err := frame.Float(column)
	if err != nil {
		return nil, err
	}
	for i, v := range ts {
		if math.IsNaN(v) {
			return nil, errors.NewValidationError(column, "timestamp is missing", i)
		}
	}

	first, last := floats.Min(ts), floats.Max(ts)
	// explicit conversion keeps the product from being fused into an FMA
	cutoff := first + float64(fraction*(last-first))

	s := &Split{First: first, Last: last, Cutoff: cutoff}
	for i, v := range ts {
		if v <= cutoff {
			s.TrainIndex = append(s.TrainIndex, i)
		} else {
			s.TestIndex = append(s.TestIndex, i)
		}
	}
	s.Train = frame.Take(s.TrainIndex)
	s.Test = frame.Take(s.TestIndex)
	return s, nil
}
