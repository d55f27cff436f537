// Package drift detects concept drift in a time-ordered stream of
// classification outcomes.
package drift

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/fraudlab/fraudforest/pkg/errors"
)

// DDM (Drift Detection Method) is a concept drift detection method
// Proposed in J. Gama, P. Medas, G. Castillo, P. Rodrigues (2004)
// "Learning with Drift Detection"
type DDM struct {
	minNumInstances int     // Minimum number of instances
	warningLevel    float64 // Warning level
	outControlLevel float64 // Out of control level

	numInstances int
	numErrors    int
	errorRate    float64
	stdDev       float64

	// minimum of errorRate+stdDev since the last reset
	minErrorRate float64
	minStdDev    float64

	warningDetected bool
	driftDetected   bool

	mu sync.RWMutex
}

// Result is the detector state after one update.
type Result struct {
	WarningDetected bool
	DriftDetected   bool
	ErrorRate       float64
	ConfidenceLevel float64
}

// NewDDM creates a new DDM instance
func NewDDM(options ...DDMOption) *DDM {
	ddm := &DDM{
		minNumInstances: 30,
		warningLevel:    2.0, // μ + 2σ
		outControlLevel: 3.0, // μ + 3σ
	}
	for _, opt := range options {
		opt(ddm)
	}
	ddm.Reset()
	return ddm
}

// DDMOption is a DDM configuration option
type DDMOption func(*DDM)

// WithDDMMinNumInstances sets the minimum number of samples
func WithDDMMinNumInstances(n int) DDMOption {
	return func(ddm *DDM) { ddm.minNumInstances = n }
}

// WithDDMWarningLevel sets the warning level
func WithDDMWarningLevel(level float64) DDMOption {
	return func(ddm *DDM) { ddm.warningLevel = level }
}

// WithDDMOutControlLevel sets the out-of-control level
func WithDDMOutControlLevel(level float64) DDMOption {
	return func(ddm *DDM) { ddm.outControlLevel = level }
}

// Update feeds one outcome. After a drift the statistics restart.
func (ddm *DDM) Update(correct bool) Result {
	ddm.mu.Lock()
	defer ddm.mu.Unlock()

	ddm.numInstances++
	if !correct {
		ddm.numErrors++
	}
	if ddm.numInstances < ddm.minNumInstances {
		return Result{}
	}

	n := float64(ddm.numInstances)
	ddm.errorRate = float64(ddm.numErrors) / n
	ddm.stdDev = math.Sqrt(ddm.errorRate * (1.0 - ddm.errorRate) / n)
	res := Result{ErrorRate: ddm.errorRate, ConfidenceLevel: 1.0}

	level := ddm.errorRate + ddm.stdDev
	if level < ddm.minErrorRate+ddm.minStdDev {
		ddm.minErrorRate = ddm.errorRate
		ddm.minStdDev = ddm.stdDev
	}
	if base := ddm.minErrorRate + ddm.minStdDev; base > 0 {
		res.ConfidenceLevel = level / base
	}

	ddm.warningDetected = level > ddm.minErrorRate+ddm.warningLevel*ddm.minStdDev
	ddm.driftDetected = level > ddm.minErrorRate+ddm.outControlLevel*ddm.minStdDev
	res.WarningDetected = ddm.warningDetected
	res.DriftDetected = ddm.driftDetected
	if ddm.driftDetected {
		ddm.resetLocked()
	}
	return res
}

// Reset clears all statistics.
func (ddm *DDM) Reset() {
	ddm.mu.Lock()
	defer ddm.mu.Unlock()
	ddm.resetLocked()
}

func (ddm *DDM) resetLocked() {
	ddm.numInstances = 0
	ddm.numErrors = 0
	ddm.errorRate = 0
	ddm.stdDev = 0
	ddm.minErrorRate = math.Inf(1)
	ddm.minStdDev = math.Inf(1)
	ddm.warningDetected = false
	ddm.driftDetected = false
}

// Statistics is a snapshot of the detector.
type Statistics struct {
	NumInstances    int
	NumErrors       int
	ErrorRate       float64
	StdDev          float64
	MinErrorRate    float64
	MinStdDev       float64
	WarningDetected bool
	DriftDetected   bool
}

// GetStatistics returns the current statistics.
func (ddm *DDM) GetStatistics() Statistics {
	ddm.mu.RLock()
	defer ddm.mu.RUnlock()
	return Statistics{
		NumInstances:    ddm.numInstances,
		NumErrors:       ddm.numErrors,
		ErrorRate:       ddm.errorRate,
		StdDev:          ddm.stdDev,
		MinErrorRate:    ddm.minErrorRate,
		MinStdDev:       ddm.minStdDev,
		WarningDetected: ddm.warningDetected,
		DriftDetected:   ddm.driftDetected,
	}
}

// Report summarises a scan over an evaluation period.
type Report struct {
	// Warnings and Drifts hold the positions, in time order, where a warning
	// started or a drift was signalled.
	Warnings []int `json:"warnings"`
	Drifts   []int `json:"drifts"`
	// Times holds the timestamp of each drift position when timestamps
	// were given.
	Times     []float64 `json:"times,omitempty"`
	ErrorRate float64   `json:"error_rate"`
}

// Detected reports whether at least one drift was signalled.
func (r Report) Detected() bool { return len(r.Drifts) > 0 }

// Scan replays predictions in timestamp order through a fresh DDM. ts may be
// nil when the rows are already ordered. Rows with equal timestamps keep
// their input order.
func Scan(yTrue, yPred *mat.VecDense, ts []float64, options ...DDMOption) (Report, error) {
	if yTrue == nil || yPred == nil || yTrue.Len() == 0 {
		return Report{}, errors.NewValueError("drift.Scan", "empty vector")
	}
	n := yTrue.Len()
	if yPred.Len() != n {
		return Report{}, errors.NewDimensionError("drift.Scan", n, yPred.Len(), 0)
	}
	if ts != nil && len(ts) != n {
		return Report{}, errors.NewDimensionError("drift.Scan", n, len(ts), 0)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if ts != nil {
		sort.SliceStable(order, func(a, b int) bool { return ts[order[a]] < ts[order[b]] })
	}

	ddm := NewDDM(options...)
	var rep Report
	var inWarning bool
	var errs int
	for pos, i := range order {
		correct := yTrue.AtVec(i) == yPred.AtVec(i)
		if !correct {
			errs++
		}
		res := ddm.Update(correct)
		if res.WarningDetected && !inWarning {
			rep.Warnings = append(rep.Warnings, pos)
		}
		inWarning = res.WarningDetected && !res.DriftDetected
		if res.DriftDetected {
			rep.Drifts = append(rep.Drifts, pos)
			if ts != nil {
				rep.Times = append(rep.Times, ts[i])
			}
		}
	}
	rep.ErrorRate = float64(errs) / float64(n)
	return rep, nil
}
