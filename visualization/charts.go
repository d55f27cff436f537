// Package visualization renders evaluation charts with gonum/plot.
// The output format follows the file extension (.png, .svg, .pdf, ...).
package visualization

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/fraudlab/fraudforest/inspection"
	"github.com/fraudlab/fraudforest/metrics"
	"github.com/fraudlab/fraudforest/pkg/errors"
)

var supportedFormats = map[string]bool{
	".png": true, ".svg": true, ".pdf": true, ".eps": true,
	".jpg": true, ".jpeg": true, ".tif": true, ".tiff": true,
}

func checkFormat(op, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedFormats[ext] {
		return errors.NewDatasetError(op, path, errors.Wrapf(errors.ErrUnsupportedFormat, "chart format %q", ext))
	}
	return nil
}

// confusionGrid exposes a confusion matrix as a heat map grid with the first
// true label in the top row.
type confusionGrid struct {
	counts [][]int
}

func (g confusionGrid) Dims() (c, r int) { return len(g.counts), len(g.counts) }
func (g confusionGrid) Z(c, r int) float64 {
	return float64(g.counts[len(g.counts)-1-r][c])
}
func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// SaveConfusionMatrix draws cm as an annotated heat map. names label the
// classes in cm.Labels order; nil uses the label values.
func SaveConfusionMatrix(cm *metrics.Confusion, names []string, path string) error {
	if err := checkFormat("SaveConfusionMatrix", path); err != nil {
		return err
	}
	k := len(cm.Labels)
	if k == 0 {
		return errors.NewValueError("SaveConfusionMatrix", "confusion matrix has no classes")
	}
	if names == nil {
		names = make([]string, k)
		for i, l := range cm.Labels {
			names[i] = strconv.FormatFloat(l, 'g', -1, 64)
		}
	}
	if len(names) != k {
		return errors.NewDimensionError("SaveConfusionMatrix", k, len(names), 0)
	}

	p := plot.New()
	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "Predicted label"
	p.Y.Label.Text = "True label"

	heat := plotter.NewHeatMap(confusionGrid{counts: cm.Counts}, palette.Heat(16, 1))
	if heat.Max <= heat.Min {
		heat.Max = heat.Min + 1
	}
	p.Add(heat)

	cells := plotter.XYLabels{}
	for r := 0; r < k; r++ {
		for c := 0; c < k; c++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(c), Y: float64(k - 1 - r)})
			cells.Labels = append(cells.Labels, strconv.Itoa(cm.Counts[r][c]))
		}
	}
	annotations, err := plotter.NewLabels(cells)
	if err != nil {
		return errors.Wrap(err, "confusion matrix labels")
	}
	p.Add(annotations)

	reversed := make([]string, k)
	for i, n := range names {
		reversed[k-1-i] = n
	}
	p.NominalX(names...)
	p.NominalY(reversed...)

	size := vg.Length(k+2) * vg.Inch
	if err := p.Save(size, size, path); err != nil {
		return errors.NewDatasetError("SaveConfusionMatrix", path, err)
	}
	return nil
}

// SaveFeatureImportances draws the ranking as a bar chart in rank order.
func SaveFeatureImportances(r inspection.Ranking, path string) error {
	if err := checkFormat("SaveFeatureImportances", path); err != nil {
		return err
	}
	if len(r) == 0 {
		return errors.NewValueError("SaveFeatureImportances", "empty ranking")
	}

	values := make(plotter.Values, len(r))
	for i, s := range r {
		values[i] = s.Importance
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Top %d feature importances", len(r))
	p.Y.Label.Text = "Mean impurity decrease"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return errors.Wrap(err, "feature importance bars")
	}
	bars.Color = palette.Heat(3, 1).Colors()[1]
	p.Add(bars)
	p.NominalX(r.Names()...)
	p.X.Tick.Label.Rotation = 0.8
	p.X.Tick.Label.XAlign = draw.XRight

	width := vg.Length(len(r))*0.5*vg.Inch + 2*vg.Inch
	if err := p.Save(width, 4*vg.Inch, path); err != nil {
		return errors.NewDatasetError("SaveFeatureImportances", path, err)
	}
	return nil
}
