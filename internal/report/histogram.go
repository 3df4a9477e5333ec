package report

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const defaultBins = 20

var (
	histWidth  = 8 * vg.Inch
	histHeight = 5 * vg.Inch
)

func patchHistogram(patches []PatchStat, bins int) (*plot.Plot, error) {
	if len(patches) == 0 {
		return nil, errors.New("no patches to plot")
	}
	if bins <= 0 {
		bins = defaultBins
	}
	values := make(plotter.Values, len(patches))
	for i, p := range patches {
		values[i] = p.RMS * 1000
	}
	mean, _ := RMSSummary(patches)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Patch fit RMS (%d patches, weighted mean %.2f mm)", len(patches), mean*1000)
	p.X.Label.Text = "RMS (mm)"
	p.Y.Label.Text = "Patches"

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, fmt.Errorf("build histogram: %w", err)
	}
	p.Add(h)
	return p, nil
}

// WritePatchHistogram saves a histogram of patch RMS values to path. The
// image format follows the extension (.png, .svg, .pdf).
func WritePatchHistogram(path string, patches []PatchStat, bins int) error {
	p, err := patchHistogram(patches, bins)
	if err != nil {
		return err
	}
	if err := p.Save(histWidth, histHeight, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

// PatchHistogramPNG writes the histogram as PNG to w.
func PatchHistogramPNG(w io.Writer, patches []PatchStat, bins int) error {
	p, err := patchHistogram(patches, bins)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(histWidth, histHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
