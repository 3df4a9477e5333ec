package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/cloudforge/internal/pipeline"
)

// maxPatchBars caps the patch size chart; smaller patches are dropped.
const maxPatchBars = 50

// HTMLOptions tunes the HTML report.
type HTMLOptions struct {
	// AssetsHost overrides where the echarts scripts are loaded from.
	AssetsHost string
}

// WriteHTML renders the run report page to w: points per stage, rejections
// per filter, patch sizes and patch area against fit RMS.
func WriteHTML(w io.Writer, s pipeline.RunSummary, patches []PatchStat, o HTMLOptions) error {
	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(stageChart(s, o))
	if rej := rejectionChart(s, o); rej != nil {
		page.AddCharts(rej)
	}
	if len(patches) > 0 {
		page.AddCharts(patchSizeChart(patches, o), patchQualityChart(patches, o))
	}
	return page.Render(w)
}

// WriteHTMLFile writes the report to path.
func WriteHTMLFile(path string, s pipeline.RunSummary, patches []PatchStat, o HTMLOptions) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WriteHTML(f, s, patches, o); err != nil {
		f.Close()
		return fmt.Errorf("render report: %w", err)
	}
	return f.Close()
}

func initOpts(o HTMLOptions, title string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle:  title,
		Width:      "100%",
		Height:     "480px",
		AssetsHost: o.AssetsHost,
	})
}

func stageChart(s pipeline.RunSummary, o HTMLOptions) *charts.Bar {
	var (
		x        []string
		in, out  []opts.BarData
		duration []opts.BarData
	)
	for _, m := range s.Stages {
		if m.Skipped {
			continue
		}
		x = append(x, string(m.Stage))
		in = append(in, opts.BarData{Value: m.PointsIn})
		out = append(out, opts.BarData{Value: m.PointsOut})
		duration = append(duration, opts.BarData{Value: m.Elapsed.Milliseconds()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(o, "Stages"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Points per stage",
			Subtitle: fmt.Sprintf("run=%s status=%s elapsed=%s", s.RunID, s.Status, s.Elapsed.Round(time.Millisecond)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("points in", in).
		AddSeries("points out", out,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("elapsed ms", duration)
	return bar
}

func rejectionChart(s pipeline.RunSummary, o HTMLOptions) *charts.Bar {
	m, ok := s.Stage(pipeline.StageClean)
	if !ok || len(m.Rejected) == 0 {
		return nil
	}
	filters := make([]string, 0, len(m.Rejected))
	for f := range m.Rejected {
		filters = append(filters, f)
	}
	sort.Strings(filters)
	data := make([]opts.BarData, len(filters))
	for i, f := range filters {
		data[i] = opts.BarData{Value: m.Rejected[f]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(o, "Rejections"),
		charts.WithTitleOpts(opts.Title{Title: "Rejected points", Subtitle: fmt.Sprintf("total=%d", s.Rejected())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(filters).
		AddSeries("rejected", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func patchSizeChart(patches []PatchStat, o HTMLOptions) *charts.Bar {
	n := len(patches)
	if n > maxPatchBars {
		n = maxPatchBars
	}
	x := make([]string, n)
	data := make([]opts.BarData, n)
	for i := 0; i < n; i++ {
		x[i] = fmt.Sprintf("#%d", i)
		data[i] = opts.BarData{Value: patches[i].Points}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(o, "Patches"),
		charts.WithTitleOpts(opts.Title{Title: "Patch sizes", Subtitle: fmt.Sprintf("patches=%d shown=%d", len(patches), n)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "patch"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "points"}),
	)
	bar.SetXAxis(x).AddSeries("points", data)
	return bar
}

func patchQualityChart(patches []PatchStat, o HTMLOptions) *charts.Scatter {
	data := make([]opts.ScatterData, len(patches))
	for i, p := range patches {
		data[i] = opts.ScatterData{Value: []interface{}{p.Area, p.RMS * 1000, p.TiltDeg}}
	}
	mean, std := RMSSummary(patches)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		initOpts(o, "Patch quality"),
		charts.WithTitleOpts(opts.Title{
			Title:    "Patch area vs fit RMS",
			Subtitle: fmt.Sprintf("mean rms=%.2fmm std=%.2fmm", mean*1000, std*1000),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "area (m²)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "rms (mm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Dimension:  "2",
			Min:        0,
			Max:        90,
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("patches", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	return scatter
}
