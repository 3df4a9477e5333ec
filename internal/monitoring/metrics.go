package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/cloudforge/internal/pipeline"
)

const (
	stageLabel  = "stage"
	filterLabel = "filter"
	statusLabel = "status"
)

// PrometheusReporter records run summaries as Prometheus metrics.
type PrometheusReporter struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stagePointsIn  *prometheus.CounterVec
	stagePointsOut *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	rejected       *prometheus.CounterVec
	patches        prometheus.Counter
	tiles          prometheus.Counter
	lastProcessed  *prometheus.GaugeVec
}

// NewPrometheusReporter registers the cloudforge metrics with reg.
func NewPrometheusReporter(reg prometheus.Registerer) *PrometheusReporter {
	f := promauto.With(reg)
	return &PrometheusReporter{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudforge_runs_total",
			Help: "Pipeline runs by terminal status.",
		}, []string{statusLabel}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cloudforge_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		stagePointsIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudforge_stage_points_in_total",
			Help: "Points received by each stage.",
		}, []string{stageLabel}),
		stagePointsOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudforge_stage_points_out_total",
			Help: "Points emitted by each stage.",
		}, []string{stageLabel}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudforge_stage_duration_seconds",
			Help:    "Wall time spent in each stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{stageLabel}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudforge_rejected_points_total",
			Help: "Points removed by each outlier filter.",
		}, []string{filterLabel}),
		patches: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudforge_patches_total",
			Help: "Planar patches extracted.",
		}),
		tiles: f.NewCounter(prometheus.CounterOpts{
			Name: "cloudforge_tiles_total",
			Help: "Tiles processed by memory-bounded runs.",
		}),
		lastProcessed: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cloudforge_stage_processed_points",
			Help: "Points processed so far by the running stage.",
		}, []string{stageLabel}),
	}
}

func (r *PrometheusReporter) Progress(e pipeline.ProgressEvent) {
	r.lastProcessed.With(prometheus.Labels{stageLabel: string(e.Stage)}).Set(float64(e.Processed))
}

func (r *PrometheusReporter) Summary(s pipeline.RunSummary) {
	r.runs.With(prometheus.Labels{statusLabel: string(s.Status)}).Inc()
	r.runDuration.Observe(s.Elapsed.Seconds())
	r.patches.Add(float64(s.Patches))
	r.tiles.Add(float64(s.Tiles))
	for _, m := range s.Stages {
		if m.Skipped {
			continue
		}
		labels := prometheus.Labels{stageLabel: string(m.Stage)}
		r.stagePointsIn.With(labels).Add(float64(m.PointsIn))
		r.stagePointsOut.With(labels).Add(float64(m.PointsOut))
		r.stageDuration.With(labels).Observe(m.Elapsed.Seconds())
		for filter, n := range m.Rejected {
			r.rejected.With(prometheus.Labels{filterLabel: filter}).Add(float64(n))
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteTextfile writes the metrics gathered by g in the text exposition
// format, for collection by a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
