package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/cloudforge/internal/config"
	"github.com/banshee-data/cloudforge/internal/monitoring"
	"github.com/banshee-data/cloudforge/internal/pcio"
	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/report"
	"github.com/banshee-data/cloudforge/internal/security"
	"github.com/banshee-data/cloudforge/internal/store"
)

type processFlags struct {
	configPath   string
	preset       string
	presetDir    string
	out          string
	format       string
	dbPath       string
	reportDir    string
	metricsFile  string
	progress     bool
	patchIndices bool
	budget       int64
	workers      int
	skipClean    bool
	skipThin     bool
	skipSegment  bool
	logLevel     *string
}

func runProcess(args []string) int {
	var f processFlags
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "processing config file (.yaml, .yml or .json)")
	fs.StringVar(&f.preset, "preset", "", "scanner preset name (ignored when -config is set)")
	fs.StringVar(&f.presetDir, "preset-dir", config.DefaultPresetDir, "preset directory")
	fs.StringVar(&f.out, "out", "", "output file, or directory when several inputs are given")
	fs.StringVar(&f.format, "format", "", "output format: xyz, pts or json (default: from -out, else pts)")
	fs.StringVar(&f.dbPath, "db", "", "record runs in this SQLite database")
	fs.StringVar(&f.reportDir, "report", "", "write HTML and PNG run reports to this directory")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this file when done")
	fs.BoolVar(&f.progress, "progress", defaultProgressEnabled(), "show progress bars")
	fs.BoolVar(&f.patchIndices, "patch-indices", false, "include inlier indices in the patch JSON")
	fs.Int64Var(&f.budget, "memory-budget", -1, "memory budget in bytes; 0 is unlimited (default: from config)")
	fs.IntVar(&f.workers, "workers", -1, "worker goroutines; 0 is GOMAXPROCS (default: from config)")
	fs.BoolVar(&f.skipClean, "skip-cleaning", false, "skip outlier removal")
	fs.BoolVar(&f.skipThin, "skip-thinning", false, "skip voxel thinning")
	fs.BoolVar(&f.skipSegment, "skip-segmentation", false, "skip plane segmentation")
	f.logLevel = addLogFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    cloudforge process [options] <input>...

Inputs are .xyz or .pts files; glob patterns such as "scans/**/*.pts" are
expanded.

OPTIONS:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	level, err := parseLogLevel(*f.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	configureLogging(level, os.Stderr)

	inputs, err := expandInputs(fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no input files")
		fs.Usage()
		return 2
	}

	cfg, err := f.resolveConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reporters := pipeline.MultiReporter{monitoring.LogReporter{}}
	if f.progress {
		reporters = append(reporters, newProgressReporter(os.Stderr))
	}
	var registry *prometheus.Registry
	if f.metricsFile != "" {
		registry = prometheus.NewRegistry()
		reporters = append(reporters, monitoring.NewPrometheusReporter(registry))
	}
	var runs *store.Store
	if f.dbPath != "" {
		if runs, err = store.Open(f.dbPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer runs.Close()
		reporters = append(reporters, &store.Reporter{Store: runs})
	}
	if f.reportDir != "" {
		if err := os.MkdirAll(f.reportDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	o := pipeline.New(cfg)
	o.Reporter = reporters
	o.Loader = pcio.Loader{}
	o.Exporter = pcio.Exporter{PatchIndices: f.patchIndices}

	failed := 0
	for _, in := range inputs {
		out, err := outputPath(in, f.out, f.format, len(inputs) > 1)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		res, err := o.RunFile(ctx, in, out, f.format)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", in, err)
			continue
		}
		if runs != nil {
			if err := savePatches(ctx, runs, res); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: save patches: %v\n", err)
			}
		}
		if f.reportDir != "" {
			if err := writeReports(f.reportDir, res.Summary, report.FromPatches(res.Patches)); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		if res.Summary.Status == pipeline.StatusCancelled {
			fmt.Fprintln(os.Stderr, "Interrupted")
			break
		}
		if out != "" {
			fmt.Printf("%s -> %s (%d points, %d patches)\n", in, out, res.Summary.PointsOut, res.Summary.Patches)
		}
	}

	if registry != nil {
		if err := monitoring.WriteTextfile(f.metricsFile, registry); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: write metrics: %v\n", err)
		}
	}
	if failed > 0 {
		return 1
	}
	if ctx.Err() != nil {
		return 130
	}
	return 0
}

// savePatches stores the patches of a finished run. It also runs after an
// interrupt so that a cancelled run's partial patches are kept.
func savePatches(ctx context.Context, runs *store.Store, res *pipeline.Result) error {
	if len(res.Patches) == 0 {
		return nil
	}
	return runs.SavePatches(context.WithoutCancel(ctx), res.Summary.RunID, res.Patches)
}

func (f *processFlags) resolveConfig() (pipeline.Config, error) {
	var (
		pc  *config.ProcessingConfig
		err error
	)
	switch {
	case f.configPath != "":
		pc, err = config.LoadProcessingConfig(f.configPath)
	case f.preset != "":
		pc, err = config.NewPresetStore(f.presetDir).LoadPreset(f.preset)
	default:
		pc = config.EmptyProcessingConfig()
	}
	if err != nil {
		return pipeline.Config{}, err
	}
	cfg := pc.Resolve()
	if f.budget >= 0 {
		cfg.MemoryBudgetBytes = f.budget
	}
	if f.workers >= 0 {
		cfg.Workers = f.workers
	}
	cfg.SkipCleaning = cfg.SkipCleaning || f.skipClean
	cfg.SkipThinning = cfg.SkipThinning || f.skipThin
	cfg.SkipSegmentation = cfg.SkipSegmentation || f.skipSegment
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// expandInputs expands glob patterns and removes duplicates, keeping the
// first-seen order of patterns and sorted order within a pattern. A pattern
// without glob syntax is kept even when the file does not exist, so the
// loader reports it.
func expandInputs(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			if !seen[pattern] {
				seen[pattern] = true
				out = append(out, pattern)
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern %q matched no files", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// outputPath picks where a processed input is written. With no -out the
// result goes next to the input as <stem>_processed.<ext>; with several
// inputs, or when out is an existing directory, it goes into out.
func outputPath(in, out, format string, multi bool) (string, error) {
	ext := format
	if ext == "" && out != "" && !multi && !isDir(out) {
		return out, nil
	}
	if ext == "" {
		ext = string(pcio.FormatPTS)
	}
	if _, err := pcio.ParseFormat(ext); err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	switch {
	case out == "":
		return filepath.Join(filepath.Dir(in), stem+"_processed."+ext), nil
	case multi || isDir(out):
		return filepath.Join(out, stem+"."+ext), nil
	default:
		return out, nil
	}
}

func isDir(path string) bool {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func reportStem(s pipeline.RunSummary) string {
	return security.SanitizeFilename(s.RunID)
}

func writeReports(dir string, s pipeline.RunSummary, patches []report.PatchStat) error {
	base := filepath.Join(dir, reportStem(s))
	if err := report.WriteHTMLFile(base+".html", s, patches, report.HTMLOptions{}); err != nil {
		return err
	}
	if len(patches) == 0 {
		return nil
	}
	if err := report.WritePatchHistogram(base+"_rms.png", patches, 0); err != nil {
		return fmt.Errorf("patch histogram: %w", err)
	}
	return nil
}
