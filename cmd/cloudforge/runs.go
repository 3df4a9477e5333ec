package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/report"
	"github.com/banshee-data/cloudforge/internal/store"
)

const defaultRunsDB = "cloudforge.db"

func runRuns(args []string) int {
	action := "list"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		action, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("runs "+action, flag.ContinueOnError)
	dbPath := fs.String("db", defaultRunsDB, "run database")
	limit := fs.Int("limit", 20, "number of runs to list; 0 lists all")
	jsonOutput := fs.Bool("json", false, "output as JSON")
	outDir := fs.String("out", ".", "report output directory")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    cloudforge runs [list] [options]
    cloudforge runs show <run-id> [options]
    cloudforge runs report <run-id> [options]
    cloudforge runs delete <run-id> [options]
    cloudforge runs usage [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	s, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()
	ctx := context.Background()

	needID := func() (string, bool) {
		if fs.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "Error: runs %s needs exactly one run ID\n", action)
			return "", false
		}
		return fs.Arg(0), true
	}

	switch action {
	case "list":
		return listRuns(ctx, s, *limit, *jsonOutput)
	case "show":
		id, ok := needID()
		if !ok {
			return 2
		}
		return showRun(ctx, s, id, *jsonOutput)
	case "report":
		id, ok := needID()
		if !ok {
			return 2
		}
		return reportRun(ctx, s, id, *outDir)
	case "delete":
		id, ok := needID()
		if !ok {
			return 2
		}
		if err := s.DeleteRun(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Deleted run %s\n", id)
		return 0
	case "usage":
		return showUsage(ctx, s, *jsonOutput)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown runs action %q\n", action)
		fs.Usage()
		return 2
	}
}

func printJSON(v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func listRuns(ctx context.Context, s *store.Store, limit int, asJSON bool) int {
	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return printJSON(runs)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return 0
	}
	fmt.Printf("%-36s  %-9s  %-19s  %10s  %10s  %7s  %s\n", "RUN", "STATUS", "STARTED", "IN", "OUT", "PATCHES", "INPUT")
	for _, r := range runs {
		fmt.Printf("%-36s  %-9s  %-19s  %10d  %10d  %7d  %s\n",
			r.RunID, r.Status, r.Started.Format("2006-01-02 15:04:05"), r.PointsIn, r.PointsOut, r.Patches, r.Input)
	}
	return 0
}

func showRun(ctx context.Context, s *store.Store, id string, asJSON bool) int {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	patches, err := s.Patches(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return printJSON(struct {
			Run     pipeline.RunSummary
			Patches []store.PatchRecord
		}{run, patches})
	}

	fmt.Printf("Run %s\n", run.RunID)
	fmt.Printf("  Status:   %s\n", run.Status)
	if run.Error != "" {
		fmt.Printf("  Error:    %s\n", run.Error)
	}
	fmt.Printf("  Input:    %s\n", run.Input)
	fmt.Printf("  Output:   %s\n", run.Output)
	fmt.Printf("  Started:  %s\n", run.Started.Format(time.RFC3339))
	fmt.Printf("  Elapsed:  %s\n", run.Elapsed.Round(time.Millisecond))
	fmt.Printf("  Points:   %d -> %d (%d rejected, %d residual)\n", run.PointsIn, run.PointsOut, run.Rejected(), run.Residual)
	if run.Tiles > 0 {
		fmt.Printf("  Tiles:    %d\n", run.Tiles)
	}
	fmt.Println("  Stages:")
	for _, m := range run.Stages {
		if m.Skipped {
			fmt.Printf("    %-8s skipped\n", m.Stage)
			continue
		}
		fmt.Printf("    %-8s %10d -> %-10d %s", m.Stage, m.PointsIn, m.PointsOut, m.Elapsed.Round(time.Millisecond))
		filters := make([]string, 0, len(m.Rejected))
		for f := range m.Rejected {
			filters = append(filters, f)
		}
		sort.Strings(filters)
		for _, f := range filters {
			fmt.Printf("  %s=%d", f, m.Rejected[f])
		}
		fmt.Println()
	}
	if len(patches) > 0 {
		fmt.Printf("  Patches:  %d\n", len(patches))
		for _, p := range patches {
			fmt.Printf("    #%-3d %8d pts  n=(%.3f, %.3f, %.3f)  rms=%.2fmm  %.2fx%.2fm\n",
				p.PatchID, p.Points, p.Normal.X, p.Normal.Y, p.Normal.Z, p.RMS*1000, p.Width, p.Height)
		}
	}
	return 0
}

func reportRun(ctx context.Context, s *store.Store, id, outDir string) int {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	records, err := s.Patches(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := writeReports(outDir, run, report.FromRecords(records)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", filepath.Join(outDir, reportStem(run)+".html"))
	return 0
}

func showUsage(ctx context.Context, s *store.Store, asJSON bool) int {
	u, err := s.Usage(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if asJSON {
		return printJSON(u)
	}
	fmt.Printf("Runs:             %d\n", u.Runs)
	statuses := []pipeline.Status{pipeline.StatusCompleted, pipeline.StatusCancelled, pipeline.StatusFailed}
	for _, st := range statuses {
		if n := u.ByStatus[st]; n > 0 {
			fmt.Printf("  %-15s %d\n", st+":", n)
		}
	}
	fmt.Printf("Points processed: %d\n", u.PointsProcessed)
	fmt.Printf("Points rejected:  %d\n", u.PointsRejected)
	fmt.Printf("Patches:          %d\n", u.Patches)
	fmt.Printf("Total time:       %s\n", u.TotalElapsed.Round(time.Second))
	return 0
}
