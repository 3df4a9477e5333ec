// Package report renders run reports: an HTML page of interactive charts
// (go-echarts) and a PNG histogram of patch fit quality (gonum/plot).
//
// Reports are built from a pipeline.RunSummary plus patch statistics taken
// either from a fresh segmentation or from the run store.
package report
