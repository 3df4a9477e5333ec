// Package parallel provides the fixed-size worker pool shared by all CPU-bound
// stages.
//
// Work is split into contiguous index ranges so that results can be
// concatenated in index order regardless of completion order.
package parallel
