// Package monitoring provides the process-wide diagnostic logger and the
// pipeline.Reporter implementations used by the command line: a log
// reporter and a Prometheus reporter.
package monitoring
