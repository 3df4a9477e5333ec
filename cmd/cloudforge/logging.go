package main

import (
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/banshee-data/cloudforge/internal/clean"
	"github.com/banshee-data/cloudforge/internal/monitoring"
	"github.com/banshee-data/cloudforge/internal/pcio"
	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/store"
	"github.com/banshee-data/cloudforge/internal/thin"
)

type logLevel int

const (
	logOff logLevel = iota
	logOps
	logDiag
	logTrace
)

func parseLogLevel(s string) (logLevel, error) {
	switch s {
	case "off", "none":
		return logOff, nil
	case "ops":
		return logOps, nil
	case "diag":
		return logDiag, nil
	case "trace":
		return logTrace, nil
	default:
		return logOff, fmt.Errorf("unknown log level %q (want off, ops, diag or trace)", s)
	}
}

var packageLogWriters = []func(ops, diag, trace io.Writer){
	clean.SetLogWriters,
	thin.SetLogWriters,
	segment.SetLogWriters,
	pipeline.SetLogWriters,
	pcio.SetLogWriters,
	store.SetLogWriters,
}

// configureLogging routes every package's ops, diag and trace streams to w
// up to the given level, and the monitoring logger to w unless logging is
// off.
func configureLogging(level logLevel, w io.Writer) {
	pick := func(l logLevel) io.Writer {
		if level >= l {
			return w
		}
		return nil
	}
	for _, set := range packageLogWriters {
		set(pick(logOps), pick(logDiag), pick(logTrace))
	}
	if level == logOff {
		monitoring.SetLogger(nil)
		return
	}
	monitoring.SetLogger(log.New(w, "", log.LstdFlags).Printf)
}

func addLogFlag(fs *flag.FlagSet) *string {
	return fs.String("log", "ops", "log level: off, ops, diag or trace")
}
