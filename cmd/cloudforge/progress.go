package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/banshee-data/cloudforge/internal/pipeline"
)

func defaultProgressEnabled() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// progressReporter draws one bar per stage, or per stage and tile when a
// run is tiled. Stages that do not report a total get a spinner.
type progressReporter struct {
	w   io.Writer
	bar *progressbar.ProgressBar
	key string
}

func newProgressReporter(w io.Writer) *progressReporter {
	return &progressReporter{w: w}
}

func progressKey(e pipeline.ProgressEvent) string {
	if e.Tiles > 0 {
		return fmt.Sprintf("%s %d/%d", e.Stage, e.Tile, e.Tiles)
	}
	return string(e.Stage)
}

func (p *progressReporter) Progress(e pipeline.ProgressEvent) {
	key := progressKey(e)
	if key != p.key {
		p.finish()
		p.key = key
		p.bar = p.newBar(key, e.Total)
	}
	if e.Total > 0 {
		_ = p.bar.Set(e.Processed)
		if e.Processed >= e.Total {
			p.finish()
		}
		return
	}
	_ = p.bar.Add(1)
}

func (p *progressReporter) Summary(pipeline.RunSummary) {
	p.finish()
	p.key = ""
}

func (p *progressReporter) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	p.bar = nil
}

func (p *progressReporter) newBar(desc string, total int) *progressbar.ProgressBar {
	theme := progressbar.Theme{
		Saucer:        "=",
		SaucerHead:    ">",
		SaucerPadding: " ",
		BarStart:      "[",
		BarEnd:        "]",
	}
	if total <= 0 {
		return progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSpinnerType(9),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionSetWidth(10),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(theme),
		)
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription(fmt.Sprintf("%-14s", desc)),
		progressbar.OptionSetWidth(32),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(theme),
	)
}
