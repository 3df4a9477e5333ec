package pcio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/fsutil"
	"github.com/banshee-data/cloudforge/internal/segment"
)

const defaultPrecision = 6

// Exporter writes clouds as .xyz or .pts text and patches as JSON.
//
// For the text formats, non-empty patch lists are written alongside as
// <path without extension>.patches.json. The json format writes only the
// patch document.
type Exporter struct {
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// Precision is the number of decimals for coordinates; 0 means 6.
	Precision int
	// PatchIndices includes inlier indices in the patch document.
	PatchIndices bool
}

// Export implements pipeline.Exporter. An empty format is derived from the
// path's extension.
func (e Exporter) Export(ctx context.Context, c *cloud.PointCloud, patches []segment.Patch, path, format string) error {
	var (
		f   Format
		err error
	)
	if format == "" {
		f, err = FormatOf(path)
	} else {
		f, err = ParseFormat(format)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fsys := fileSystem(e.FS)
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	if f == FormatJSON {
		if err := e.writeFile(fsys, path, func(w io.Writer) error {
			return WritePatchJSON(w, c, patches, e.PatchIndices)
		}); err != nil {
			return err
		}
		diagf("exported %d patches to %s", len(patches), path)
		return nil
	}

	if err := e.writeFile(fsys, path, func(w io.Writer) error {
		return e.WritePoints(ctx, w, c, f)
	}); err != nil {
		return err
	}
	diagf("exported %d points to %s", c.Len(), path)

	if len(patches) > 0 {
		side := PatchSidecarPath(path)
		if err := e.writeFile(fsys, side, func(w io.Writer) error {
			return WritePatchJSON(w, c, patches, e.PatchIndices)
		}); err != nil {
			return err
		}
		diagf("exported %d patches to %s", len(patches), side)
	}
	return nil
}

// PatchSidecarPath returns where patches are written next to a point file.
func PatchSidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".patches.json"
}

func (e Exporter) writeFile(fsys fsutil.FileSystem, path string, write func(io.Writer) error) error {
	w, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	bw := bufio.NewWriterSize(w, 256*1024)
	if err := write(bw); err != nil {
		w.Close()
		opsf("export to %s failed: %v", path, err)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// WritePoints writes c to w in a text format. PTS output starts with the
// point count and carries intensity (as the signed 12-bit PTS range) and
// colour when the cloud has them; XYZ output is positions only.
func (e Exporter) WritePoints(ctx context.Context, w io.Writer, c *cloud.PointCloud, f Format) error {
	if f != FormatXYZ && f != FormatPTS {
		return fmt.Errorf("%w: cannot write points as %s", ErrUnsupportedFormat, f)
	}
	prec := e.Precision
	if prec <= 0 {
		prec = defaultPrecision
	}
	ch := c.Channels()
	pts := f == FormatPTS

	buf := make([]byte, 0, 128)
	if pts {
		buf = strconv.AppendInt(buf, int64(c.Len()), 10)
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	for i, p := range c.Points() {
		if i%cancelCheckLines == cancelCheckLines-1 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		buf = buf[:0]
		buf = strconv.AppendFloat(buf, p.Pos.X, 'f', prec, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Pos.Y, 'f', prec, 64)
		buf = append(buf, ' ')
		buf = strconv.AppendFloat(buf, p.Pos.Z, 'f', prec, 64)
		if pts && ch.Intensity {
			buf = append(buf, ' ')
			buf = strconv.AppendInt(buf, int64(float64(p.Intensity)*4095+0.5)-2048, 10)
		}
		if pts && ch.Color {
			for _, v := range p.Color {
				buf = append(buf, ' ')
				buf = strconv.AppendUint(buf, uint64(v), 10)
			}
		}
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}
