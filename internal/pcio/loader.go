package pcio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/fsutil"
)

const cancelCheckLines = 1 << 16

// Loader reads .xyz and .pts text files. Each data line holds X Y Z,
// optionally followed by intensity, colour, or intensity then colour:
// 3, 4, 6 or 7 columns, constant throughout the file. Blank lines and lines
// starting with '#' or "//" are ignored. A first line holding a single
// integer is a point count header; a mismatch with the data is corrupt.
type Loader struct {
	// FS defaults to the OS filesystem.
	FS fsutil.FileSystem
	// MaxPoints stops reading with an error once exceeded. Zero is no limit.
	MaxPoints int
}

// Load implements pipeline.Loader.
func (l Loader) Load(ctx context.Context, path string) (*cloud.PointCloud, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if !f.Readable() {
		return nil, fmt.Errorf("%w: cannot load %s", ErrUnsupportedFormat, f)
	}
	file, err := fileSystem(l.FS).Open(path)
	if err != nil {
		return nil, fmt.Errorf("open point cloud: %w", err)
	}
	defer file.Close()

	c, err := l.Read(ctx, file, path)
	if err != nil {
		return nil, err
	}
	diagf("loaded %s: %d points, channels %+v, bounds %s", path, c.Len(), c.Channels(), c.Bounds())
	return c, nil
}

// Read parses text point data from r. Name is used in errors only.
func (l Loader) Read(ctx context.Context, r io.Reader, name string) (*cloud.PointCloud, error) {
	f, _ := FormatOf(name)
	p := parser{name: name, pts: f == FormatPTS, maxPoints: l.MaxPoints, header: -1}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if line%cancelCheckLines == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if err := p.parseLine(line, sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &CorruptFileError{Path: name, Line: line + 1, Err: err}
	}
	return p.finish()
}

type parser struct {
	name      string
	pts       bool
	maxPoints int
	header    int // declared count, -1 when absent
	columns   int
	seenData  bool

	points    []cloud.Point
	intensity []float64
	colors    [][3]float64
}

func (p *parser) corrupt(line int, format string, args ...interface{}) error {
	return &CorruptFileError{Path: p.name, Line: line, Err: fmt.Errorf(format, args...)}
}

func (p *parser) parseLine(line int, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "//") {
		return nil
	}
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == ';'
	})
	if !p.seenData && p.header < 0 && len(fields) == 1 {
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 0 {
			return p.corrupt(line, "invalid point count header %q", fields[0])
		}
		p.header = n
		p.seenData = true
		return nil
	}
	p.seenData = true

	switch len(fields) {
	case 3, 4, 6, 7:
	default:
		return p.corrupt(line, "expected 3, 4, 6 or 7 columns, got %d", len(fields))
	}
	if p.columns == 0 {
		p.columns = len(fields)
		tracef("%s: %d columns", p.name, p.columns)
	} else if len(fields) != p.columns {
		return p.corrupt(line, "expected %d columns, got %d", p.columns, len(fields))
	}
	if p.maxPoints > 0 && len(p.points) >= p.maxPoints {
		return p.corrupt(line, "more than %d points", p.maxPoints)
	}

	var v [7]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return p.corrupt(line, "column %d: invalid number %q", i+1, f)
		}
		v[i] = x
	}
	p.points = append(p.points, cloud.NewPoint(v[0], v[1], v[2]))
	switch p.columns {
	case 4:
		p.intensity = append(p.intensity, v[3])
	case 6:
		p.colors = append(p.colors, [3]float64{v[3], v[4], v[5]})
	case 7:
		p.intensity = append(p.intensity, v[3])
		p.colors = append(p.colors, [3]float64{v[4], v[5], v[6]})
	}
	return nil
}

func (p *parser) finish() (*cloud.PointCloud, error) {
	if p.header >= 0 && p.header != len(p.points) {
		return nil, p.corrupt(1, "header declares %d points, file has %d", p.header, len(p.points))
	}
	ch := cloud.Channels{
		Intensity: len(p.intensity) > 0,
		Color:     len(p.colors) > 0,
	}
	if ch.Intensity {
		scale := intensityScale(p.intensity, p.pts)
		for i, v := range p.intensity {
			p.points[i].Intensity = float32(clamp01((v - scale.offset) / scale.span))
		}
	}
	if ch.Color {
		unit := true
		for _, c := range p.colors {
			if c[0] > 1 || c[1] > 1 || c[2] > 1 {
				unit = false
				break
			}
		}
		for i, c := range p.colors {
			for k := range c {
				x := c[k]
				if unit {
					x *= 255
				}
				p.points[i].Color[k] = uint8(math.Round(math.Max(0, math.Min(255, x))))
			}
		}
	}
	return cloud.FromPoints(p.points, ch), nil
}

func fileSystem(fsys fsutil.FileSystem) fsutil.FileSystem {
	if fsys == nil {
		return fsutil.OSFileSystem{}
	}
	return fsys
}

type linearScale struct{ offset, span float64 }

// intensityScale maps raw intensities onto [0, 1]. Values already in that
// range are kept; PTS files use the signed 12-bit range; anything else
// non-negative is divided by the maximum.
func intensityScale(vs []float64, pts bool) linearScale {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vs {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	switch {
	case lo >= 0 && hi <= 1:
		return linearScale{0, 1}
	case pts && lo >= -2048 && hi <= 2047:
		return linearScale{-2048, 4095}
	case hi > 0 && lo >= 0:
		return linearScale{0, hi}
	default:
		return linearScale{lo, math.Max(hi-lo, 1)}
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
