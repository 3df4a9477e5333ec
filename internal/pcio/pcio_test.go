package pcio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/fsutil"
	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/testutil"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"xyz", FormatXYZ, true},
		{".PTS", FormatPTS, true},
		{"json", FormatJSON, true},
		{"ply", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.ok != (err == nil) || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ParseFormat(%q) error %v is not ErrUnsupportedFormat", tt.in, err)
		}
	}
	_, err := FormatOf("scan")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoader_Columns(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		channels  cloud.Channels
		intensity float32
		color     [3]uint8
	}{
		{"xyz", "# comment\n1 2 3\n\n4 5 6\n", cloud.Channels{}, 0, [3]uint8{}},
		{"xyzi", "1 2 3 0.5\n4 5 6 1\n", cloud.Channels{Intensity: true}, 0.5, [3]uint8{}},
		{"xyzi raw", "1 2 3 100\n4 5 6 200\n", cloud.Channels{Intensity: true}, 0.5, [3]uint8{}},
		{"xyzrgb", "1,2,3,255,128,0\n4,5,6,0,0,0\n", cloud.Channels{Color: true}, 0, [3]uint8{255, 128, 0}},
		{"xyzrgb unit", "1 2 3 1 0.5 0\n4 5 6 0 0 0\n", cloud.Channels{Color: true}, 0, [3]uint8{255, 128, 0}},
		{"xyzirgb", "1\t2\t3\t1\t10\t20\t30\n4 5 6 0 0 0 0\n", cloud.Channels{Intensity: true, Color: true}, 1, [3]uint8{10, 20, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Loader{}.Read(context.Background(), strings.NewReader(tt.body), "test.xyz")
			require.NoError(t, err)
			require.Equal(t, 2, c.Len())
			assert.Equal(t, tt.channels, c.Channels())
			p := c.At(0)
			assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, p.Pos)
			assert.InDelta(t, tt.intensity, p.Intensity, 1e-6)
			assert.Equal(t, tt.color, p.Color)
			assert.Equal(t, r3.Vec{X: 4, Y: 5, Z: 6}, c.Bounds().Max)
		})
	}
}

func TestLoader_PTSHeader(t *testing.T) {
	body := "2\n0 0 0 -2048 1 2 3\n1 1 1 2047 4 5 6\n"
	c, err := Loader{}.Read(context.Background(), strings.NewReader(body), "scan.pts")
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.InDelta(t, 0, c.At(0).Intensity, 1e-6)
	assert.InDelta(t, 1, c.At(1).Intensity, 1e-6)

	_, err = Loader{}.Read(context.Background(), strings.NewReader("3\n0 0 0\n"), "scan.pts")
	var ce *CorruptFileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.Line)
}

func TestLoader_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		body string
		line int
	}{
		{"two columns", "1 2\n", 1},
		{"five columns", "1 2 3\n1 2 3 4 5\n", 2},
		{"column change", "1 2 3\n1 2 3 4\n", 2},
		{"not a number", "1 2 3\n1 x 3\n", 2},
		{"nan", "1 2 NaN\n", 1},
		{"bad header", "-5\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Loader{}.Read(context.Background(), strings.NewReader(tt.body), "bad.xyz")
			var ce *CorruptFileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.line, ce.Line)
			assert.Equal(t, "bad.xyz", ce.Path)
		})
	}

	_, err := Loader{MaxPoints: 1}.Read(context.Background(), strings.NewReader("1 2 3\n4 5 6\n"), "big.xyz")
	var ce *CorruptFileError
	assert.ErrorAs(t, err, &ce)
}

func TestLoader_EmptyFile(t *testing.T) {
	c, err := Loader{}.Read(context.Background(), strings.NewReader("# nothing\n"), "empty.xyz")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestLoader_Load(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/scans/a.xyz", []byte("1 2 3\n"))
	mfs.WriteFile("/scans/a.ply", []byte("ply\n"))

	c, err := Loader{FS: mfs}.Load(context.Background(), "/scans/a.xyz")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = Loader{FS: mfs}.Load(context.Background(), "/scans/a.ply")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = Loader{FS: mfs}.Load(context.Background(), "/scans/a.json")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = Loader{FS: mfs}.Load(context.Background(), "/scans/missing.xyz")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExporter_RoundTrip(t *testing.T) {
	pts := []cloud.Point{
		{Pos: r3.Vec{X: 1.5, Y: -2.25, Z: 3}, Intensity: 0.25, Color: [3]uint8{10, 20, 30}},
		{Pos: r3.Vec{X: 0, Y: 0, Z: 0}, Intensity: 1, Color: [3]uint8{255, 0, 7}},
	}
	src := cloud.FromPoints(pts, cloud.Channels{Intensity: true, Color: true})
	mfs := fsutil.NewMemoryFileSystem()
	ctx := context.Background()

	require.NoError(t, Exporter{FS: mfs}.Export(ctx, src, nil, "/out/scan.pts", ""))
	got, err := Loader{FS: mfs}.Load(ctx, "/out/scan.pts")
	require.NoError(t, err)
	require.Equal(t, src.Len(), got.Len())
	assert.Equal(t, src.Channels(), got.Channels())
	for i := range pts {
		assert.Equal(t, pts[i].Pos, got.At(i).Pos)
		assert.Equal(t, pts[i].Color, got.At(i).Color)
		assert.InDelta(t, pts[i].Intensity, got.At(i).Intensity, 1.0/4095)
	}
	assert.Equal(t, []string{"/out/scan.pts"}, mfs.Files(), "no sidecar without patches")

	require.NoError(t, Exporter{FS: mfs}.Export(ctx, src, nil, "/out/scan.txt", "xyz"))
	data, ok := mfs.ReadFile("/out/scan.txt")
	require.True(t, ok)
	assert.Equal(t, "1.500000 -2.250000 3.000000\n0.000000 0.000000 0.000000\n", string(data))

	assert.ErrorIs(t, Exporter{FS: mfs}.Export(ctx, src, nil, "/out/scan.ply", ""), ErrUnsupportedFormat)
}

func floorPatches(t *testing.T) (*cloud.PointCloud, []segment.Patch) {
	t.Helper()
	c := testutil.FloorAndWall(60, 6)
	res, err := segment.NewSegmenter(segment.DefaultParams()).Segment(context.Background(), c, nil)
	require.NoError(t, err)
	require.Len(t, res.Patches, 2)
	return c, res.Patches
}

func TestExporter_PatchSidecar(t *testing.T) {
	c, patches := floorPatches(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "room.xyz")

	require.NoError(t, Exporter{PatchIndices: true}.Export(context.Background(), c, patches, out, ""))
	assert.FileExists(t, out)
	side := PatchSidecarPath(out)
	assert.Equal(t, filepath.Join(dir, "nested", "room.patches.json"), side)

	f, err := os.Open(side)
	require.NoError(t, err)
	defer f.Close()
	doc, err := ReadPatchJSON(f)
	require.NoError(t, err)
	assert.Equal(t, c.Len(), doc.Points)
	require.Len(t, doc.Patches, 2)
	orientations := map[Orientation]bool{}
	for i, p := range doc.Patches {
		assert.Equal(t, i, p.ID)
		assert.Equal(t, patches[i].Len(), p.Points)
		assert.Len(t, p.Indices, p.Points)
		assert.Greater(t, p.Area, 0.0)
		orientations[p.Orientation] = true
	}
	assert.True(t, orientations[Horizontal] && orientations[Vertical], "got %v", orientations)
}

func TestExporter_JSONOnly(t *testing.T) {
	c, patches := floorPatches(t)
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, Exporter{FS: mfs}.Export(context.Background(), c, patches, "/out/room.json", ""))
	assert.Equal(t, []string{"/out/room.json"}, mfs.Files())
	data, _ := mfs.ReadFile("/out/room.json")
	assert.NotContains(t, string(data), `"indices"`)
}

func TestExporter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Exporter{FS: fsutil.NewMemoryFileSystem()}.Export(ctx, testutil.Points([3]float64{1, 2, 3}), nil, "/x.xyz", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrientationOf(t *testing.T) {
	tests := []struct {
		n    r3.Vec
		want Orientation
	}{
		{r3.Vec{Z: 1}, Horizontal},
		{r3.Vec{Z: -1}, Horizontal},
		{r3.Vec{X: 1}, Vertical},
		{r3.Unit(r3.Vec{X: 1, Z: 1}), Inclined},
		{r3.Unit(r3.Vec{X: 0.1, Z: 1}), Horizontal},
	}
	for _, tt := range tests {
		if got := OrientationOf(tt.n); got != tt.want {
			t.Errorf("OrientationOf(%v) = %s, want %s", tt.n, got, tt.want)
		}
	}
}
