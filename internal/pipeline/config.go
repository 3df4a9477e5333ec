package pipeline

import (
	"math"

	"github.com/banshee-data/cloudforge/internal/clean"
	"github.com/banshee-data/cloudforge/internal/segment"
	"github.com/banshee-data/cloudforge/internal/spatial"
	"github.com/banshee-data/cloudforge/internal/thin"
)

// Thinning methods.
const (
	ThinVoxel  = "voxel"
	ThinRandom = "random"
	// ThinAdaptive is recognised so that it can be refused with a clear
	// error; no decision criterion exists for it.
	ThinAdaptive = "adaptive"
)

// StatisticalConfig configures the statistical outlier filter.
type StatisticalConfig struct {
	Enabled   bool
	Neighbors int
	StdRatio  float64
}

// RadiusConfig configures the radius outlier filter.
type RadiusConfig struct {
	Enabled      bool
	Radius       float64
	MinNeighbors int
}

// CleaningConfig configures the clean stage.
type CleaningConfig struct {
	Statistical StatisticalConfig
	Radius      RadiusConfig
	// Order lists filter names in evaluation order; it only affects
	// rejection attribution. Empty means statistical then radius.
	Order []string
}

// ThinningConfig configures the thin stage.
type ThinningConfig struct {
	Method             string
	VoxelSize          float64
	PreserveBoundaries bool
	CurvatureThreshold float64
	EstimateNormals    bool
	// TargetPoints and Seed are used by the random method only.
	TargetPoints int
	Seed         uint64
}

// IndexConfig selects the spatial index backing.
type IndexConfig struct {
	Kind     spatial.Kind
	LeafSize int
}

// Config is the resolved configuration consumed by the Orchestrator.
type Config struct {
	Cleaning     CleaningConfig
	Thinning     ThinningConfig
	Segmentation segment.Params
	Index        IndexConfig

	SkipCleaning     bool
	SkipThinning     bool
	SkipSegmentation bool

	// MemoryBudgetBytes bounds the estimated working set; 0 is unlimited.
	MemoryBudgetBytes int64
	// TileOverlapMargin pads each tile; 0 means the largest filter radius.
	TileOverlapMargin float64
	Workers           int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Cleaning: CleaningConfig{
			Statistical: StatisticalConfig{Enabled: true, Neighbors: 30, StdRatio: 1.5},
			Radius:      RadiusConfig{Enabled: true, Radius: 0.05, MinNeighbors: 10},
		},
		Thinning: ThinningConfig{
			Method:             ThinVoxel,
			VoxelSize:          0.01,
			PreserveBoundaries: true,
			CurvatureThreshold: thin.DefaultCurvatureThreshold,
			Seed:               1,
		},
		Segmentation: segment.DefaultParams(),
		Index:        IndexConfig{Kind: spatial.KindKDTree, LeafSize: spatial.DefaultLeafSize},
	}
}

// Validate returns a *ConfigError for the first invalid value.
func (c Config) Validate() error {
	if !c.SkipCleaning {
		if err := c.validateCleaning(); err != nil {
			return err
		}
	}
	if !c.SkipThinning {
		if err := c.validateThinning(); err != nil {
			return err
		}
	}
	if !c.SkipSegmentation {
		if err := c.Segmentation.Validate(); err != nil {
			return &ConfigError{Field: "segmentation", Reason: err.Error()}
		}
	}
	if _, err := spatial.ParseKind(string(c.Index.Kind)); err != nil {
		return &ConfigError{Field: "index.kind", Reason: err.Error()}
	}
	if c.Index.LeafSize != 0 && (c.Index.LeafSize < spatial.MinLeafSize || c.Index.LeafSize > spatial.MaxLeafSize) {
		return configErrorf("index.leaf_size", "must be in [%d, %d], got %d", spatial.MinLeafSize, spatial.MaxLeafSize, c.Index.LeafSize)
	}
	if c.MemoryBudgetBytes < 0 {
		return configErrorf("pipeline.memory_budget_bytes", "must be >= 0, got %d", c.MemoryBudgetBytes)
	}
	if c.TileOverlapMargin < 0 || math.IsNaN(c.TileOverlapMargin) || math.IsInf(c.TileOverlapMargin, 0) {
		return configErrorf("pipeline.tile_overlap_margin", "must be finite and >= 0, got %v", c.TileOverlapMargin)
	}
	if c.TileOverlapMargin > 0 && c.TileOverlapMargin < c.maxFilterRadius() {
		return configErrorf("pipeline.tile_overlap_margin", "%v is smaller than the radius filter radius %v", c.TileOverlapMargin, c.maxFilterRadius())
	}
	if c.Workers < 0 {
		return configErrorf("pipeline.workers", "must be >= 0, got %d", c.Workers)
	}
	return nil
}

func (c Config) validateCleaning() error {
	s, r := c.Cleaning.Statistical, c.Cleaning.Radius
	if s.Enabled {
		if s.Neighbors < 1 {
			return configErrorf("cleaning.statistical_outlier.neighbors", "must be >= 1, got %d", s.Neighbors)
		}
		if !(s.StdRatio >= 0) || math.IsInf(s.StdRatio, 1) {
			return configErrorf("cleaning.statistical_outlier.std_ratio", "must be finite and >= 0, got %v", s.StdRatio)
		}
	}
	if r.Enabled {
		if !(r.Radius > 0) || math.IsInf(r.Radius, 1) {
			return configErrorf("cleaning.radius_outlier.radius", "must be finite and > 0, got %v", r.Radius)
		}
		if r.MinNeighbors < 0 {
			return configErrorf("cleaning.radius_outlier.min_neighbors", "must be >= 0, got %d", r.MinNeighbors)
		}
	}
	seen := map[string]bool{}
	for _, name := range c.Cleaning.Order {
		if name != clean.NameStatistical && name != clean.NameRadius {
			return configErrorf("cleaning.order", "unknown filter %q", name)
		}
		if seen[name] {
			return configErrorf("cleaning.order", "filter %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

func (c Config) validateThinning() error {
	t := c.Thinning
	switch t.Method {
	case ThinVoxel, "":
		if !(t.VoxelSize > 0) || math.IsInf(t.VoxelSize, 1) {
			return configErrorf("thinning.voxel_size", "must be finite and > 0, got %v", t.VoxelSize)
		}
		if t.CurvatureThreshold < 0 || t.CurvatureThreshold > 1.0/3 {
			return configErrorf("thinning.curvature_threshold", "must be in [0, 1/3], got %v", t.CurvatureThreshold)
		}
	case ThinRandom:
		if t.TargetPoints < 0 {
			return configErrorf("thinning.target_points", "must be >= 0, got %d", t.TargetPoints)
		}
		if t.TargetPoints == 0 && !(t.VoxelSize > 0) {
			return configErrorf("thinning.voxel_size", "random thinning needs target_points or a positive voxel_size")
		}
	case ThinAdaptive:
		return configErrorf("thinning.method", "adaptive thinning is not supported")
	default:
		return configErrorf("thinning.method", "unknown method %q", t.Method)
	}
	return nil
}

func (c Config) maxFilterRadius() float64 {
	if c.SkipCleaning || !c.Cleaning.Radius.Enabled {
		return 0
	}
	return c.Cleaning.Radius.Radius
}

// OverlapMargin returns the tile padding in use: the configured margin, or
// the largest filter radius when none is set. When only the statistical
// filter runs, a margin of twice the voxel size is used.
func (c Config) OverlapMargin() float64 {
	if c.TileOverlapMargin > 0 {
		return c.TileOverlapMargin
	}
	if r := c.maxFilterRadius(); r > 0 {
		return r
	}
	return 2 * c.tileQuantum()
}

// tileQuantum is the length tile edges are snapped to.
func (c Config) tileQuantum() float64 {
	if c.Thinning.VoxelSize > 0 {
		return c.Thinning.VoxelSize
	}
	return 0.01
}

// Cleaner builds the clean stage from the configuration.
func (c Config) Cleaner() *clean.Cleaner {
	order := c.Cleaning.Order
	if len(order) == 0 {
		order = []string{clean.NameStatistical, clean.NameRadius}
	}
	var filters []clean.Filter
	for _, name := range order {
		switch name {
		case clean.NameStatistical:
			if s := c.Cleaning.Statistical; s.Enabled {
				f := clean.NewStatisticalFilter(s.Neighbors, s.StdRatio)
				f.Workers = c.Workers
				filters = append(filters, f)
			}
		case clean.NameRadius:
			if r := c.Cleaning.Radius; r.Enabled {
				f := clean.NewRadiusFilter(r.Radius, r.MinNeighbors)
				f.Workers = c.Workers
				filters = append(filters, f)
			}
		}
	}
	return &clean.Cleaner{Filters: filters, Index: c.cleanIndexOptions()}
}

func (c Config) cleanIndexOptions() spatial.Options {
	opts := spatial.Options{Kind: c.Index.Kind, LeafSize: c.Index.LeafSize, Workers: c.Workers}
	if opts.Kind == spatial.KindVoxelGrid {
		opts.CellSize = c.maxFilterRadius()
		if opts.CellSize == 0 {
			opts.CellSize = c.tileQuantum()
		}
	}
	return opts
}

func (c Config) segmentIndexOptions() spatial.Options {
	opts := spatial.Options{Kind: c.Index.Kind, LeafSize: c.Index.LeafSize, Workers: c.Workers}
	if opts.Kind == spatial.KindVoxelGrid {
		opts.CellSize = math.Max(c.Segmentation.ConnectivityRadius, c.tileQuantum())
	}
	return opts
}

// Thinner builds the thin stage from the configuration.
func (c Config) Thinner() thin.Thinner {
	t := c.Thinning
	if t.Method == ThinRandom {
		return &thin.RandomThinner{
			TargetPoints: t.TargetPoints,
			VoxelSize:    t.VoxelSize,
			Seed:         t.Seed,
			Workers:      c.Workers,
		}
	}
	return &thin.VoxelThinner{
		VoxelSize:          t.VoxelSize,
		PreserveBoundaries: t.PreserveBoundaries,
		CurvatureThreshold: t.CurvatureThreshold,
		EstimateNormals:    t.EstimateNormals,
		Workers:            c.Workers,
	}
}

// Segmenter builds the segment stage from the configuration.
func (c Config) Segmenter() *segment.Segmenter {
	p := c.Segmentation
	if p.Workers == 0 {
		p.Workers = c.Workers
	}
	return segment.NewSegmenter(p)
}
