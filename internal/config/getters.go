package config

import (
	"github.com/banshee-data/cloudforge/internal/pipeline"
)

// defaults is the single in-code copy of the production defaults; the Get*
// accessors fall back to it.
var defaults = pipeline.DefaultConfig()

// GetScannerName returns the scanner name, or "" when unset.
func (c *ProcessingConfig) GetScannerName() string {
	if c.Scanner == nil {
		return ""
	}
	return c.Scanner.Name
}

// GetTypicalNoise returns the scanner's typical noise in metres, or 0 when
// unknown.
func (c *ProcessingConfig) GetTypicalNoise() float64 {
	if c.Scanner == nil || c.Scanner.TypicalNoise == nil {
		return 0
	}
	return *c.Scanner.TypicalNoise
}

func (c *ProcessingConfig) statistical() *StatisticalOutlierConfig {
	if c.Cleaning == nil || c.Cleaning.StatisticalOutlier == nil {
		return &StatisticalOutlierConfig{}
	}
	return c.Cleaning.StatisticalOutlier
}

func (c *ProcessingConfig) radius() *RadiusOutlierConfig {
	if c.Cleaning == nil || c.Cleaning.RadiusOutlier == nil {
		return &RadiusOutlierConfig{}
	}
	return c.Cleaning.RadiusOutlier
}

func (c *ProcessingConfig) thinning() *ThinningConfig {
	if c.Thinning == nil {
		return &ThinningConfig{}
	}
	return c.Thinning
}

func (c *ProcessingConfig) segmentation() *SegmentationConfig {
	if c.Segmentation == nil {
		return &SegmentationConfig{}
	}
	return c.Segmentation
}

func (c *ProcessingConfig) pipeline() *PipelineConfig {
	if c.Pipeline == nil {
		return &PipelineConfig{}
	}
	return c.Pipeline
}

func orBool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func orInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func orFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func orUint(p *uint64, def uint64) uint64 {
	if p == nil {
		return def
	}
	return *p
}

// GetStatisticalEnabled returns cleaning.statistical_outlier.enabled or the default.
func (c *ProcessingConfig) GetStatisticalEnabled() bool {
	return orBool(c.statistical().Enabled, defaults.Cleaning.Statistical.Enabled)
}

// GetStatisticalNeighbors returns cleaning.statistical_outlier.neighbors or the default.
func (c *ProcessingConfig) GetStatisticalNeighbors() int {
	return orInt(c.statistical().Neighbors, defaults.Cleaning.Statistical.Neighbors)
}

// GetStatisticalStdRatio returns cleaning.statistical_outlier.std_ratio or the default.
func (c *ProcessingConfig) GetStatisticalStdRatio() float64 {
	return orFloat(c.statistical().StdRatio, defaults.Cleaning.Statistical.StdRatio)
}

// GetRadiusEnabled returns cleaning.radius_outlier.enabled or the default.
func (c *ProcessingConfig) GetRadiusEnabled() bool {
	return orBool(c.radius().Enabled, defaults.Cleaning.Radius.Enabled)
}

// GetRadius returns cleaning.radius_outlier.radius or the default.
func (c *ProcessingConfig) GetRadius() float64 {
	return orFloat(c.radius().Radius, defaults.Cleaning.Radius.Radius)
}

// GetRadiusMinNeighbors returns cleaning.radius_outlier.min_neighbors or the default.
func (c *ProcessingConfig) GetRadiusMinNeighbors() int {
	return orInt(c.radius().MinNeighbors, defaults.Cleaning.Radius.MinNeighbors)
}

// GetCleaningOrder returns cleaning.order, or nil for the default order.
func (c *ProcessingConfig) GetCleaningOrder() []string {
	if c.Cleaning == nil {
		return nil
	}
	return c.Cleaning.Order
}

// GetThinningMethod returns thinning.method or the default.
func (c *ProcessingConfig) GetThinningMethod() string {
	if m := c.thinning().Method; m != nil {
		return *m
	}
	return defaults.Thinning.Method
}

// GetVoxelSize returns thinning.voxel_size or the default.
func (c *ProcessingConfig) GetVoxelSize() float64 {
	return orFloat(c.thinning().VoxelSize, defaults.Thinning.VoxelSize)
}

// GetTargetPoints returns thinning.target_points, or 0 (derive from voxel size).
func (c *ProcessingConfig) GetTargetPoints() int {
	return orInt(c.thinning().TargetPoints, 0)
}

// GetPreserveBoundaries returns thinning.preserve_boundaries or the default.
func (c *ProcessingConfig) GetPreserveBoundaries() bool {
	return orBool(c.thinning().PreserveBoundaries, defaults.Thinning.PreserveBoundaries)
}

// GetCurvatureThreshold returns thinning.curvature_threshold or the default.
func (c *ProcessingConfig) GetCurvatureThreshold() float64 {
	return orFloat(c.thinning().CurvatureThreshold, defaults.Thinning.CurvatureThreshold)
}

// GetEstimateNormals returns thinning.estimate_normals or false.
func (c *ProcessingConfig) GetEstimateNormals() bool {
	return orBool(c.thinning().EstimateNormals, false)
}

// GetThinningSeed returns thinning.seed or the default.
func (c *ProcessingConfig) GetThinningSeed() uint64 {
	return orUint(c.thinning().Seed, defaults.Thinning.Seed)
}

// GetDistanceThreshold returns segmentation.distance_threshold or the default.
func (c *ProcessingConfig) GetDistanceThreshold() float64 {
	return orFloat(c.segmentation().DistanceThreshold, defaults.Segmentation.DistanceThreshold)
}

// GetMinPlanePoints returns segmentation.min_plane_points or the default.
func (c *ProcessingConfig) GetMinPlanePoints() int {
	return orInt(c.segmentation().MinPlanePoints, defaults.Segmentation.MinPlanePoints)
}

// GetMaxIterations returns segmentation.max_iterations or the default.
func (c *ProcessingConfig) GetMaxIterations() int {
	return orInt(c.segmentation().MaxIterations, defaults.Segmentation.MaxIterations)
}

// GetMaxPlanes returns segmentation.max_planes or the default.
func (c *ProcessingConfig) GetMaxPlanes() int {
	return orInt(c.segmentation().MaxPlanes, defaults.Segmentation.MaxPlanes)
}

// GetConfidence returns segmentation.confidence or the default.
func (c *ProcessingConfig) GetConfidence() float64 {
	return orFloat(c.segmentation().Confidence, defaults.Segmentation.Confidence)
}

// GetMergeAngleDeg returns segmentation.merge_angle_deg or the default.
func (c *ProcessingConfig) GetMergeAngleDeg() float64 {
	return orFloat(c.segmentation().MergeAngleDeg, defaults.Segmentation.MergeAngleDeg)
}

// GetMergeOffset returns segmentation.merge_offset or the default.
func (c *ProcessingConfig) GetMergeOffset() float64 {
	return orFloat(c.segmentation().MergeOffset, defaults.Segmentation.MergeOffset)
}

// GetConnectivityRadius returns segmentation.connectivity_radius, or 0 (auto).
func (c *ProcessingConfig) GetConnectivityRadius() float64 {
	return orFloat(c.segmentation().ConnectivityRadius, 0)
}

// GetSegmentationSeed returns segmentation.seed or the default.
func (c *ProcessingConfig) GetSegmentationSeed() uint64 {
	return orUint(c.segmentation().Seed, defaults.Segmentation.Seed)
}

// GetIndexKind returns index.kind or the default.
func (c *ProcessingConfig) GetIndexKind() string {
	if c.Index == nil || c.Index.Kind == nil {
		return string(defaults.Index.Kind)
	}
	return *c.Index.Kind
}

// GetLeafSize returns index.leaf_size or the default.
func (c *ProcessingConfig) GetLeafSize() int {
	if c.Index == nil {
		return defaults.Index.LeafSize
	}
	return orInt(c.Index.LeafSize, defaults.Index.LeafSize)
}

// GetMemoryBudgetBytes returns pipeline.memory_budget_bytes, or 0 (unlimited).
func (c *ProcessingConfig) GetMemoryBudgetBytes() int64 {
	if p := c.pipeline().MemoryBudgetBytes; p != nil {
		return *p
	}
	return 0
}

// GetTileOverlapMargin returns pipeline.tile_overlap_margin, or 0 (auto).
func (c *ProcessingConfig) GetTileOverlapMargin() float64 {
	return orFloat(c.pipeline().TileOverlapMargin, 0)
}

// GetWorkers returns pipeline.workers, or 0 (GOMAXPROCS).
func (c *ProcessingConfig) GetWorkers() int {
	return orInt(c.pipeline().Workers, 0)
}

// GetSkipCleaning returns pipeline.skip_cleaning or false.
func (c *ProcessingConfig) GetSkipCleaning() bool {
	return orBool(c.pipeline().SkipCleaning, false)
}

// GetSkipThinning returns pipeline.skip_thinning or false.
func (c *ProcessingConfig) GetSkipThinning() bool {
	return orBool(c.pipeline().SkipThinning, false)
}

// GetSkipSegmentation returns pipeline.skip_segmentation or false.
func (c *ProcessingConfig) GetSkipSegmentation() bool {
	return orBool(c.pipeline().SkipSegmentation, false)
}
