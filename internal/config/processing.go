package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

// DefaultConfigPath is the path to the canonical processing defaults file.
const DefaultConfigPath = "config/cloudforge.defaults.yaml"

// maxFileSize caps configuration and preset files.
const maxFileSize = 1 * 1024 * 1024

// ProcessingConfig is the on-disk processing configuration. Every leaf is a
// pointer so that omitted keys fall back to the defaults returned by the
// Get* accessors; partial files are therefore safe.
type ProcessingConfig struct {
	Scanner      *ScannerConfig      `yaml:"scanner,omitempty" json:"scanner,omitempty"`
	Cleaning     *CleaningConfig     `yaml:"cleaning,omitempty" json:"cleaning,omitempty"`
	Thinning     *ThinningConfig     `yaml:"thinning,omitempty" json:"thinning,omitempty"`
	Segmentation *SegmentationConfig `yaml:"segmentation,omitempty" json:"segmentation,omitempty"`
	Index        *IndexConfig        `yaml:"index,omitempty" json:"index,omitempty"`
	Pipeline     *PipelineConfig     `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
}

// ScannerConfig describes the instrument that produced the scan.
type ScannerConfig struct {
	Name               string   `yaml:"name" json:"name"`
	TypicalNoise       *float64 `yaml:"typical_noise,omitempty" json:"typical_noise,omitempty"` // metres
	MaxRange           *float64 `yaml:"max_range,omitempty" json:"max_range,omitempty"`         // metres
	AngularResolution  *float64 `yaml:"angular_resolution,omitempty" json:"angular_resolution,omitempty"`
	IntensityAvailable *bool    `yaml:"intensity_available,omitempty" json:"intensity_available,omitempty"`
}

type CleaningConfig struct {
	StatisticalOutlier *StatisticalOutlierConfig `yaml:"statistical_outlier,omitempty" json:"statistical_outlier,omitempty"`
	RadiusOutlier      *RadiusOutlierConfig      `yaml:"radius_outlier,omitempty" json:"radius_outlier,omitempty"`
	Order              []string                  `yaml:"order,omitempty" json:"order,omitempty"`
}

type StatisticalOutlierConfig struct {
	Enabled   *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Neighbors *int     `yaml:"neighbors,omitempty" json:"neighbors,omitempty"`
	StdRatio  *float64 `yaml:"std_ratio,omitempty" json:"std_ratio,omitempty"`
}

type RadiusOutlierConfig struct {
	Enabled      *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Radius       *float64 `yaml:"radius,omitempty" json:"radius,omitempty"`
	MinNeighbors *int     `yaml:"min_neighbors,omitempty" json:"min_neighbors,omitempty"`
}

type ThinningConfig struct {
	Method             *string  `yaml:"method,omitempty" json:"method,omitempty"` // voxel | random
	VoxelSize          *float64 `yaml:"voxel_size,omitempty" json:"voxel_size,omitempty"`
	TargetPoints       *int     `yaml:"target_points,omitempty" json:"target_points,omitempty"`
	PreserveBoundaries *bool    `yaml:"preserve_boundaries,omitempty" json:"preserve_boundaries,omitempty"`
	CurvatureThreshold *float64 `yaml:"curvature_threshold,omitempty" json:"curvature_threshold,omitempty"`
	EstimateNormals    *bool    `yaml:"estimate_normals,omitempty" json:"estimate_normals,omitempty"`
	Seed               *uint64  `yaml:"seed,omitempty" json:"seed,omitempty"`
}

type SegmentationConfig struct {
	DistanceThreshold  *float64 `yaml:"distance_threshold,omitempty" json:"distance_threshold,omitempty"`
	MinPlanePoints     *int     `yaml:"min_plane_points,omitempty" json:"min_plane_points,omitempty"`
	MaxIterations      *int     `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	MaxPlanes          *int     `yaml:"max_planes,omitempty" json:"max_planes,omitempty"`
	Confidence         *float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	MergeAngleDeg      *float64 `yaml:"merge_angle_deg,omitempty" json:"merge_angle_deg,omitempty"`
	MergeOffset        *float64 `yaml:"merge_offset,omitempty" json:"merge_offset,omitempty"`
	ConnectivityRadius *float64 `yaml:"connectivity_radius,omitempty" json:"connectivity_radius,omitempty"`
	Seed               *uint64  `yaml:"seed,omitempty" json:"seed,omitempty"`
}

type IndexConfig struct {
	Kind     *string `yaml:"kind,omitempty" json:"kind,omitempty"` // kdtree | voxelgrid
	LeafSize *int    `yaml:"leaf_size,omitempty" json:"leaf_size,omitempty"`
}

type PipelineConfig struct {
	MemoryBudgetBytes *int64   `yaml:"memory_budget_bytes,omitempty" json:"memory_budget_bytes,omitempty"`
	TileOverlapMargin *float64 `yaml:"tile_overlap_margin,omitempty" json:"tile_overlap_margin,omitempty"`
	Workers           *int     `yaml:"workers,omitempty" json:"workers,omitempty"`
	SkipCleaning      *bool    `yaml:"skip_cleaning,omitempty" json:"skip_cleaning,omitempty"`
	SkipThinning      *bool    `yaml:"skip_thinning,omitempty" json:"skip_thinning,omitempty"`
	SkipSegmentation  *bool    `yaml:"skip_segmentation,omitempty" json:"skip_segmentation,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyProcessingConfig returns a ProcessingConfig with every section nil.
func EmptyProcessingConfig() *ProcessingConfig {
	return &ProcessingConfig{}
}

// LoadProcessingConfig reads a YAML (.yaml, .yml) or JSON (.json) file.
// Unknown keys are rejected; omitted keys keep their defaults.
func LoadProcessingConfig(path string) (*ProcessingConfig, error) {
	cleanPath := filepath.Clean(path)
	format, err := formatOf(cleanPath)
	if err != nil {
		return nil, err
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := ParseProcessingConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return cfg, nil
}

// ParseProcessingConfig decodes and validates data in the given format
// ("yaml" or "json").
func ParseProcessingConfig(data []byte, format string) (*ProcessingConfig, error) {
	cfg := EmptyProcessingConfig()
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveProcessingConfig writes cfg to path in the format implied by the
// extension.
func SaveProcessingConfig(path string, cfg *ProcessingConfig) error {
	format, err := formatOf(path)
	if err != nil {
		return err
	}
	var data []byte
	if format == "json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func formatOf(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *ProcessingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/cloudforge/ and deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadProcessingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the file-level values and then the resolved pipeline
// configuration. Pipeline errors are *pipeline.ConfigError.
func (c *ProcessingConfig) Validate() error {
	if c.Scanner != nil {
		if c.Scanner.TypicalNoise != nil && !(*c.Scanner.TypicalNoise > 0) {
			return &pipeline.ConfigError{Field: "scanner.typical_noise", Reason: fmt.Sprintf("must be > 0, got %v", *c.Scanner.TypicalNoise)}
		}
		if c.Scanner.MaxRange != nil && *c.Scanner.MaxRange < 0 {
			return &pipeline.ConfigError{Field: "scanner.max_range", Reason: fmt.Sprintf("must be >= 0, got %v", *c.Scanner.MaxRange)}
		}
	}
	if _, err := spatial.ParseKind(c.GetIndexKind()); err != nil {
		return &pipeline.ConfigError{Field: "index.kind", Reason: err.Error()}
	}
	return c.Resolve().Validate()
}

// Resolve returns the pipeline configuration with defaults applied.
func (c *ProcessingConfig) Resolve() pipeline.Config {
	kind, err := spatial.ParseKind(c.GetIndexKind())
	if err != nil {
		// Left as written so that Validate reports it.
		kind = spatial.Kind(c.GetIndexKind())
	}
	cfg := pipeline.Config{
		Cleaning: pipeline.CleaningConfig{
			Statistical: pipeline.StatisticalConfig{
				Enabled:   c.GetStatisticalEnabled(),
				Neighbors: c.GetStatisticalNeighbors(),
				StdRatio:  c.GetStatisticalStdRatio(),
			},
			Radius: pipeline.RadiusConfig{
				Enabled:      c.GetRadiusEnabled(),
				Radius:       c.GetRadius(),
				MinNeighbors: c.GetRadiusMinNeighbors(),
			},
			Order: c.GetCleaningOrder(),
		},
		Thinning: pipeline.ThinningConfig{
			Method:             c.GetThinningMethod(),
			VoxelSize:          c.GetVoxelSize(),
			PreserveBoundaries: c.GetPreserveBoundaries(),
			CurvatureThreshold: c.GetCurvatureThreshold(),
			EstimateNormals:    c.GetEstimateNormals(),
			TargetPoints:       c.GetTargetPoints(),
			Seed:               c.GetThinningSeed(),
		},
		Index: pipeline.IndexConfig{Kind: kind, LeafSize: c.GetLeafSize()},

		SkipCleaning:      c.GetSkipCleaning(),
		SkipThinning:      c.GetSkipThinning(),
		SkipSegmentation:  c.GetSkipSegmentation(),
		MemoryBudgetBytes: c.GetMemoryBudgetBytes(),
		TileOverlapMargin: c.GetTileOverlapMargin(),
		Workers:           c.GetWorkers(),
	}
	p := pipeline.DefaultConfig().Segmentation
	p.DistanceThreshold = c.GetDistanceThreshold()
	p.MinPlanePoints = c.GetMinPlanePoints()
	p.MaxIterations = c.GetMaxIterations()
	p.MaxPlanes = c.GetMaxPlanes()
	p.Confidence = c.GetConfidence()
	p.MergeAngleDeg = c.GetMergeAngleDeg()
	p.MergeOffset = c.GetMergeOffset()
	p.ConnectivityRadius = c.GetConnectivityRadius()
	p.Seed = c.GetSegmentationSeed()
	cfg.Segmentation = p
	return cfg
}
