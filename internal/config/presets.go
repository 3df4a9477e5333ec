package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/banshee-data/cloudforge/internal/security"
)

// DefaultPresetDir is where scanner presets live relative to the
// repository root. Templates are kept in its templates/ subdirectory.
const DefaultPresetDir = "config/presets"

// ErrPresetNotFound is returned when a named preset does not exist.
var ErrPresetNotFound = errors.New("preset not found")

// scannerNoise maps scanner families to their typical range noise in metres.
// Matching is by case-insensitive substring, in this order.
var scannerNoise = []struct {
	family string
	noise  float64
}{
	{"leica", 0.002},
	{"faro", 0.003},
	{"riegl", 0.005},
	{"trimble", 0.004},
}

// DefaultScannerNoise applies to scanners not in the noise table.
const DefaultScannerNoise = 0.005

// ScannerNoise returns the typical noise for a scanner name.
func ScannerNoise(scanner string) float64 {
	name := strings.ToLower(scanner)
	for _, s := range scannerNoise {
		if strings.Contains(name, s.family) {
			return s.noise
		}
	}
	return DefaultScannerNoise
}

// PresetStore manages named presets stored as <dir>/<name>.yaml.
type PresetStore struct {
	Dir string
}

// NewPresetStore returns a store rooted at dir.
func NewPresetStore(dir string) *PresetStore {
	return &PresetStore{Dir: dir}
}

func (s *PresetStore) templatesDir() string {
	return filepath.Join(s.Dir, "templates")
}

// ListPresets returns the preset names in dir, sorted. A missing directory
// has no presets.
func (s *PresetStore) ListPresets() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.Dir), "*.{yaml,yml}")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list presets: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(m, filepath.Ext(m)))
	}
	sort.Strings(names)
	return names, nil
}

// LoadPreset loads and validates the named preset.
func (s *PresetStore) LoadPreset(name string) (*ProcessingConfig, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path, err := security.JoinWithin(s.Dir, name+ext)
		if err != nil {
			return nil, fmt.Errorf("invalid preset name %q: %w", name, err)
		}
		if _, err := os.Stat(path); err == nil {
			return LoadProcessingConfig(path)
		}
	}
	available, _ := s.ListPresets()
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrPresetNotFound, name, strings.Join(available, ", "))
}

// SavePreset validates cfg and writes it as the named preset.
func (s *PresetStore) SavePreset(name string, cfg *ProcessingConfig) error {
	path, err := security.JoinWithin(s.Dir, name+".yaml")
	if err != nil {
		return fmt.Errorf("invalid preset name %q: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid preset %q: %w", name, err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create preset dir: %w", err)
	}
	return SaveProcessingConfig(path, cfg)
}

// CreateFromTemplate builds a preset for a scanner from the named template,
// or from NewPresetFromNoise when the template does not exist, and saves it.
func (s *PresetStore) CreateFromTemplate(name, scanner string, noise float64, template string) (*ProcessingConfig, error) {
	if !(noise > 0) {
		return nil, fmt.Errorf("typical noise must be > 0, got %v", noise)
	}
	var cfg *ProcessingConfig
	tpl, err := security.JoinWithin(s.templatesDir(), template+".yaml")
	if err != nil {
		return nil, fmt.Errorf("invalid template name %q: %w", template, err)
	}
	if _, err := os.Stat(tpl); err == nil {
		if cfg, err = LoadProcessingConfig(tpl); err != nil {
			return nil, fmt.Errorf("template %q: %w", template, err)
		}
	} else {
		cfg = NewPresetFromNoise(scanner, noise)
	}
	if cfg.Scanner == nil {
		cfg.Scanner = &ScannerConfig{}
	}
	cfg.Scanner.Name = scanner
	cfg.Scanner.TypicalNoise = ptrFloat64(noise)
	if err := s.SavePreset(name, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewPresetFromNoise derives filter and thinning scales from a scanner's
// typical noise: radius 25x and voxel size 5x the noise.
func NewPresetFromNoise(scanner string, noise float64) *ProcessingConfig {
	return &ProcessingConfig{
		Scanner: &ScannerConfig{Name: scanner, TypicalNoise: ptrFloat64(noise)},
		Cleaning: &CleaningConfig{
			StatisticalOutlier: &StatisticalOutlierConfig{
				Neighbors: ptrInt(30),
				StdRatio:  ptrFloat64(1.5),
			},
			RadiusOutlier: &RadiusOutlierConfig{
				Radius:       ptrFloat64(25 * noise),
				MinNeighbors: ptrInt(10),
			},
		},
		Thinning: &ThinningConfig{
			Method:             ptrString("voxel"),
			VoxelSize:          ptrFloat64(5 * noise),
			PreserveBoundaries: ptrBool(true),
		},
	}
}

// AdaptiveConfig derives a configuration from scan characteristics: the
// scanner's typical noise and the point count. Larger scans get coarser
// voxels and cheaper neighbourhoods.
func AdaptiveConfig(scanner string, points int, hasIntensity bool) *ProcessingConfig {
	noise := ScannerNoise(scanner)
	var mult float64
	switch {
	case points > 50_000_000:
		mult = 8
	case points > 10_000_000:
		mult = 5
	case points > 1_000_000:
		mult = 3
	default:
		mult = 2
	}
	neighbors, minNeighbors := 30, 10
	if points > 10_000_000 {
		neighbors, minNeighbors = 20, 8
	}
	return &ProcessingConfig{
		Scanner: &ScannerConfig{
			Name:               scanner,
			TypicalNoise:       ptrFloat64(noise),
			IntensityAvailable: ptrBool(hasIntensity),
		},
		Cleaning: &CleaningConfig{
			StatisticalOutlier: &StatisticalOutlierConfig{
				Neighbors: ptrInt(neighbors),
				StdRatio:  ptrFloat64(1.5),
			},
			RadiusOutlier: &RadiusOutlierConfig{
				Radius:       ptrFloat64(20 * noise),
				MinNeighbors: ptrInt(minNeighbors),
			},
		},
		Thinning: &ThinningConfig{
			Method:             ptrString("voxel"),
			VoxelSize:          ptrFloat64(mult * noise),
			PreserveBoundaries: ptrBool(true),
		},
	}
}
