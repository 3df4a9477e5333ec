package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cloudforge/internal/pipeline"
	"github.com/banshee-data/cloudforge/internal/spatial"
)

func TestEmptyConfigResolvesToDefaults(t *testing.T) {
	got := EmptyProcessingConfig().Resolve()
	want := pipeline.DefaultConfig()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultsFileMatchesCode(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	got := cfg.Resolve()
	want := pipeline.DefaultConfig()
	want.Cleaning.Order = []string{"statistical", "radius"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("defaults file disagrees with DefaultConfig (-want +got):\n%s", diff)
	}
}

func TestLoadProcessingConfig(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "site.yaml")
	yamlDoc := `
cleaning:
  radius_outlier:
    radius: 0.1
thinning:
  voxel_size: 0.02
  preserve_boundaries: false
index:
  kind: voxelgrid
pipeline:
  memory_budget_bytes: 1073741824
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	cfg, err := LoadProcessingConfig(yamlPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetRadius() != 0.1 {
		t.Errorf("GetRadius() = %v, want 0.1", cfg.GetRadius())
	}
	if cfg.GetRadiusMinNeighbors() != 10 {
		t.Errorf("GetRadiusMinNeighbors() = %d, want default 10", cfg.GetRadiusMinNeighbors())
	}
	if cfg.GetPreserveBoundaries() {
		t.Error("GetPreserveBoundaries() = true, want false")
	}
	resolved := cfg.Resolve()
	if resolved.Index.Kind != spatial.KindVoxelGrid {
		t.Errorf("index kind = %q, want voxelgrid", resolved.Index.Kind)
	}
	if resolved.MemoryBudgetBytes != 1<<30 {
		t.Errorf("memory budget = %d, want 1 GiB", resolved.MemoryBudgetBytes)
	}

	jsonPath := filepath.Join(tmpDir, "site.json")
	jsonDoc := `{"segmentation": {"distance_threshold": 0.01, "max_planes": 4}}`
	if err := os.WriteFile(jsonPath, []byte(jsonDoc), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	cfg, err = LoadProcessingConfig(jsonPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetDistanceThreshold() != 0.01 || cfg.GetMaxPlanes() != 4 {
		t.Errorf("segmentation = %v/%d, want 0.01/4", cfg.GetDistanceThreshold(), cfg.GetMaxPlanes())
	}
}

func TestLoadProcessingConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(tmpDir, "nope.yaml")},
		{"bad extension", write("cfg.toml", "x = 1")},
		{"unknown key", write("unknown.yaml", "cleaning:\n  median: 3\n")},
		{"wrong type", write("type.json", `{"thinning": {"voxel_size": "big"}}`)},
		{"negative radius", write("neg.yaml", "cleaning:\n  radius_outlier:\n    radius: -1\n")},
		{"adaptive thinning", write("adaptive.yaml", "thinning:\n  method: adaptive\n")},
		{"bad index", write("index.yaml", "index:\n  kind: octree\n")},
		{"bad noise", write("noise.yaml", "scanner:\n  name: x\n  typical_noise: 0\n")},
		{"too large", write("big.yaml", "#"+strings.Repeat("x", maxFileSize))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadProcessingConfig(tt.path); err == nil {
				t.Errorf("LoadProcessingConfig(%s) succeeded, want error", tt.name)
			}
		})
	}
}

func TestValidateReturnsConfigError(t *testing.T) {
	cfg := &ProcessingConfig{Thinning: &ThinningConfig{Method: ptrString("adaptive")}}
	err := cfg.Validate()
	var ce *pipeline.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "thinning.method", ce.Field)
}

func TestEmptyYAMLIsValid(t *testing.T) {
	cfg, err := ParseProcessingConfig([]byte(""), "yaml")
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.GetStatisticalNeighbors())
}

func TestSaveProcessingConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := NewPresetFromNoise("Test", 0.004)
	for _, name := range []string{"p.yaml", "p.json"} {
		path := filepath.Join(tmpDir, name)
		require.NoError(t, SaveProcessingConfig(path, cfg))
		got, err := LoadProcessingConfig(path)
		require.NoError(t, err, name)
		if diff := cmp.Diff(cfg.Resolve(), got.Resolve()); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", name, diff)
		}
	}
}
