// Package config loads processing configuration files and scanner presets
// and resolves them into the pipeline.Config consumed by the core.
//
// Files are YAML or JSON with every key optional; the Get* accessors supply
// the defaults kept in config/cloudforge.defaults.yaml.
package config
