package pcio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format names a file format.
type Format string

const (
	FormatXYZ  Format = "xyz"
	FormatPTS  Format = "pts"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name with or without a leading dot.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case FormatXYZ, FormatPTS, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatOf derives the format from a path's extension.
func FormatOf(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnsupportedFormat, path)
	}
	return ParseFormat(ext)
}

// Readable reports whether Loader can read f.
func (f Format) Readable() bool {
	return f == FormatXYZ || f == FormatPTS
}
