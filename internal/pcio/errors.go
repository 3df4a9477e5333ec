package pcio

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for paths or format names this package
// cannot read or write.
var ErrUnsupportedFormat = errors.New("unsupported point cloud format")

// CorruptFileError reports a malformed input file. Line is 1-based, or 0
// when the problem is not tied to one line.
type CorruptFileError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptFileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt point cloud %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt point cloud %s: %v", e.Path, e.Err)
}

func (e *CorruptFileError) Unwrap() error { return e.Err }
