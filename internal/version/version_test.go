package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "1.2.3"
	got := String()
	if !strings.HasPrefix(got, "cloudforge 1.2.3 (commit ") {
		t.Errorf("String() = %q", got)
	}
}
