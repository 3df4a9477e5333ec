// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version of cloudforge
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for --version output.
func String() string {
	return fmt.Sprintf("cloudforge %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
