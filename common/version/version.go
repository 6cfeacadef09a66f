// Package version exposes build metadata injected via -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version (set via ldflags)
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash (set via ldflags)
	GitCommit = "unknown"

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = "unknown"
)

// Info returns a one-line description suitable for `kotoba version`.
func Info() string {
	return fmt.Sprintf("kotoba %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
