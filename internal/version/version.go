// Package version exposes build-time identification for reports and logs.
package version

// Set via -ldflags at build time.
var (
	// Version is the semantic version of the measurement tool.
	Version = "0.1.0"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// GitCommit is the source commit the binary was built from.
	GitCommit = "unknown"
)
