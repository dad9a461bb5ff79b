// Package version exposes build metadata injected via -ldflags.
package version

var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "unknown"
	// BuildDate is when the binary was built.
	BuildDate = "unknown"
)
