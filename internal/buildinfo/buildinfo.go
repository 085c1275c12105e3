// Package buildinfo exposes build metadata stamped in at link time.
package buildinfo

var (
	// Version is the semantic version of the gateway binary.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "none"

	// BuildDate records when the binary was built.
	BuildDate = "unknown"
)
