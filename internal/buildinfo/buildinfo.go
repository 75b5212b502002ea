// Package buildinfo exposes version metadata injected at build time via -ldflags.
package buildinfo

// Set via: -ldflags "-X github.com/terrpan/restarter/internal/buildinfo.<Name>=<value>"
var (
	// Version is the release tag (e.g. "v0.2.0"), "dev" for local builds.
	Version = "dev"

	// Commit is the git commit hash.
	Commit = "unknown"

	// BuildTime is the RFC 3339 build timestamp.
	BuildTime = "unknown"
)
