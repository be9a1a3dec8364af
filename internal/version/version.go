// Package version holds build metadata stamped in by the release build.
package version

var (
	// Version is the release tag of the build, set via
	// -ldflags "-X github.com/ManuGH/camroom/internal/version.Version=...".
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
