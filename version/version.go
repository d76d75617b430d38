package version

import "runtime/debug"

// These variables are set via ldflags during build
var (
	// Version is the semantic version of the application
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// Date is the build date
	Date = "unknown"

	// BuiltBy indicates what triggered the build (e.g., goreleaser, make, go build)
	BuiltBy = "unknown"
)

// GetVersion returns a formatted version string. Binaries installed with
// `go install` report their module version when ldflags were not set.
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// GetFullVersion returns the complete version information
func GetFullVersion() string {
	return GetVersion() + " (commit: " + Commit + ", built: " + Date + ", by: " + BuiltBy + ")"
}
