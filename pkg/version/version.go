// Package version provides build and version information for nrtindex.
package version

import (
	"fmt"
	"runtime"

	"github.com/Aman-CERP/nrtindex/internal/store"
)

// Version is set via ldflags at build time:
// -X github.com/Aman-CERP/nrtindex/pkg/version.Version=$(VERSION)
var Version = "dev"

// Build information set via ldflags at build time.
var (
	// Commit is the git commit hash.
	Commit = "unknown"

	// Date is the build date in RFC3339 format.
	Date = "unknown"

	// GoVersion is the Go version used to build the binary (set at runtime).
	GoVersion = runtime.Version()
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	Date        string `json:"date"`
	GoVersion   string `json:"go_version"`
	IndexFormat int    `json:"index_format"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
}

// String returns a formatted version string with all build info.
func String() string {
	return fmt.Sprintf("nrtindex %s (commit: %s, built: %s, go: %s, index format: %d)",
		Version, Commit, Date, GoVersion, store.FormatVersion)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:     Version,
		Commit:      Commit,
		Date:        Date,
		GoVersion:   GoVersion,
		IndexFormat: store.FormatVersion,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
	}
}
