// Package version provides build version information for snipd.
package version

import (
	"fmt"
	"runtime"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "snipd"

// Build information. Populated at build time via ldflags:
//
//	-X github.com/jmylchreest/snipd/internal/version.Version=v1.0.0
//	-X github.com/jmylchreest/snipd/internal/version.Commit=abc1234
//	-X github.com/jmylchreest/snipd/internal/version.Date=2026-01-01T00:00:00Z
var (
	// Version is the semantic version of the build.
	Version = "dev"

	// Commit is the git commit hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// Info holds version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the current version information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s, %s)",
		ApplicationName, i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}

// Short returns just the version number.
func (i Info) Short() string {
	return i.Version
}

// UserAgent returns a User-Agent string for outbound requests.
func (i Info) UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, i.Version)
}
