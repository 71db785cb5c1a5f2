// Package sentimatrix carries version metadata for the email sentiment service.
//
// The version is reported by the CLI at startup and by the health endpoint so
// operators can tell which build is answering.
package sentimatrix

// Version is the semantic version of the service.
//
// Pre-1.0: the HTTP surface and the stored document shape may still change
// between minor versions.
const Version = "0.3.0"

// VersionInfo is the structured form of the build version.
type VersionInfo struct {
	// Version is the semver string, e.g. "0.3.0"
	Version string

	// Name identifies the service in logs and health output
	Name string
}

// GetVersion returns the version and name of the service.
//
// Usage:
//
//	info := sentimatrix.GetVersion()
//	slog.Info("starting", "name", info.Name, "version", info.Version)
func GetVersion() VersionInfo {
	return VersionInfo{
		Version: Version,
		Name:    "sentimatrix",
	}
}
