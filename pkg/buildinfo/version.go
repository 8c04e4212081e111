// Package buildinfo exposes the build core's own version, used to populate
// cache manifests' buildVersion field so that cache entries can be
// invalidated across incompatible core versions if desired by callers.
package buildinfo

import "fmt"

const (
	// VersionMajor represents the current major version of the build core.
	VersionMajor = 0
	// VersionMinor represents the current minor version of the build core.
	VersionMinor = 1
	// VersionPatch represents the current patch version of the build core.
	VersionPatch = 0
)

// Version is the dotted-decimal version string for the build core.
var Version string

func init() {
	Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
