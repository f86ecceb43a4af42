// Package version holds the build-time version metadata, populated via
// -ldflags at release build time.
package version

import (
	"bytes"
	"fmt"
)

var (
	// GitCommit is the git commit the binary was built from.
	GitCommit string

	// GitDescribe is the most recent tag reachable from GitCommit, if
	// any.
	GitDescribe string

	// Version is the main version number released.
	Version = "0.0.1"

	// VersionPrerelease marks an unreleased version, e.g. "dev".
	VersionPrerelease string

	// VersionMetadata appended to the version after a '+', for custom
	// non-release builds.
	VersionMetadata string
)

// GetHumanVersion composes the parts above into a single display string.
func GetHumanVersion() string {
	version := Version
	if VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, VersionPrerelease)
	}
	if VersionMetadata != "" {
		version = fmt.Sprintf("%s+%s", version, VersionMetadata)
	}

	release := fmt.Sprintf("v%s", version)

	var versionString bytes.Buffer
	fmt.Fprintf(&versionString, "%s", release)
	if GitDescribe == "" && GitCommit != "" {
		fmt.Fprintf(&versionString, " (%s)", GitCommit)
	}
	return versionString.String()
}
