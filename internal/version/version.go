// SPDX-License-Identifier: MIT

// Package version carries build identification stamped in by the linker.
package version

var (
	// Version is the current application version, populated via ldflags.
	Version = "v0.4.0-dev"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
