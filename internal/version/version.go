// Package version carries build metadata injected through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

// Build metadata, set with -ldflags "-X orbwatch/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("orbwatch %s (commit %s, built %s, %s)", Version, Commit, BuildDate, runtime.Version())
}
