package version

import "fmt"

// Build metadata, injected with -ldflags "-X deviation-screener/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("screener %s (commit %s, built %s)", Version, Commit, BuildDate)
}
