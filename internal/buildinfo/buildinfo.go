// Package buildinfo carries the identity stamped into release binaries
// via -ldflags; unstamped builds report "dev".
package buildinfo

var (
	// Version is the release tag.
	Version = "dev"
	// Commit is the VCS revision.
	Commit = "unknown"
)

// Short returns the most specific identifier available.
func Short() string {
	switch {
	case Version != "" && Version != "dev":
		return Version
	case Commit != "" && Commit != "unknown":
		return Commit
	default:
		return "dev"
	}
}
