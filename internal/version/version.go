// Package version holds build-time identifiers, overridden via
// -ldflags "-X ...=...", and exposed on health/status endpoints.
package version

var (
	Version = "dev"
	Commit  = "none"
)
