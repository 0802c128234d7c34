// Package version carries the diagnostic identity of the
// transport-security boundary and its shipped backend.
package version

import "fmt"

const (
	// Name is the abstraction's stable name for diagnostics.
	Name = "plugtls"

	// Version is the abstraction release version.
	Version = "1.0.0"

	// BoundaryRevision is the revision of the Factory/Policy/Session
	// contract. Backends built against a different revision must not
	// be loaded.
	BoundaryRevision = 1
)

// String returns the combined name/version string exposed through the
// backend discovery surface.
func String() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
