package gotls

import (
	"fmt"

	"github.com/plugtls/plugtls-go/pkg/boundary"
	"github.com/plugtls/plugtls-go/pkg/log"
	"github.com/plugtls/plugtls-go/pkg/registry"
	"github.com/plugtls/plugtls-go/pkg/version"
)

// BackendName is the name the backend registers under.
const BackendName = "gotls"

// factory implements boundary.Factory for the crypto/tls backend.
type factory struct {
	rc *boundary.RefCount
}

// NewFactory returns the backend's factory object. This is the
// backend's single bootstrap entry point.
func NewFactory() boundary.Factory {
	f := &factory{}
	f.rc = boundary.NewRefCount(nil)
	return f
}

func init() {
	registry.Register(BackendName, NewFactory)
}

// Name returns the backend name/version string for diagnostics.
func (f *factory) Name() string {
	return fmt.Sprintf("%s (%s)", BackendName, version.String())
}

// CreatePolicy returns a new unfrozen policy bound to sink for its
// lifetime. Policy creation in this backend cannot fail.
func (f *factory) CreatePolicy(sink log.Logger) (boundary.Policy, error) {
	return newPolicy(sink), nil
}

func (f *factory) Acquire() { f.rc.Acquire() }
func (f *factory) Release() { f.rc.Release() }

// Compile-time interface satisfaction check.
var _ boundary.Factory = (*factory)(nil)
