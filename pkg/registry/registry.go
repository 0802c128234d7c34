// Package registry is the backend discovery surface: each loaded
// backend contributes exactly one factory constructor under a stable
// name, and hosts look backends up without linking against a concrete
// implementation.
package registry

import (
	"fmt"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/plugtls/plugtls-go/pkg/boundary"
)

// DefaultBackend is the name Default resolves.
const DefaultBackend = "gotls"

// backends maps backend name to its factory constructor. A constructor
// is invoked once per Load call; factories are reference counted by
// their callers.
var backends = cmap.New[func() boundary.Factory]()

// Register makes a backend available under name. Backends call it from
// an init function; registering the same name twice panics, since two
// backends claiming one name is a wiring bug.
func Register(name string, ctor func() boundary.Factory) {
	if ctor == nil {
		panic("registry: nil backend constructor")
	}
	if !backends.SetIfAbsent(name, ctor) {
		panic(fmt.Sprintf("registry: backend %q already registered", name))
	}
}

// Load returns a new factory for the named backend.
func Load(name string) (boundary.Factory, error) {
	ctor, ok := backends.Get(name)
	if !ok {
		return nil, fmt.Errorf("registry: unknown backend %q", name)
	}
	return ctor(), nil
}

// Default returns a factory for the default backend. It fails only if
// the default backend is not linked into the binary.
func Default() (boundary.Factory, error) {
	return Load(DefaultBackend)
}

// Names returns the registered backend names.
func Names() []string {
	return backends.Keys()
}
