package boundary

import "sync/atomic"

// RefCount implements the shared acquire/release discipline for
// Factory, Policy and Session objects. The count starts at one for the
// creating owner; the release that drops it to zero runs the destroy
// hook exactly once.
//
// Acquire and Release are safe for concurrent use, so ownership may be
// transferred across goroutines even though a session's operational
// calls may not.
type RefCount struct {
	n       atomic.Int64
	destroy func()
}

// NewRefCount returns a RefCount holding one reference. destroy may be
// nil.
func NewRefCount(destroy func()) *RefCount {
	rc := &RefCount{destroy: destroy}
	rc.n.Store(1)
	return rc
}

// Acquire takes an additional reference. Acquiring a destroyed object
// is a caller bug; RefCount panics rather than resurrect it.
func (rc *RefCount) Acquire() {
	if rc.n.Add(1) <= 1 {
		panic("boundary: acquire of destroyed object")
	}
}

// Release drops one reference and runs the destroy hook when the last
// reference is gone.
func (rc *RefCount) Release() {
	switch n := rc.n.Add(-1); {
	case n == 0:
		if rc.destroy != nil {
			rc.destroy()
		}
	case n < 0:
		panic("boundary: release of destroyed object")
	}
}

// Refs returns the current reference count. Intended for tests and
// diagnostics only.
func (rc *RefCount) Refs() int64 {
	return rc.n.Load()
}
