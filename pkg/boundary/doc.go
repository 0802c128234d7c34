// Package boundary defines the pluggable transport-security contract:
// a Factory manufactures Policies, a Policy holds frozen trust and
// identity material and manufactures Sessions, and a Session runs one
// connection's non-blocking handshake and encrypted stream over
// host-supplied transport callbacks.
//
// The package contains no cryptography. Concrete backends (such as
// pkg/gotls) implement these interfaces; hosts program against them
// and never against a backend type.
package boundary
