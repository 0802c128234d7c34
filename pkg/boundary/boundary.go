package boundary

import (
	"errors"

	"github.com/plugtls/plugtls-go/pkg/log"
)

// Configuration errors shared by backend implementations. Backends may
// return richer errors wrapping these; detail beyond the error value
// flows through the policy's log sink.
var (
	// ErrPolicyFrozen is returned by every Policy setter called after
	// the policy's first session has been created. The call leaves all
	// previously configured material unchanged.
	ErrPolicyFrozen = errors.New("policy is frozen")

	// ErrBadMaterial is returned when supplied certificate, key, CA or
	// verification material cannot be parsed.
	ErrBadMaterial = errors.New("invalid security material")
)

// Factory is the top-level object exposed by a loaded backend. One
// Factory exists per backend; it manufactures Policies bound to a log
// sink.
//
// Acquire and Release are safe for concurrent use.
type Factory interface {
	// Name returns the backend's stable name/version string for
	// diagnostics.
	Name() string

	// CreatePolicy returns a new, unfrozen Policy. The sink receives
	// every diagnostic event emitted by the policy and by all sessions
	// descended from it, for their whole lifetime; it cannot be changed
	// afterwards. A nil sink disables logging.
	CreatePolicy(sink log.Logger) (Policy, error)

	// Acquire takes an additional reference on the factory.
	Acquire()

	// Release drops one reference. The last release destroys the
	// factory.
	Release()
}

// Policy holds the trust and identity material from which sessions are
// minted: CA trust roots, a leaf-first certificate chain, a private
// key and peer-verification rules. Each setter replaces any previously
// set material of its category.
//
// A Policy is mutable only until its first session is created. From
// that point it is frozen: every setter fails with ErrPolicyFrozen and
// mutates nothing, so a session's cryptographic identity can never
// change underneath it mid-connection. Frozen material is immutable
// and may be shared read-only by any number of sessions on any number
// of goroutines.
//
// Acquire and Release are safe for concurrent use.
type Policy interface {
	// SetCABundle installs the trust roots used to verify peer
	// certificates. data is an opaque, backend-defined encoding,
	// conventionally a concatenated PEM certificate bundle.
	SetCABundle(data []byte) error

	// SetCertChain installs this endpoint's certificate chain, ordered
	// leaf first with each entry certifying the one before it. Key
	// material interleaved in the bundle is ignored.
	SetCertChain(data []byte) error

	// SetPrivateKey installs the private key matching the leaf
	// certificate. password decrypts an encrypted key and may be empty
	// for unencrypted keys. Certificate material interleaved in the
	// bundle is ignored.
	SetPrivateKey(data []byte, password string) error

	// SetVerifyPeers installs peer-verification rules in a
	// backend-defined encoding.
	SetVerifyPeers(rules [][]byte) error

	// CreateSession returns a new Session bound to this policy's
	// material. The first successful call freezes the policy.
	CreateSession(cfg SessionConfig) (Session, error)

	// Acquire takes an additional reference on the policy.
	Acquire()

	// Release drops one reference. The last release destroys the
	// policy; backends keep its material alive for as long as any
	// session depends on it.
	Release()
}

// SessionConfig carries the per-connection parameters for
// Policy.CreateSession.
type SessionConfig struct {
	// Client selects the session's role in the handshake.
	Client bool

	// ServerName is the peer identity a client session verifies and
	// indicates during the handshake. Meaningful only when Client is
	// true; ignored for server sessions.
	ServerName string

	// Send and Recv move raw protocol bytes for the session. The
	// session never touches a socket itself.
	Send SendFunc
	Recv RecvFunc

	// SendCtx and RecvCtx are host-owned opaque values handed to every
	// Send/Recv invocation unchanged.
	SendCtx any
	RecvCtx any

	// LogID is forwarded verbatim on every log event originating from
	// the session so the host can correlate log lines to a connection.
	// Backends assign an identifier when LogID is empty.
	LogID string
}

// Session is the live state machine for one secured connection. Every
// operation is non-blocking: it returns immediately with a Status, and
// suspension is modeled entirely through WantRead/WantWrite, which the
// host resolves by waiting for transport readiness and retrying.
//
// Handshake, Read and Write must be invoked sequentially, never
// overlapped from multiple goroutines without external
// synchronization. Acquire and Release are safe for concurrent use.
type Session interface {
	// Handshake performs incremental handshake work, moving protocol
	// bytes through the transport callbacks. It returns Success once
	// the handshake is complete, Failed on fatal error, or
	// WantRead/WantWrite any number of times before completion.
	// Handshake after completion returns Success without invoking any
	// callback.
	Handshake() Status

	// Read delivers decrypted plaintext into p. On Success the count
	// is in [1, len(p)]; zero-length success is not a valid outcome
	// and short reads are normal. Valid only after Handshake has
	// returned Success.
	Read(p []byte) (int, Status)

	// Write accepts plaintext from p for encryption and transmission.
	// On Success the count is in [1, len(p)]; a short count means the
	// caller must resubmit the remainder. Valid only after Handshake
	// has returned Success.
	Write(p []byte) (int, Status)

	// Acquire takes an additional reference on the session.
	Acquire()

	// Release drops one reference. After the last release the session
	// is destroyed and no further callback invocation occurs, whatever
	// state the session was in.
	Release()
}
