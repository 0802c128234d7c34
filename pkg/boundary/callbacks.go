package boundary

// TransportError is the callback return value reserved for transport
// errors, including a peer-initiated close.
const TransportError = -1

// SendFunc moves outbound bytes to the underlying transport. It
// returns the number of bytes sent, which may legitimately be 0 when
// the transport would block, or TransportError on error or close. ctx
// is the opaque context supplied at session creation, passed through
// unchanged and never interpreted by the session.
//
// SendFunc is invoked synchronously from within Handshake, Read and
// Write. It must not call back into the Session.
type SendFunc func(ctx any, buf []byte) int

// RecvFunc fills buf with inbound bytes from the underlying transport.
// It returns the number of bytes read, which may legitimately be 0
// when the transport would block, or TransportError on error or close.
// ctx is the opaque context supplied at session creation, passed
// through unchanged and never interpreted by the session.
//
// RecvFunc is invoked synchronously from within Handshake, Read and
// Write. It must not call back into the Session.
type RecvFunc func(ctx any, buf []byte) int
