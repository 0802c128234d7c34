// Package loopback provides an in-process transport pair for the
// boundary's send/receive callbacks: two endpoints exchanging bytes
// through cooperating buffers, so a client and a server session can
// handshake against each other without sockets. It exists for tests,
// examples and host development.
package loopback

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Endpoint is one side of a loopback pair. Its Send and Recv methods
// satisfy the boundary callback signatures: a zero return means the
// transfer cap or an empty queue blocked the call, -1 means the pair
// was closed.
type Endpoint struct {
	pair *pair
	// inbound holds bytes the peer sent and this side has not yet
	// received. off marks how much of it was already consumed.
	inbound *bytebufferpool.ByteBuffer
	off     int
	// cap limits bytes moved per call; 0 means unlimited.
	cap int
}

type pair struct {
	mu     sync.Mutex
	closed bool
	a, b   *Endpoint
}

// Pair creates two connected endpoints.
func Pair() (*Endpoint, *Endpoint) {
	p := &pair{}
	p.a = &Endpoint{pair: p, inbound: bytebufferpool.Get()}
	p.b = &Endpoint{pair: p, inbound: bytebufferpool.Get()}
	return p.a, p.b
}

// SetTransferCap limits how many bytes a single Send or Recv call on
// this endpoint may move. Useful for exercising short reads and
// writes; 0 removes the limit.
func (e *Endpoint) SetTransferCap(n int) {
	e.pair.mu.Lock()
	e.cap = n
	e.pair.mu.Unlock()
}

// peer returns the other endpoint. Caller holds the pair lock.
func (e *Endpoint) peerLocked() *Endpoint {
	if e == e.pair.a {
		return e.pair.b
	}
	return e.pair.a
}

// Send appends bytes to the peer's inbound queue. The signature
// matches boundary.SendFunc; ctx is ignored.
func (e *Endpoint) Send(_ any, buf []byte) int {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	if e.pair.closed {
		return -1
	}
	n := len(buf)
	if e.cap > 0 && n > e.cap {
		n = e.cap
	}
	if n == 0 {
		return 0
	}
	_, _ = e.peerLocked().inbound.Write(buf[:n])
	return n
}

// Recv drains this endpoint's inbound queue into buf. The signature
// matches boundary.RecvFunc; ctx is ignored.
func (e *Endpoint) Recv(_ any, buf []byte) int {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	if e.pair.closed {
		return -1
	}
	avail := e.inbound.Len() - e.off
	if avail == 0 {
		return 0
	}
	n := len(buf)
	if n > avail {
		n = avail
	}
	if e.cap > 0 && n > e.cap {
		n = e.cap
	}
	if n == 0 {
		return 0
	}
	copy(buf, e.inbound.B[e.off:e.off+n])
	e.off += n
	if e.off == e.inbound.Len() {
		e.inbound.Reset()
		e.off = 0
	}
	return n
}

// Buffered returns how many bytes await this endpoint's Recv.
func (e *Endpoint) Buffered() int {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	return e.inbound.Len() - e.off
}

// Close tears the pair down: every subsequent Send or Recv on either
// side returns -1, the callback convention for a closed transport.
// Close may be called from either endpoint and is idempotent.
func (e *Endpoint) Close() {
	e.pair.mu.Lock()
	defer e.pair.mu.Unlock()
	if e.pair.closed {
		return
	}
	e.pair.closed = true
	bytebufferpool.Put(e.pair.a.inbound)
	bytebufferpool.Put(e.pair.b.inbound)
	e.pair.a.inbound = &bytebufferpool.ByteBuffer{}
	e.pair.b.inbound = &bytebufferpool.ByteBuffer{}
	e.pair.a.off = 0
	e.pair.b.off = 0
}
