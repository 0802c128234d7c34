package gotls

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/plugtls/plugtls-go/pkg/boundary"
)

// errWouldBlock reports that the transport has no bytes to move right
// now. It implements net.Error with Temporary() == true so crypto/tls
// treats it as retryable instead of poisoning the connection.
type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "transport would block" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

var errWouldBlock = wouldBlockError{}

// errPeerClosed is the permanent error surfaced when a callback
// returns boundary.TransportError.
var errPeerClosed = errors.New("transport closed by peer")

// Compile-time check that crypto/tls will see a temporary net.Error.
var _ net.Error = errWouldBlock

// callbackConn adapts the host's send/receive callbacks to the
// net.Conn shape crypto/tls drives. Outbound bytes are always staged
// in an internal buffer and flushed to the send callback by the
// session; inbound bytes arrive in two modes:
//
//   - handshake mode: Read blocks on a condition variable until the
//     session delivers bytes it pulled from the receive callback. Only
//     the handshake goroutine reads in this mode.
//   - direct mode: Read drains any delivered leftovers, then invokes
//     the receive callback synchronously, returning errWouldBlock on a
//     zero-byte result.
//
// In handshake mode the goroutine and the session synchronize through
// quiescent points: the goroutine is quiescent when it is parked in
// Read waiting for input or has exited, and it never blocks anywhere
// else (Write always accepts). awaitQuiescent lets the session wait
// for the next such point, at which the goroutine's current flight is
// fully staged and the blocking direction it reports is truthful.
type callbackConn struct {
	recv    boundary.RecvFunc
	recvCtx any

	mu        sync.Mutex
	readCond  *sync.Cond
	stateCond *sync.Cond
	in        bytes.Buffer
	out       bytes.Buffer
	direct    bool
	closed    bool

	// waiting marks the handshake goroutine parked in Read for more
	// input; hsFinished marks it exited.
	waiting    bool
	hsFinished bool
}

func newCallbackConn(recv boundary.RecvFunc, recvCtx any) *callbackConn {
	c := &callbackConn{
		recv:    recv,
		recvCtx: recvCtx,
	}
	c.readCond = sync.NewCond(&c.mu)
	c.stateCond = sync.NewCond(&c.mu)
	return c
}

// Read implements net.Conn for crypto/tls.
func (c *callbackConn) Read(p []byte) (int, error) {
	c.mu.Lock()

	if !c.direct {
		for c.in.Len() == 0 && !c.closed {
			c.waiting = true
			c.stateCond.Broadcast()
			c.readCond.Wait()
		}
		c.waiting = false
		if c.in.Len() == 0 {
			c.mu.Unlock()
			return 0, net.ErrClosed
		}
		n, _ := c.in.Read(p)
		c.mu.Unlock()
		return n, nil
	}

	// Direct mode: leftovers delivered during the handshake first.
	if c.in.Len() > 0 {
		n, _ := c.in.Read(p)
		c.mu.Unlock()
		return n, nil
	}
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	c.mu.Unlock()

	// The callback runs outside the lock; the session serializes all
	// operational calls, so there is no concurrent reader.
	switch n := c.recv(c.recvCtx, p); {
	case n > 0:
		return n, nil
	case n == 0:
		return 0, errWouldBlock
	default:
		return 0, errPeerClosed
	}
}

// Write implements net.Conn for crypto/tls. Ciphertext is staged and
// always accepted; the session flushes it to the send callback.
func (c *callbackConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	c.out.Write(p)
	return len(p), nil
}

// deliver hands bytes pulled from the receive callback to the blocked
// handshake reader. Clearing waiting marks the reader runnable again,
// so a following awaitQuiescent waits for its reaction to these bytes
// rather than observing the park it is about to leave.
func (c *callbackConn) deliver(p []byte) {
	c.mu.Lock()
	c.in.Write(p)
	c.waiting = false
	c.readCond.Signal()
	c.mu.Unlock()
}

// finishHandshake records that the handshake goroutine has exited and
// wakes a session blocked in awaitQuiescent.
func (c *callbackConn) finishHandshake() {
	c.mu.Lock()
	c.hsFinished = true
	c.stateCond.Broadcast()
	c.mu.Unlock()
}

// awaitQuiescent blocks until the handshake goroutine is parked in
// Read waiting for more input, has exited, or the conn was closed.
func (c *callbackConn) awaitQuiescent() {
	c.mu.Lock()
	for !c.waiting && !c.hsFinished && !c.closed {
		c.stateCond.Wait()
	}
	c.mu.Unlock()
}

// pendingOut returns how much staged ciphertext awaits flushing.
func (c *callbackConn) pendingOut() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Len()
}

// peekOut returns up to max staged bytes without consuming them.
func (c *callbackConn) peekOut(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.out.Bytes()
	if len(b) > max {
		b = b[:max]
	}
	// Copy so the flush loop never holds a reference into the buffer.
	return append([]byte(nil), b...)
}

// discardOut consumes n flushed bytes.
func (c *callbackConn) discardOut(n int) {
	c.mu.Lock()
	c.out.Next(n)
	c.mu.Unlock()
}

// setDirect switches the conn to synchronous reads once the handshake
// goroutine has exited.
func (c *callbackConn) setDirect() {
	c.mu.Lock()
	c.direct = true
	c.mu.Unlock()
}

// Close wakes a blocked reader and a session blocked in
// awaitQuiescent, and makes all further I/O fail. It never invokes a
// callback.
func (c *callbackConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.readCond.Broadcast()
	c.stateCond.Broadcast()
	c.mu.Unlock()
	return nil
}

// The remaining net.Conn methods exist only to satisfy crypto/tls;
// there is no socket underneath.

func (c *callbackConn) LocalAddr() net.Addr                { return callbackAddr{} }
func (c *callbackConn) RemoteAddr() net.Addr               { return callbackAddr{} }
func (c *callbackConn) SetDeadline(t time.Time) error      { return nil }
func (c *callbackConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *callbackConn) SetWriteDeadline(t time.Time) error { return nil }

type callbackAddr struct{}

func (callbackAddr) Network() string { return "callback" }
func (callbackAddr) String() string  { return "callback" }
