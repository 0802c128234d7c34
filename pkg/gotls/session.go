package gotls

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/plugtls/plugtls-go/pkg/boundary"
	"github.com/plugtls/plugtls-go/pkg/log"
)

// sessionState tracks the handshake progression.
type sessionState int

const (
	stateNotStarted sessionState = iota
	stateHandshaking
	stateEstablished
	stateFailed
	stateClosed
)

// maxRecordChunk caps how much plaintext one Write call encrypts and
// how much ciphertext one flush pass moves. It matches the TLS maximum
// plaintext record size.
const maxRecordChunk = 16384

// session implements boundary.Session. Operational calls (Handshake,
// Read, Write) must be serialized by the caller; Acquire/Release are
// concurrency-safe.
type session struct {
	rc     *boundary.RefCount
	policy *policy
	sink   log.Logger
	logID  string

	send    boundary.SendFunc
	sendCtx any

	conn *callbackConn
	tls  *tls.Conn

	state      sessionState
	hsStarted  bool
	hsComplete bool
	hsDone     chan error

	// pendingPlain is the plaintext count of a record that was
	// encrypted but whose ciphertext has not been fully flushed yet.
	// Write reports it to the caller only once the record is on the
	// wire, mirroring the retry-same-operation contract.
	pendingPlain int

	rbuf []byte
}

func newSession(p *policy, tlsConfig *tls.Config, cfg boundary.SessionConfig, logID string) *session {
	conn := newCallbackConn(cfg.Recv, cfg.RecvCtx)

	var tlsConn *tls.Conn
	if cfg.Client {
		tlsConn = tls.Client(conn, tlsConfig)
	} else {
		tlsConn = tls.Server(conn, tlsConfig)
	}

	s := &session{
		policy:  p,
		sink:    p.sink,
		logID:   logID,
		send:    cfg.Send,
		sendCtx: cfg.SendCtx,
		conn:    conn,
		tls:     tlsConn,
		hsDone:  make(chan error, 1),
		rbuf:    make([]byte, maxRecordChunk),
	}
	s.rc = boundary.NewRefCount(s.destroy)
	return s
}

func (s *session) Acquire() { s.rc.Acquire() }
func (s *session) Release() { s.rc.Release() }

// destroy runs at the last Release. It wakes the handshake goroutine
// if one is still blocked and guarantees no further callback use: the
// callbacks are only ever invoked from operational calls, which the
// caller has stopped making.
func (s *session) destroy() {
	s.state = stateClosed
	_ = s.conn.Close()
	s.sink.Log(log.NewEvent("session_released", s.logID, false))
	// Drop the reference that kept the policy's material alive.
	s.policy.rc.Release()
}

// fail marks the session terminally failed, logs the error event and
// returns Failed. The conn is closed so a still-running handshake
// goroutine unblocks and exits.
func (s *session) fail(op string, err error) boundary.Status {
	s.state = stateFailed
	_ = s.conn.Close()
	s.sink.Log(log.NewEvent("session_failed", s.logID, true,
		"op", op,
		"reason", err.Error(),
	))
	return boundary.Failed
}

// flushResult describes one pass of moving staged ciphertext to the
// send callback.
type flushResult int

const (
	flushDone flushResult = iota // nothing left to send
	flushBlocked                 // transport would block, bytes remain
	flushError                   // transport reported an error
)

// flushOut pushes staged ciphertext through the send callback until
// the buffer drains or the transport blocks.
func (s *session) flushOut() flushResult {
	for {
		buf := s.conn.peekOut(maxRecordChunk)
		if len(buf) == 0 {
			return flushDone
		}
		switch n := s.send(s.sendCtx, buf); {
		case n > 0:
			s.conn.discardOut(n)
		case n == 0:
			return flushBlocked
		default:
			return flushError
		}
	}
}

// Handshake performs incremental handshake work. crypto/tls runs the
// handshake on a background goroutine against the conn's buffers; each
// Handshake call flushes staged ciphertext, feeds available transport
// bytes and reports the blocking direction. Every decision is taken at
// a quiescent point of the goroutine, so a reported WantRead means the
// handshake truly cannot proceed without peer bytes and the flight it
// staged so far has already been offered to the send callback.
func (s *session) Handshake() boundary.Status {
	switch s.state {
	case stateEstablished:
		// Idempotent after completion, with no callback invocations.
		return boundary.Success
	case stateFailed, stateClosed:
		return boundary.Failed
	}

	if !s.hsStarted {
		s.hsStarted = true
		s.state = stateHandshaking
		s.sink.Log(log.NewEvent("handshake_start", s.logID, false))
		go func() {
			// The buffered send precedes finishHandshake, so a pump
			// woken by the finished flag always finds the result.
			err := s.tls.HandshakeContext(context.Background())
			s.hsDone <- err
			s.conn.finishHandshake()
		}()
		s.conn.awaitQuiescent()
	}

	for {
		res := s.flushOut()
		if res == flushError {
			return s.fail("handshake", errPeerClosed)
		}

		if !s.hsComplete {
			select {
			case err := <-s.hsDone:
				if err != nil {
					return s.fail("handshake", err)
				}
				s.hsComplete = true
			default:
			}
		}

		if s.hsComplete {
			// The final flight must be on the wire before reporting
			// completion.
			if s.conn.pendingOut() > 0 {
				if res == flushBlocked {
					return boundary.WantWrite
				}
				continue
			}
			s.conn.setDirect()
			s.state = stateEstablished
			cs := s.tls.ConnectionState()
			s.sink.Log(log.NewEvent("handshake_complete", s.logID, false,
				"tls_version", tls.VersionName(cs.Version),
				"cipher_suite", tls.CipherSuiteName(cs.CipherSuite),
			))
			return boundary.Success
		}

		if res == flushBlocked {
			return boundary.WantWrite
		}

		switch n := s.recv(s.rbuf); {
		case n < 0:
			return s.fail("handshake", errPeerClosed)
		case n == 0:
			return boundary.WantRead
		default:
			s.conn.deliver(s.rbuf[:n])
			// Let the goroutine consume the input and run until it
			// parks for more or finishes; only then is flushing and
			// direction reporting meaningful again.
			s.conn.awaitQuiescent()
		}
	}
}

// recv invokes the receive callback directly (handshake path only;
// the established path reads through the conn).
func (s *session) recv(p []byte) int {
	return s.conn.recv(s.conn.recvCtx, p)
}

// Read delivers decrypted plaintext. Valid only once established.
func (s *session) Read(p []byte) (int, boundary.Status) {
	if st, ok := s.establishedGuard("read"); !ok {
		return 0, st
	}
	if len(p) == 0 {
		return 0, boundary.WantRead
	}

	// The record layer may have staged output (a post-handshake
	// message); move it along but do not block the read on it.
	if s.flushOut() == flushError {
		return 0, s.fail("read", errPeerClosed)
	}

	n, err := s.tls.Read(p)
	if n > 0 {
		return n, boundary.Success
	}
	if err == nil {
		// Zero-byte success is not part of the contract; treat as
		// blocked and let the caller retry.
		return 0, boundary.WantRead
	}
	if errors.Is(err, errWouldBlock) {
		return 0, boundary.WantRead
	}
	return 0, s.fail("read", err)
}

// Write encrypts and transmits plaintext. A record is encrypted only
// when no earlier record is still in flight, and its byte count is
// reported only once its ciphertext has been fully handed to the send
// callback; until then Write returns WantWrite and the caller retries
// the same operation.
func (s *session) Write(p []byte) (int, boundary.Status) {
	if st, ok := s.establishedGuard("write"); !ok {
		return 0, st
	}
	if len(p) == 0 {
		return 0, boundary.WantWrite
	}

	// Finish the record from a previous blocked write first.
	if s.pendingPlain > 0 {
		switch s.flushOut() {
		case flushError:
			return 0, s.fail("write", errPeerClosed)
		case flushBlocked:
			return 0, boundary.WantWrite
		}
		n := s.pendingPlain
		s.pendingPlain = 0
		return n, boundary.Success
	}

	chunk := len(p)
	if chunk > maxRecordChunk {
		chunk = maxRecordChunk
	}
	if _, err := s.tls.Write(p[:chunk]); err != nil {
		return 0, s.fail("write", err)
	}

	switch s.flushOut() {
	case flushError:
		return 0, s.fail("write", errPeerClosed)
	case flushBlocked:
		s.pendingPlain = chunk
		return 0, boundary.WantWrite
	}
	return chunk, boundary.Success
}

// errNotEstablished reports an operational call attempted before the
// handshake completed.
var errNotEstablished = errors.New("session not established")

// establishedGuard rejects operational calls outside the ESTABLISHED
// state without invoking any callback. A premature call fails the
// session terminally: Failed means Failed, whatever produced it.
func (s *session) establishedGuard(op string) (boundary.Status, bool) {
	switch s.state {
	case stateEstablished:
		return boundary.Success, true
	case stateFailed, stateClosed:
		return boundary.Failed, false
	default:
		return s.fail(op, errNotEstablished), false
	}
}

// Compile-time interface satisfaction check.
var _ boundary.Session = (*session)(nil)
