package gotls

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plugtls/plugtls-go/internal/testcerts"
	"github.com/plugtls/plugtls-go/pkg/boundary"
	"github.com/plugtls/plugtls-go/pkg/log"
	"github.com/plugtls/plugtls-go/pkg/loopback"
)

const testServerName = "server.test"

// newTestPolicies builds a client policy trusting the CA and a server
// policy holding the chain and key.
func newTestPolicies(t *testing.T, sink log.Logger) (client, server boundary.Policy, material *testcerts.Material) {
	t.Helper()

	material, err := testcerts.Generate(testServerName, testServerName)
	if err != nil {
		t.Fatalf("generate test material: %v", err)
	}

	factory := NewFactory()
	defer factory.Release()

	client, err = factory.CreatePolicy(sink)
	if err != nil {
		t.Fatalf("create client policy: %v", err)
	}
	if err := client.SetCABundle(material.CAPEM); err != nil {
		t.Fatalf("client CA bundle: %v", err)
	}

	server, err = factory.CreatePolicy(sink)
	if err != nil {
		t.Fatalf("create server policy: %v", err)
	}
	if err := server.SetCertChain(material.ChainPEM); err != nil {
		t.Fatalf("server chain: %v", err)
	}
	if err := server.SetPrivateKey(material.KeyPEM, ""); err != nil {
		t.Fatalf("server key: %v", err)
	}
	return client, server, material
}

// countingEndpoint wraps a loopback endpoint and counts callback
// invocations.
type countingEndpoint struct {
	end   *loopback.Endpoint
	sends atomic.Int64
	recvs atomic.Int64
}

func (c *countingEndpoint) Send(ctx any, buf []byte) int {
	c.sends.Add(1)
	return c.end.Send(ctx, buf)
}

func (c *countingEndpoint) Recv(ctx any, buf []byte) int {
	c.recvs.Add(1)
	return c.end.Recv(ctx, buf)
}

func (c *countingEndpoint) calls() int64 {
	return c.sends.Load() + c.recvs.Load()
}

// newSessionPair creates connected client and server sessions over a
// loopback pair.
func newSessionPair(t *testing.T, clientPolicy, serverPolicy boundary.Policy) (cs, ss boundary.Session, ce, se *countingEndpoint) {
	t.Helper()

	clientEnd, serverEnd := loopback.Pair()
	ce = &countingEndpoint{end: clientEnd}
	se = &countingEndpoint{end: serverEnd}

	cs, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: testServerName,
		Send:       ce.Send,
		Recv:       ce.Recv,
		LogID:      "client",
	})
	if err != nil {
		t.Fatalf("create client session: %v", err)
	}
	ss, err = serverPolicy.CreateSession(boundary.SessionConfig{
		Send:  se.Send,
		Recv:  se.Recv,
		LogID: "server",
	})
	if err != nil {
		t.Fatalf("create server session: %v", err)
	}
	return cs, ss, ce, se
}

// driveHandshake alternates handshake calls on both sessions until
// both report Success, failing the test if either fails or the bound
// is exceeded.
func driveHandshake(t *testing.T, client, server boundary.Session) {
	t.Helper()

	const maxIterations = 500
	var clientDone, serverDone bool
	for i := 0; i < maxIterations; i++ {
		if !clientDone {
			switch st := client.Handshake(); st {
			case boundary.Success:
				clientDone = true
			case boundary.Failed:
				t.Fatalf("client handshake failed at iteration %d", i)
			}
		}
		if !serverDone {
			switch st := server.Handshake(); st {
			case boundary.Success:
				serverDone = true
			case boundary.Failed:
				t.Fatalf("server handshake failed at iteration %d", i)
			}
		}
		if clientDone && serverDone {
			return
		}
	}
	t.Fatalf("handshake did not complete within %d iterations", maxIterations)
}

func TestLoopbackHandshakeEstablishes(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, ss, _, _ := newSessionPair(t, clientPolicy, serverPolicy)
	defer cs.Release()
	defer ss.Release()

	driveHandshake(t, cs, ss)
}

func TestReadinessDrivenHandshake(t *testing.T) {
	// Drives both sides the way a readiness-based event loop would: a
	// session that reported WANT_READ is re-entered only once bytes
	// have actually arrived for it, and WANT_WRITE whenever the
	// transport can accept output (always, on loopback). A blocking
	// direction reported at the wrong moment stalls this loop for
	// good, so the test fails fast on any misreported status.
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	clientEnd, serverEnd := loopback.Pair()
	cs, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: testServerName,
		Send:       clientEnd.Send,
		Recv:       clientEnd.Recv,
	})
	if err != nil {
		t.Fatalf("create client session: %v", err)
	}
	defer cs.Release()
	ss, err := serverPolicy.CreateSession(boundary.SessionConfig{
		Send: serverEnd.Send,
		Recv: serverEnd.Recv,
	})
	if err != nil {
		t.Fatalf("create server session: %v", err)
	}
	defer ss.Release()

	ends := map[boundary.Session]*loopback.Endpoint{cs: clientEnd, ss: serverEnd}
	last := map[boundary.Session]boundary.Status{}
	done := map[boundary.Session]bool{}
	ready := func(s boundary.Session) bool {
		st, called := last[s]
		if !called || st == boundary.WantWrite {
			return true
		}
		return st == boundary.WantRead && ends[s].Buffered() > 0
	}

	for i := 0; i < 100; i++ {
		if done[cs] && done[ss] {
			return
		}
		progressed := false
		for _, s := range []boundary.Session{cs, ss} {
			if done[s] || !ready(s) {
				continue
			}
			progressed = true
			switch st := s.Handshake(); st {
			case boundary.Success:
				done[s] = true
			case boundary.Failed:
				t.Fatal("handshake failed")
			default:
				last[s] = st
			}
		}
		if !progressed {
			t.Fatalf("readiness deadlock: client=%v server=%v, buffered client=%d server=%d",
				last[cs], last[ss], clientEnd.Buffered(), serverEnd.Buffered())
		}
	}
	t.Fatal("handshake did not complete")
}

func TestHandshakeIdempotentAfterSuccess(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, ss, ce, se := newSessionPair(t, clientPolicy, serverPolicy)
	defer cs.Release()
	defer ss.Release()

	driveHandshake(t, cs, ss)

	clientCalls := ce.calls()
	serverCalls := se.calls()
	for i := 0; i < 3; i++ {
		if st := cs.Handshake(); st != boundary.Success {
			t.Fatalf("client Handshake() after success = %v, want SUCCESS", st)
		}
		if st := ss.Handshake(); st != boundary.Success {
			t.Fatalf("server Handshake() after success = %v, want SUCCESS", st)
		}
	}
	if got := ce.calls(); got != clientCalls {
		t.Errorf("client callbacks invoked after handshake completion: %d -> %d", clientCalls, got)
	}
	if got := se.calls(); got != serverCalls {
		t.Errorf("server callbacks invoked after handshake completion: %d -> %d", serverCalls, got)
	}
}

func TestReadWriteBeforeEstablished(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, ss, ce, se := newSessionPair(t, clientPolicy, serverPolicy)
	defer ss.Release()
	defer cs.Release()

	if n, st := cs.Read(make([]byte, 16)); st != boundary.Failed || n != 0 {
		t.Errorf("Read before handshake = (%d, %v), want (0, FAILED)", n, st)
	}
	// Failed is terminal however it was produced.
	if st := cs.Handshake(); st != boundary.Failed {
		t.Errorf("Handshake() after premature read = %v, want FAILED", st)
	}

	buf := []byte("payload")
	if n, st := ss.Write(buf); st != boundary.Failed || n != 0 {
		t.Errorf("Write before handshake = (%d, %v), want (0, FAILED)", n, st)
	}
	if st := ss.Handshake(); st != boundary.Failed {
		t.Errorf("Handshake() after premature write = %v, want FAILED", st)
	}

	if got := ce.calls() + se.calls(); got != 0 {
		t.Errorf("premature read/write invoked %d callbacks, want 0", got)
	}
	if !bytes.Equal(buf, []byte("payload")) {
		t.Error("premature write modified the caller's buffer")
	}
}

func TestZeroRecvYieldsWantRead(t *testing.T) {
	_, serverPolicy, _ := newTestPolicies(t, nil)
	defer serverPolicy.Release()

	ss, err := serverPolicy.CreateSession(boundary.SessionConfig{
		Send: func(any, []byte) int { return 0 },
		Recv: func(any, []byte) int { return 0 },
	})
	if err != nil {
		t.Fatalf("create server session: %v", err)
	}
	defer ss.Release()

	for i := 0; i < 3; i++ {
		if st := ss.Handshake(); st != boundary.WantRead {
			t.Fatalf("Handshake() with empty transport = %v, want WANT_READ", st)
		}
	}
}

func TestZeroSendYieldsWantWrite(t *testing.T) {
	clientPolicy, _, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()

	cs, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: testServerName,
		Send:       func(any, []byte) int { return 0 },
		Recv:       func(any, []byte) int { return 0 },
	})
	if err != nil {
		t.Fatalf("create client session: %v", err)
	}
	defer cs.Release()

	// The client's first flight is staged on the first call; a send
	// callback that moves nothing must block the handshake, not fail
	// it.
	for i := 0; i < 3; i++ {
		if st := cs.Handshake(); st != boundary.WantWrite {
			t.Fatalf("Handshake() with blocked send = %v, want WANT_WRITE", st)
		}
	}
}

func TestTransportErrorFailsHandshake(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: testServerName,
		Send:       func(any, []byte) int { return boundary.TransportError },
		Recv:       func(any, []byte) int { return 0 },
	})
	if err != nil {
		t.Fatalf("create client session: %v", err)
	}
	defer cs.Release()
	if st := cs.Handshake(); st != boundary.Failed {
		t.Errorf("Handshake() with failing send = %v, want FAILED", st)
	}

	ss, err := serverPolicy.CreateSession(boundary.SessionConfig{
		Send: func(any, []byte) int { return 0 },
		Recv: func(any, []byte) int { return boundary.TransportError },
	})
	if err != nil {
		t.Fatalf("create server session: %v", err)
	}
	defer ss.Release()
	if st := ss.Handshake(); st != boundary.Failed {
		t.Errorf("Handshake() with failing recv = %v, want FAILED", st)
	}
}

func TestReleaseMidHandshakeStopsCallbacks(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, _, ce, _ := newSessionPair(t, clientPolicy, serverPolicy)

	// One pump iteration leaves the handshake mid-flight.
	if st := cs.Handshake(); st == boundary.Failed {
		t.Fatal("first handshake call failed")
	}
	calls := ce.calls()

	cs.Release()

	// The handshake goroutine winds down without touching the
	// transport again.
	time.Sleep(50 * time.Millisecond)
	if got := ce.calls(); got != calls {
		t.Errorf("callbacks invoked after release: %d -> %d", calls, got)
	}
}

func TestEndToEndPayloadExchange(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, ss, _, _ := newSessionPair(t, clientPolicy, serverPolicy)
	defer cs.Release()
	defer ss.Release()

	driveHandshake(t, cs, ss)

	n, st := cs.Write([]byte("ping"))
	if st != boundary.Success || n != 4 {
		t.Fatalf("client Write(ping) = (%d, %v), want (4, SUCCESS)", n, st)
	}

	buf := make([]byte, 16)
	n, st = ss.Read(buf)
	if st != boundary.Success || n != 4 {
		t.Fatalf("server Read() = (%d, %v), want (4, SUCCESS)", n, st)
	}
	if string(buf[:4]) != "ping" {
		t.Errorf("server received %q, want %q", buf[:4], "ping")
	}

	// And the other direction.
	if n, st := ss.Write([]byte("pong")); st != boundary.Success || n != 4 {
		t.Fatalf("server Write(pong) = (%d, %v), want (4, SUCCESS)", n, st)
	}
	if n, st := cs.Read(buf); st != boundary.Success || n != 4 || string(buf[:4]) != "pong" {
		t.Fatalf("client Read() = (%d, %v, %q), want (4, SUCCESS, pong)", n, st, buf[:n])
	}
}

// stutteringSender accepts bytes only on every other call, forcing the
// write path through its WantWrite retry branch.
type stutteringSender struct {
	end   *loopback.Endpoint
	calls int
}

func (s *stutteringSender) Send(ctx any, buf []byte) int {
	s.calls++
	if s.calls%2 == 1 {
		return 0
	}
	return s.end.Send(ctx, buf)
}

func TestShortWriteResubmission(t *testing.T) {
	clientPolicy, serverPolicy, _ := newTestPolicies(t, nil)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	clientEnd, serverEnd := loopback.Pair()
	sender := &stutteringSender{end: clientEnd}

	cs, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: testServerName,
		Send:       sender.Send,
		Recv:       clientEnd.Recv,
	})
	if err != nil {
		t.Fatalf("create client session: %v", err)
	}
	defer cs.Release()

	ss, err := serverPolicy.CreateSession(boundary.SessionConfig{
		Send: serverEnd.Send,
		Recv: serverEnd.Recv,
	})
	if err != nil {
		t.Fatalf("create server session: %v", err)
	}
	defer ss.Release()

	driveHandshake(t, cs, ss)

	// A payload spanning multiple records, pushed through a transport
	// that blocks every other send.
	payload := bytes.Repeat([]byte("0123456789abcdef"), 3000) // 48000 bytes
	sawWantWrite := false

	remaining := payload
	for attempts := 0; len(remaining) > 0; attempts++ {
		if attempts > 10000 {
			t.Fatal("write did not complete")
		}
		n, st := cs.Write(remaining)
		switch st {
		case boundary.Success:
			if n == 0 {
				t.Fatal("Write returned SUCCESS with zero count")
			}
			remaining = remaining[n:]
		case boundary.WantWrite:
			sawWantWrite = true
		case boundary.WantRead:
		default:
			t.Fatalf("Write failed with %v", st)
		}
	}
	if !sawWantWrite {
		t.Error("stuttering transport never produced WANT_WRITE")
	}

	var got bytes.Buffer
	buf := make([]byte, 8192)
	for attempts := 0; got.Len() < len(payload); attempts++ {
		if attempts > 10000 {
			t.Fatal("read did not complete")
		}
		n, st := ss.Read(buf)
		switch st {
		case boundary.Success:
			if n == 0 {
				t.Fatal("Read returned SUCCESS with zero count")
			}
			got.Write(buf[:n])
		case boundary.WantRead, boundary.WantWrite:
		default:
			t.Fatalf("Read failed with %v", st)
		}
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Error("payload was reordered, duplicated or truncated in transit")
	}
}

// recordingSink captures events for assertions.
type recordingSink struct {
	events []log.Event
}

func (r *recordingSink) Log(ev log.Event) { r.events = append(r.events, ev) }

func (r *recordingSink) find(name string) (log.Event, bool) {
	for _, ev := range r.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return log.Event{}, false
}

func TestSessionEventsCarryLogID(t *testing.T) {
	sink := &recordingSink{}
	clientPolicy, serverPolicy, _ := newTestPolicies(t, sink)
	defer clientPolicy.Release()
	defer serverPolicy.Release()

	cs, ss, _, _ := newSessionPair(t, clientPolicy, serverPolicy)
	defer cs.Release()
	defer ss.Release()

	driveHandshake(t, cs, ss)

	ev, ok := sink.find("handshake_complete")
	if !ok {
		t.Fatal("no handshake_complete event logged")
	}
	if ev.SessionID != "client" && ev.SessionID != "server" {
		t.Errorf("handshake_complete SessionID = %q, want caller-supplied log id", ev.SessionID)
	}
	if ev.IsError {
		t.Error("handshake_complete logged as error")
	}
	if _, ok := ev.Attr("tls_version"); !ok {
		t.Error("handshake_complete missing tls_version attribute")
	}
}

func TestGeneratedLogID(t *testing.T) {
	sink := &recordingSink{}
	_, serverPolicy, _ := newTestPolicies(t, sink)
	defer serverPolicy.Release()

	ss, err := serverPolicy.CreateSession(boundary.SessionConfig{
		Send: func(any, []byte) int { return 0 },
		Recv: func(any, []byte) int { return 0 },
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer ss.Release()

	ev, ok := sink.find("session_created")
	if !ok {
		t.Fatal("no session_created event logged")
	}
	if ev.SessionID == "" {
		t.Error("session without LogID got no generated identifier")
	}
}

func TestFailureIsTerminalAndLogged(t *testing.T) {
	sink := &recordingSink{}
	clientPolicy, _, _ := newTestPolicies(t, sink)
	defer clientPolicy.Release()

	cs, err := clientPolicy.CreateSession(boundary.SessionConfig{
		Client:     true,
		ServerName: testServerName,
		Send:       func(any, []byte) int { return boundary.TransportError },
		Recv:       func(any, []byte) int { return 0 },
		LogID:      "doomed",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer cs.Release()

	if st := cs.Handshake(); st != boundary.Failed {
		t.Fatalf("Handshake() = %v, want FAILED", st)
	}
	// Terminal: stays failed.
	if st := cs.Handshake(); st != boundary.Failed {
		t.Errorf("Handshake() after failure = %v, want FAILED", st)
	}
	if n, st := cs.Read(make([]byte, 8)); n != 0 || st != boundary.Failed {
		t.Errorf("Read() after failure = (%d, %v), want (0, FAILED)", n, st)
	}

	ev, ok := sink.find("session_failed")
	if !ok {
		t.Fatal("no session_failed event logged")
	}
	if !ev.IsError {
		t.Error("session_failed not flagged as error")
	}
	if ev.SessionID != "doomed" {
		t.Errorf("session_failed SessionID = %q, want %q", ev.SessionID, "doomed")
	}
}
