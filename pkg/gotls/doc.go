// Package gotls is the reference transport-security backend, built on
// crypto/tls. It implements the boundary Factory/Policy/Session
// contract: policies parse PEM (or PKCS#12) material and freeze on
// first use, and sessions run the TLS handshake and record layer over
// the host's send/receive callbacks without ever owning a socket.
//
// crypto/tls drives a blocking net.Conn, so each session bridges it to
// the non-blocking callback contract: a background goroutine runs the
// handshake against in-memory buffers while Handshake calls move bytes
// between those buffers and the callbacks, and after establishment the
// record layer runs synchronously with would-block errors mapped to
// the Want statuses. Callbacks are only ever invoked from inside
// Handshake, Read and Write, never from the background goroutine, so a
// released session can never touch the host again.
package gotls
