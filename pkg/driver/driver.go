// Package driver contains host-side pumps for the non-blocking
// session contract: bounded retry loops that resolve WantRead and
// WantWrite for hosts that have no event loop of their own. The
// abstraction itself never blocks; these helpers do, on the host's
// behalf.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/plugtls/plugtls-go/pkg/boundary"
)

// ErrSessionFailed is returned when a driven operation reports Failed.
// The session is terminal and must be released by the caller.
var ErrSessionFailed = errors.New("session failed")

// Retry pacing for blocked operations. Loopback transports make
// progress on the very next call, so pacing starts near zero and stays
// small; a stalled remote peer is bounded by the caller's context.
func newPolicy() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Microsecond
	bo.MaxInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 0 // bounded by context only
	return bo
}

// Handshake retries session.Handshake until it completes or fails,
// sleeping between blocked attempts. Cancellation is the caller's
// give-up signal: the session is simply not retried again, per the
// boundary's no-cancellation-primitive model.
func Handshake(ctx context.Context, session boundary.Session) error {
	bo := newPolicy()
	for {
		switch st := session.Handshake(); st {
		case boundary.Success:
			return nil
		case boundary.Failed:
			return ErrSessionFailed
		default:
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
		}
	}
}

// WriteAll drives session.Write until every byte of p has been
// accepted, resubmitting the unconsumed remainder on short counts.
func WriteAll(ctx context.Context, session boundary.Session, p []byte) error {
	bo := newPolicy()
	for len(p) > 0 {
		n, st := session.Write(p)
		switch st {
		case boundary.Success:
			p = p[n:]
			bo.Reset()
		case boundary.Failed:
			return ErrSessionFailed
		default:
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFull drives session.Read until p is full.
func ReadFull(ctx context.Context, session boundary.Session, p []byte) error {
	bo := newPolicy()
	for len(p) > 0 {
		n, st := session.Read(p)
		switch st {
		case boundary.Success:
			p = p[n:]
			bo.Reset()
		case boundary.Failed:
			return ErrSessionFailed
		default:
			if err := sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return context.DeadlineExceeded
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
