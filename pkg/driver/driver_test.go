package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugtls/plugtls-go/pkg/boundary"
)

// step is one scripted operation result.
type step struct {
	n  int
	st boundary.Status
}

// scriptedSession replays fixed result sequences for each operation.
// With repeatLast set, the final handshake status repeats forever.
type scriptedSession struct {
	handshakes []boundary.Status
	reads      []step
	writes     []step
	repeatLast bool
}

func (s *scriptedSession) Handshake() boundary.Status {
	if len(s.handshakes) == 0 {
		return boundary.Success
	}
	st := s.handshakes[0]
	if !s.repeatLast || len(s.handshakes) > 1 {
		s.handshakes = s.handshakes[1:]
	}
	return st
}

func (s *scriptedSession) Read(p []byte) (int, boundary.Status) {
	if len(s.reads) == 0 {
		return 0, boundary.Failed
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	return r.n, r.st
}

func (s *scriptedSession) Write(p []byte) (int, boundary.Status) {
	if len(s.writes) == 0 {
		return 0, boundary.Failed
	}
	w := s.writes[0]
	s.writes = s.writes[1:]
	return w.n, w.st
}

func (s *scriptedSession) Acquire() {}
func (s *scriptedSession) Release() {}

var _ boundary.Session = (*scriptedSession)(nil)

func TestHandshakeRetriesBlockedStatuses(t *testing.T) {
	s := &scriptedSession{handshakes: []boundary.Status{
		boundary.WantRead,
		boundary.WantWrite,
		boundary.WantRead,
		boundary.Success,
	}}
	err := Handshake(context.Background(), s)
	require.NoError(t, err)
	assert.Empty(t, s.handshakes)
}

func TestHandshakeFailed(t *testing.T) {
	s := &scriptedSession{handshakes: []boundary.Status{
		boundary.WantRead,
		boundary.Failed,
	}}
	err := Handshake(context.Background(), s)
	assert.ErrorIs(t, err, ErrSessionFailed)
}

func TestHandshakeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Never completes; the context bounds the retry loop.
	s := &scriptedSession{
		handshakes: []boundary.Status{boundary.WantRead},
		repeatLast: true,
	}
	err := Handshake(ctx, s)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteAllResubmitsRemainder(t *testing.T) {
	s := &scriptedSession{writes: []step{
		{3, boundary.Success},
		{0, boundary.WantWrite},
		{4, boundary.Success},
		{3, boundary.Success},
	}}
	err := WriteAll(context.Background(), s, make([]byte, 10))
	require.NoError(t, err)
	assert.Empty(t, s.writes)
}

func TestWriteAllFailed(t *testing.T) {
	s := &scriptedSession{writes: []step{
		{2, boundary.Success},
		{0, boundary.Failed},
	}}
	err := WriteAll(context.Background(), s, make([]byte, 10))
	assert.ErrorIs(t, err, ErrSessionFailed)
}

func TestWriteAllEmpty(t *testing.T) {
	s := &scriptedSession{}
	require.NoError(t, WriteAll(context.Background(), s, nil))
}

func TestReadFullAssemblesBuffer(t *testing.T) {
	s := &scriptedSession{reads: []step{
		{0, boundary.WantRead},
		{5, boundary.Success},
		{0, boundary.WantRead},
		{5, boundary.Success},
	}}
	err := ReadFull(context.Background(), s, make([]byte, 10))
	require.NoError(t, err)
	assert.Empty(t, s.reads)
}

func TestReadFullFailed(t *testing.T) {
	s := &scriptedSession{reads: []step{
		{0, boundary.Failed},
	}}
	err := ReadFull(context.Background(), s, make([]byte, 10))
	assert.ErrorIs(t, err, ErrSessionFailed)
}
