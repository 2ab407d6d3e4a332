package sim

import (
	"bytes"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Stream is an in-memory io.ReadWriteCloser. Writes are recorded and reads are served from
// queued replies; a read with nothing queued returns io.EOF.
type Stream struct {
	mu sync.Mutex

	written bytes.Buffer
	replies bytes.Buffer

	writes    int
	failAfter int
	failErr   error
	short     bool
	closed    bool
}

// NewStream returns an empty Stream.
func NewStream() *Stream {
	return &Stream{failAfter: -1}
}

// QueueReply appends b to the bytes returned by Read.
func (s *Stream) QueueReply(b ...byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies.Write(b)
}

// FailWritesAfter makes every write after the first n fail with err.
func (s *Stream) FailWritesAfter(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failErr = err
}

// ShortWrites makes writes report one byte less than requested.
func (s *Stream) ShortWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.short = true
}

// Written returns a copy of everything written so far.
func (s *Stream) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written.Bytes()...)
}

// Writes returns the number of Write calls that succeeded.
func (s *Stream) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.replies.Len() == 0 {
		return 0, io.EOF
	}
	return s.replies.Read(p)
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.failAfter >= 0 && s.writes >= s.failAfter {
		return 0, s.failErr
	}
	n := len(p)
	if s.short && n > 0 {
		n--
	}
	s.written.Write(p[:n])
	s.writes++
	return n, nil
}

// Close marks the stream closed; later reads and writes fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream already closed")
	}
	s.closed = true
	return nil
}
