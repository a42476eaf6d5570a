package relay

import (
	"errors"
	"sync"

	"github.com/dgnsrekt/watchrelay/internal/stream"
)

var errSinkClosed = errors.New("relay: sink closed")

// Sink receives flushed batches from watchers. Implementations must write a
// batch as a unit: batches from different watchers never interleave.
type Sink interface {
	WriteBatch(recs []stream.Record) error
}

// WriterSink encodes batches with the stream codec and hands each encoded
// batch to write under a lock shared by every watcher of a connection.
type WriterSink struct {
	write func([]byte) error

	mu     sync.Mutex
	err    error
	closed bool
}

func NewWriterSink(write func([]byte) error) *WriterSink {
	return &WriterSink{write: write}
}

func (s *WriterSink) WriteBatch(recs []stream.Record) error {
	buf, encErr := stream.AppendBatch(nil, recs)
	if len(buf) == 0 {
		return encErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	if s.err != nil {
		return s.err
	}
	if err := s.write(buf); err != nil {
		s.err = err
		return err
	}
	return encErr
}

// Close makes every later WriteBatch a no-op. It must be called before the
// underlying writer is released.
func (s *WriterSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Err returns the first write error, if any.
func (s *WriterSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
