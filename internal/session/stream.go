// ABOUTME: Serialized SSE writer that owns the write side of one open response.
// ABOUTME: Converts write failures into a closed state observable through Done().

package session

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ErrStreamClosed is returned when writing to a stream that is already closed.
var ErrStreamClosed = errors.New("stream closed")

// Stream writes SSE frames to a single client. All writes are serialized, so
// frames issued on one stream are delivered in issue order.
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
	err       error

	// onFailure runs once, outside mu, after a write failure closes the stream.
	onFailure func()
}

// NewStream wraps w. The flusher may be nil for writers that do not buffer.
func NewStream(w io.Writer, flusher http.Flusher) *Stream {
	return &Stream{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

// WriteComment writes an SSE comment, the no-op unit used for keep-alives.
func (s *Stream) WriteComment() error {
	return s.write(":\n\n")
}

// WriteEvent writes a named SSE event. Multi-line data is split across
// several data fields as the SSE format requires.
func (s *Stream) WriteEvent(event, data string) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return s.write(b.String())
}

func (s *Stream) write(frame string) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.closeLocked(err)
		onFailure := s.onFailure
		s.onFailure = nil
		s.mu.Unlock()

		if onFailure != nil {
			onFailure()
		}
		return fmt.Errorf("writing frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	s.mu.Unlock()
	return nil
}

// setFailureHook installs fn to run when a write failure closes the stream.
// It returns false if the stream is already closed.
func (s *Stream) setFailureHook(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.onFailure = fn
	return true
}

// Close marks the stream closed. Safe to call multiple times.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(nil)
}

func (s *Stream) closeLocked(err error) {
	s.closeOnce.Do(func() {
		s.closed = true
		s.err = err
		close(s.done)
	})
}

// Closed reports whether the stream is closed.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the stream closes, either explicitly or after a
// failed write.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the write error that closed the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
