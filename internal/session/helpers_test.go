// ABOUTME: Shared test doubles for the session package.
// ABOUTME: Provides a concurrency-safe recording writer and a counting observer.

package session

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errBrokenPipe = errors.New("broken pipe")

// recordingWriter captures frames and their write times.
type recordingWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes []time.Time
	fail   bool
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errBrokenPipe
	}
	w.writes = append(w.writes, time.Now())
	return w.buf.Write(p)
}

func (w *recordingWriter) setFail(fail bool) {
	w.mu.Lock()
	w.fail = fail
	w.mu.Unlock()
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func (w *recordingWriter) times() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.writes...)
}

func (w *recordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

type countingObserver struct {
	opened     atomic.Int64
	closed     atomic.Int64
	heartbeats atomic.Int64
}

func (o *countingObserver) SessionOpened() { o.opened.Add(1) }
func (o *countingObserver) SessionClosed() { o.closed.Add(1) }
func (o *countingObserver) HeartbeatSent() { o.heartbeats.Add(1) }
