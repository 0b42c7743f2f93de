// ABOUTME: Per-session keep-alive timer writing SSE comments at a fixed interval.
// ABOUTME: Explicit Start/Stop handle; Stop is idempotent and waits for the tick loop.

package session

import (
	"log/slog"
	"sync"
	"time"
)

// Heartbeat periodically writes a keep-alive comment to a stream so idle
// intermediaries do not time out the connection.
type Heartbeat struct {
	stream   *Stream
	interval time.Duration
	observer Observer
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	exited  chan struct{}
}

// NewHeartbeat creates a stopped heartbeat for stream. A nil observer or
// logger is allowed.
func NewHeartbeat(stream *Stream, interval time.Duration, observer Observer, logger *slog.Logger) *Heartbeat {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		stream:   stream,
		interval: interval,
		observer: observer,
		logger:   logger,
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Interval returns the configured tick interval.
func (h *Heartbeat) Interval() time.Duration {
	return h.interval
}

// Start begins ticking. Calling Start more than once, after Stop, or with a
// non-positive interval does nothing.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started || h.stopped || h.interval <= 0 {
		return
	}
	h.started = true
	go h.run()
}

// Stop halts the heartbeat and releases its ticker. It returns only after
// the tick loop has exited, so no write happens after Stop returns.
// Safe to call multiple times and from multiple goroutines.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.quit)
	}
	started := h.started
	h.mu.Unlock()

	if started {
		<-h.exited
	}
}

func (h *Heartbeat) run() {
	defer close(h.exited)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.quit:
			return
		case <-h.stream.Done():
			return
		case <-ticker.C:
			// quit and tick can be ready together; quit wins.
			select {
			case <-h.quit:
				return
			default:
			}
			if h.stream.Closed() {
				return
			}
			if err := h.stream.WriteComment(); err != nil {
				h.logger.Debug("heartbeat write failed", "error", err)
				return
			}
			h.observer.HeartbeatSent()
		}
	}
}
