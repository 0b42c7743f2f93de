// ABOUTME: Health reporter exposing liveness and the live session count.
// ABOUTME: Reads the count from the registry on every request.

package sse

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389/mcphub/internal/session"
)

// timestampFormat is ISO-8601 with millisecond precision.
const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// HealthReport is the body of the health endpoint.
type HealthReport struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Connections int    `json:"connections"`
}

// HealthReporter serves HealthReport snapshots.
type HealthReporter struct {
	registry *session.Registry
	now      func() time.Time
}

// NewHealthReporter creates a reporter backed by registry.
func NewHealthReporter(registry *session.Registry) *HealthReporter {
	return &HealthReporter{registry: registry, now: time.Now}
}

// Report returns the current health snapshot.
func (h *HealthReporter) Report() HealthReport {
	return HealthReport{
		Status:      "ok",
		Timestamp:   h.now().UTC().Format(timestampFormat),
		Connections: h.registry.Count(),
	}
}

func (h *HealthReporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.Report())
}
