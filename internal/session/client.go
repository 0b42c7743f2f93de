// ABOUTME: Client class detection from connection metadata (User-Agent).
// ABOUTME: Picks the heartbeat interval and compatibility headers per client family.

package session

import (
	"strings"
	"time"
)

// Default heartbeat intervals.
const (
	DefaultHeartbeatInterval       = 30 * time.Second
	DefaultCompatHeartbeatInterval = 10 * time.Second
)

// DefaultCompatClients lists User-Agent markers of clients that enforce
// stricter idle timeouts.
var DefaultCompatClients = []string{"Cursor"}

// ClientClass describes the family of a connecting client.
type ClientClass struct {
	// Name is the matched marker, or "generic".
	Name string
	// Compat is true for clients that need the shorter interval and the
	// compatibility response header.
	Compat bool
	// Interval is the heartbeat interval for this client.
	Interval time.Duration
}

// HeartbeatPolicy maps connection metadata to a ClientClass. Detection is a
// best-effort substring match on the User-Agent, not an identity check.
type HeartbeatPolicy struct {
	Default       time.Duration
	Compat        time.Duration
	CompatClients []string
}

// DefaultHeartbeatPolicy returns the policy used when nothing is configured.
func DefaultHeartbeatPolicy() HeartbeatPolicy {
	return HeartbeatPolicy{
		Default:       DefaultHeartbeatInterval,
		Compat:        DefaultCompatHeartbeatInterval,
		CompatClients: append([]string(nil), DefaultCompatClients...),
	}
}

// Classify returns the client class for the given User-Agent.
func (p HeartbeatPolicy) Classify(userAgent string) ClientClass {
	def := p.Default
	if def <= 0 {
		def = DefaultHeartbeatInterval
	}
	compat := p.Compat
	if compat <= 0 {
		compat = DefaultCompatHeartbeatInterval
	}

	for _, marker := range p.CompatClients {
		if marker != "" && strings.Contains(userAgent, marker) {
			return ClientClass{Name: marker, Compat: true, Interval: compat}
		}
	}
	return ClientClass{Name: "generic", Interval: def}
}
