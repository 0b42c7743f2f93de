// ABOUTME: Tests for User-Agent based client classification.
// ABOUTME: Verifies compat clients get the short interval and others the default.

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatPolicy_Classify(t *testing.T) {
	policy := DefaultHeartbeatPolicy()

	tests := []struct {
		name      string
		userAgent string
		compat    bool
		interval  time.Duration
	}{
		{"cursor client", "Cursor/0.42.3 (darwin arm64)", true, 10 * time.Second},
		{"generic client", "node-fetch/1.0", false, 30 * time.Second},
		{"empty user agent", "", false, 30 * time.Second},
		{"case sensitive match", "cursor/1.0", false, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := policy.Classify(tt.userAgent)
			assert.Equal(t, tt.compat, class.Compat)
			assert.Equal(t, tt.interval, class.Interval)
		})
	}
}

func TestHeartbeatPolicy_ZeroValueUsesDefaults(t *testing.T) {
	var policy HeartbeatPolicy
	class := policy.Classify("anything")
	assert.Equal(t, DefaultHeartbeatInterval, class.Interval)
	assert.Equal(t, "generic", class.Name)
}

func TestHeartbeatPolicy_CustomMarkers(t *testing.T) {
	policy := HeartbeatPolicy{
		Default:       time.Minute,
		Compat:        5 * time.Second,
		CompatClients: []string{"", "Windsurf"},
	}

	class := policy.Classify("Windsurf/2.0")
	assert.True(t, class.Compat)
	assert.Equal(t, "Windsurf", class.Name)
	assert.Equal(t, 5*time.Second, class.Interval)

	assert.Equal(t, time.Minute, policy.Classify("curl/8.0").Interval)
}
