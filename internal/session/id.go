// ABOUTME: Opaque session identifier used to correlate inbound messages to streams.
// ABOUTME: Wraps the wire token so it is never confused with a display string.

package session

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when a session token is empty.
var ErrInvalidID = errors.New("invalid session id")

// ID identifies one live session. The zero value is not a valid ID.
type ID struct {
	token string
}

// NewID generates a fresh random session ID.
func NewID() ID {
	return ID{token: uuid.New().String()}
}

// ParseID converts a wire token back into an ID.
func ParseID(token string) (ID, error) {
	if token == "" {
		return ID{}, ErrInvalidID
	}
	return ID{token: token}, nil
}

// Token returns the wire form of the ID, as sent in the endpoint event and
// the sessionId query parameter.
func (id ID) Token() string {
	return id.token
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.token == ""
}

// LogValue implements slog.LogValuer.
func (id ID) LogValue() slog.Value {
	return slog.StringValue(id.token)
}
