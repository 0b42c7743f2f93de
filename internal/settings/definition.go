// ABOUTME: Definition of one upstream MCP server and its validation rules.
// ABOUTME: A server is either a local command (stdio) or a remote URL.

package settings

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
)

// ErrInvalidDefinition is returned when a server definition fails validation.
var ErrInvalidDefinition = errors.New("invalid server definition")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportURL   = "url"
)

// ServerDefinition describes how to reach one upstream server.
type ServerDefinition struct {
	Name    string            `json:"-"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// Validate checks the definition is usable.
func (d ServerDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if !namePattern.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidDefinition, d.Name)
	}
	switch {
	case d.Command == "" && d.URL == "":
		return fmt.Errorf("%w: server %q needs a command or a url", ErrInvalidDefinition, d.Name)
	case d.Command != "" && d.URL != "":
		return fmt.Errorf("%w: server %q sets both command and url", ErrInvalidDefinition, d.Name)
	}
	return nil
}

// Transport returns TransportStdio or TransportURL.
func (d ServerDefinition) Transport() string {
	if d.Command != "" {
		return TransportStdio
	}
	return TransportURL
}

// Clone returns a deep copy of d.
func (d ServerDefinition) Clone() ServerDefinition {
	d.Args = slices.Clone(d.Args)
	d.Env = maps.Clone(d.Env)
	return d
}

// Equal reports whether two definitions describe the same server.
func (d ServerDefinition) Equal(other ServerDefinition) bool {
	return d.Name == other.Name &&
		d.Command == other.Command &&
		d.URL == other.URL &&
		slices.Equal(d.Args, other.Args) &&
		maps.Equal(d.Env, other.Env)
}
