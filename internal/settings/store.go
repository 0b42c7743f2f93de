// ABOUTME: Store interface for server definitions and backend selection.
// ABOUTME: Defines the sentinel errors shared by every backend.

package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when a requested server does not exist
var ErrNotFound = errors.New("server not found")

// ErrServerExists is returned when creating a server whose name is taken
var ErrServerExists = errors.New("server already exists")

// Backend names.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store persists server definitions.
type Store interface {
	// List returns every definition sorted by name.
	List(ctx context.Context) ([]ServerDefinition, error)
	Get(ctx context.Context, name string) (ServerDefinition, error)
	Create(ctx context.Context, def ServerDefinition) error
	Update(ctx context.Context, def ServerDefinition) error
	Delete(ctx context.Context, name string) error
	Close() error
}

// Watcher is implemented by stores that can report external edits.
type Watcher interface {
	// Watch calls fn after the stored definitions change outside the
	// store. It returns when ctx is cancelled.
	Watch(ctx context.Context, fn func()) error
}

// Open creates the store for backend at path.
func Open(backend, path string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(path, logger)
	case BackendSQLite:
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown settings backend %q", backend)
	}
}
