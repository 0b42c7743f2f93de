// ABOUTME: JSON file backend for server definitions with atomic writes.
// ABOUTME: Seeds the file from an example copy and watches it for external edits via fsnotify.

package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// serversKey is the document key holding server definitions.
const serversKey = "mcpServers"

// defaultDebounce coalesces bursts of filesystem events into one reload.
const defaultDebounce = 200 * time.Millisecond

// FileStore implements Store on top of a JSON settings document. Keys other
// than mcpServers are preserved on write.
type FileStore struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu sync.Mutex
	// last holds the bytes the store last wrote or reported, so the watcher
	// can ignore its own writes.
	last []byte
}

// NewFileStore opens the settings document at path, creating it if needed.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{
		path:     path,
		logger:   logger.With("component", "settings", "backend", BackendFile),
		debounce: defaultDebounce,
	}
	if err := EnsureFile(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	if _, _, err := parseDocument(data); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	s.last = data
	s.logger.Info("settings file loaded", "path", path)
	return s, nil
}

// EnsureFile creates path if it does not exist, copying <path>.example when
// present and writing an empty document otherwise.
func EnsureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking settings file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := os.ReadFile(path + ".example")
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		data = []byte("{\n  \"mcpServers\": {}\n}\n")
	default:
		return fmt.Errorf("reading example settings: %w", err)
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("seeding settings file: %w", err)
	}
	return nil
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// read loads the document. Must be called with s.mu held.
func (s *FileStore) read() (map[string]json.RawMessage, map[string]ServerDefinition, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading settings file: %w", err)
	}
	doc, servers, err := parseDocument(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing settings file %s: %w", s.path, err)
	}
	return doc, servers, nil
}

func parseDocument(data []byte) (map[string]json.RawMessage, map[string]ServerDefinition, error) {
	doc := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, nil, err
		}
	}

	servers := make(map[string]ServerDefinition)
	if raw, ok := doc[serversKey]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", serversKey, err)
		}
	}
	for name, def := range servers {
		def.Name = name
		servers[name] = def
	}
	return doc, servers, nil
}

func (s *FileStore) write(doc map[string]json.RawMessage, servers map[string]ServerDefinition) error {
	raw, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("encoding servers: %w", err)
	}
	doc[serversKey] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	data = append(data, '\n')

	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	s.last = data
	return nil
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns every definition sorted by name.
func (s *FileStore) List(_ context.Context) ([]ServerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, servers, err := s.read()
	if err != nil {
		return nil, err
	}
	defs := make([]ServerDefinition, 0, len(servers))
	for _, def := range servers {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Get returns one definition.
func (s *FileStore) Get(_ context.Context, name string) (ServerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, servers, err := s.read()
	if err != nil {
		return ServerDefinition{}, err
	}
	def, ok := servers[name]
	if !ok {
		return ServerDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return def, nil
}

// Create adds a definition.
func (s *FileStore) Create(_ context.Context, def ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, servers, err := s.read()
	if err != nil {
		return err
	}
	if _, exists := servers[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrServerExists, def.Name)
	}
	servers[def.Name] = def
	if err := s.write(doc, servers); err != nil {
		return err
	}
	s.logger.Info("server created", "server", def.Name)
	return nil
}

// Update replaces an existing definition.
func (s *FileStore) Update(_ context.Context, def ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, servers, err := s.read()
	if err != nil {
		return err
	}
	if _, exists := servers[def.Name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, def.Name)
	}
	servers[def.Name] = def
	if err := s.write(doc, servers); err != nil {
		return err
	}
	s.logger.Info("server updated", "server", def.Name)
	return nil
}

// Delete removes a definition.
func (s *FileStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, servers, err := s.read()
	if err != nil {
		return err
	}
	if _, exists := servers[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(servers, name)
	if err := s.write(doc, servers); err != nil {
		return err
	}
	s.logger.Info("server deleted", "server", name)
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error {
	return nil
}

// Watch calls fn after the settings file is edited outside the store. The
// parent directory is watched so editors that replace the file by rename
// are seen too.
func (s *FileStore) Watch(ctx context.Context, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching settings directory: %w", err)
	}
	s.logger.Info("watching settings file", "path", s.path)

	target := filepath.Clean(s.path)
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				if s.changedExternally() {
					s.logger.Info("settings file changed", "path", s.path)
					fn()
				}
			})
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("settings watcher error", "error", err)
		}
	}
}

// changedExternally reports whether the file content differs from what the
// store last saw, and records the new content.
func (s *FileStore) changedExternally() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("failed to read settings file after change", "error", err)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes.Equal(data, s.last) {
		return false
	}
	if _, _, err := parseDocument(data); err != nil {
		s.logger.Warn("ignoring invalid settings file", "error", err)
		return false
	}
	s.last = data
	return true
}
