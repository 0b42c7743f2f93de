// ABOUTME: Tests for the JSON file backend: seeding, document preservation and watching.
// ABOUTME: Uses temp directories so every test works on its own settings file.

package settings

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureFile_SeedsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mcp_settings.json")

	require.NoError(t, EnsureFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mcpServers":{}}`, string(data))
}

func TestEnsureFile_CopiesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	example := `{"mcpServers":{"fetch":{"command":"uvx","args":["mcp-server-fetch"]}}}`
	require.NoError(t, os.WriteFile(path+".example", []byte(example), 0o644))

	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)

	def, err := s.Get(context.Background(), "fetch")
	require.NoError(t, err)
	assert.Equal(t, "uvx", def.Command)
	assert.Equal(t, []string{"mcp-server-fetch"}, def.Args)
}

func TestEnsureFile_LeavesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"keep":{"command":"x"}}}`), 0o644))

	require.NoError(t, EnsureFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "keep")
}

func TestNewFileStore_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":`), 0o644))

	_, err := NewFileStore(path, testLogger())
	assert.Error(t, err)
}

func TestFileStore_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":[{"username":"admin"}],"mcpServers":{}}`), 0o644))

	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), ServerDefinition{Name: "echo", Command: "echo"}))

	var doc map[string]json.RawMessage
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.JSONEq(t, `[{"username":"admin"}]`, string(doc["users"]))
	assert.JSONEq(t, `{"echo":{"command":"echo"}}`, string(doc["mcpServers"]))
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "mcp_settings.json"), testLogger())
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(context.Background(), ServerDefinition{Name: name, Command: "x"}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_WatchReportsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp_settings.json")
	s, err := NewFileStore(path, testLogger())
	require.NoError(t, err)
	s.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	var changes atomic.Int32
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- s.Watch(ctx, func() { changes.Add(1) })
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)

	// Writes made through the store are not reported.
	require.NoError(t, s.Create(context.Background(), ServerDefinition{Name: "own", Command: "x"}))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), changes.Load())

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"edited":{"command":"y"}}}`), 0o644))
	require.Eventually(t, func() bool { return changes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	def, err := s.Get(context.Background(), "edited")
	require.NoError(t, err)
	assert.Equal(t, "y", def.Command)

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
