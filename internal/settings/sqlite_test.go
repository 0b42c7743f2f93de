// ABOUTME: Tests for the SQLite settings backend.
// ABOUTME: Covers file creation, nested directories and persistence across reopen.

package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "settings.db")

	s, err := NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file should exist")
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, ServerDefinition{
		Name:    "fetch",
		Command: "uvx",
		Args:    []string{"mcp-server-fetch"},
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath, testLogger())
	require.NoError(t, err)
	defer s.Close()

	def, err := s.Get(ctx, "fetch")
	require.NoError(t, err)
	assert.Equal(t, []string{"mcp-server-fetch"}, def.Args)
	assert.Nil(t, def.Env)
}
