// ABOUTME: Behavior tests shared by every settings backend.
// ABOUTME: Each backend runs the same CRUD and error-mapping cases.

package settings

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		BackendFile: func(t *testing.T) Store {
			s, err := Open(BackendFile, filepath.Join(t.TempDir(), "mcp_settings.json"), testLogger())
			require.NoError(t, err)
			return s
		},
		BackendSQLite: func(t *testing.T) Store {
			s, err := Open(BackendSQLite, filepath.Join(t.TempDir(), "settings.db"), testLogger())
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			defs, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, defs)

			fetch := ServerDefinition{
				Name:    "fetch",
				Command: "uvx",
				Args:    []string{"mcp-server-fetch"},
				Env:     map[string]string{"LOG": "debug"},
			}
			remote := ServerDefinition{Name: "amap", URL: "https://example.invalid/sse"}
			require.NoError(t, s.Create(ctx, fetch))
			require.NoError(t, s.Create(ctx, remote))

			defs, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, defs, 2)
			assert.Equal(t, "amap", defs[0].Name)
			assert.True(t, defs[1].Equal(fetch))

			got, err := s.Get(ctx, "fetch")
			require.NoError(t, err)
			assert.True(t, got.Equal(fetch), "got %+v", got)

			fetch.Args = []string{"mcp-server-fetch", "--ignore-robots-txt"}
			require.NoError(t, s.Update(ctx, fetch))
			got, err = s.Get(ctx, "fetch")
			require.NoError(t, err)
			assert.Equal(t, fetch.Args, got.Args)

			require.NoError(t, s.Delete(ctx, "amap"))
			defs, err = s.List(ctx)
			require.NoError(t, err)
			assert.Len(t, defs, 1)
		})
	}
}

func TestStore_Errors(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			def := ServerDefinition{Name: "echo", Command: "echo"}
			require.NoError(t, s.Create(ctx, def))

			assert.ErrorIs(t, s.Create(ctx, def), ErrServerExists)

			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Update(ctx, ServerDefinition{Name: "missing", Command: "x"}), ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

			assert.ErrorIs(t, s.Create(ctx, ServerDefinition{Name: "bad"}), ErrInvalidDefinition)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("etcd", filepath.Join(t.TempDir(), "x"), testLogger())
	assert.Error(t, err)
}

func TestServerDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     ServerDefinition
		wantErr bool
	}{
		{"stdio", ServerDefinition{Name: "fetch", Command: "uvx"}, false},
		{"url", ServerDefinition{Name: "remote", URL: "http://localhost:9000/sse"}, false},
		{"dotted name", ServerDefinition{Name: "team.tools-v2", Command: "x"}, false},
		{"no name", ServerDefinition{Command: "uvx"}, true},
		{"bad name", ServerDefinition{Name: "has space", Command: "uvx"}, true},
		{"leading dash", ServerDefinition{Name: "-x", Command: "uvx"}, true},
		{"neither command nor url", ServerDefinition{Name: "empty"}, true},
		{"both command and url", ServerDefinition{Name: "both", Command: "x", URL: "http://y"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDefinition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServerDefinition_Equal(t *testing.T) {
	a := ServerDefinition{Name: "a", Command: "x", Args: []string{"1"}, Env: map[string]string{"K": "V"}}
	b := a
	assert.True(t, a.Equal(b))

	b.Args = []string{"2"}
	assert.False(t, a.Equal(b))

	c := a
	c.Env = map[string]string{"K": "other"}
	assert.False(t, a.Equal(c))

	assert.Equal(t, TransportStdio, a.Transport())
	assert.Equal(t, TransportURL, ServerDefinition{URL: "http://x"}.Transport())
}

func TestServerDefinition_Clone(t *testing.T) {
	a := ServerDefinition{Name: "a", Command: "x", Args: []string{"1"}, Env: map[string]string{"K": "V"}}
	b := a.Clone()
	b.Args[0] = "2"
	b.Env["K"] = "changed"

	assert.Equal(t, "1", a.Args[0])
	assert.Equal(t, "V", a.Env["K"])
}
