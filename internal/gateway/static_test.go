// ABOUTME: Tests for dashboard static file serving
// ABOUTME: Covers index fallback, plain files, missing paths and traversal attempts

package gateway

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticDir(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	dist := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>hub</html>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "assets", "app.js"), []byte("console.log(1)"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("secret"), 0644))
	return dist
}

func TestStatic_RootServesIndex(t *testing.T) {
	h := newStaticHandler(staticDir(t))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "hub")
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
}

func TestStatic_ServesFiles(t *testing.T) {
	h := newStaticHandler(staticDir(t))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log(1)", rr.Body.String())
}

func TestStatic_NotFound(t *testing.T) {
	dir := staticDir(t)

	tests := []struct {
		name   string
		dir    string
		method string
		path   string
	}{
		{"missing file", dir, http.MethodGet, "/nope.css"},
		{"directory without index", dir, http.MethodGet, "/assets/"},
		{"traversal", dir, http.MethodGet, "/../secret.txt"},
		{"post", dir, http.MethodPost, "/"},
		{"no static dir", "", http.MethodGet, "/"},
		{"absent static dir", filepath.Join(t.TempDir(), "absent"), http.MethodGet, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.URL.Path = tt.path
			rr := httptest.NewRecorder()
			newStaticHandler(tt.dir).ServeHTTP(rr, req)
			assert.Equal(t, http.StatusNotFound, rr.Code)
		})
	}
}
