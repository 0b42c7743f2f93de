// ABOUTME: Static file serving for the dashboard build directory
// ABOUTME: Serves existing files and answers / with index.html

package gateway

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
)

type staticHandler struct {
	dir string
}

func newStaticHandler(dir string) http.Handler {
	return &staticHandler{dir: dir}
}

func (s *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if s.dir == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	name := path.Clean("/" + r.URL.Path)
	file := filepath.Join(s.dir, filepath.FromSlash(name))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		info, err = os.Stat(file)
	}
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	http.ServeFile(w, r, file)
}
