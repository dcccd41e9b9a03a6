package server

import (
	_ "embed"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed static/index.html
var fallbackIndex []byte

// handleGetIndex serves index.html from the static directory, or a minimal
// built-in page when the directory has none.
func (c *controller) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(c.cfg.StaticDir, "index.html")
	if _, err := os.Stat(path); err == nil {
		http.ServeFile(w, r, path)
		return
	} else if !errors.Is(err, fs.ErrNotExist) {
		c.logError(r, "failed to stat index page", "error", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(fallbackIndex)
}
