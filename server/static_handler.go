package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// spaFileServer serves the built web app. Unknown paths without a file
// extension fall back to index.html so client-side routing works after a
// hard refresh.
func spaFileServer(webAppDir string) http.Handler {
	fileServer := http.FileServer(http.Dir(webAppDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(webAppDir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fileServer.ServeHTTP(w, r)
			return
		}
		if strings.Contains(filepath.Base(r.URL.Path), ".") {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filepath.Join(webAppDir, "index.html"))
	})
}
