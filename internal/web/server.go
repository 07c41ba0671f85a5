// Package web serves the dashboard's static assets. Unknown paths without a
// file extension fall back to index.html so board and chat routes survive a
// reload.
package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Server struct {
	Dir string
}

func (s *Server) Handler() http.Handler {
	fs := http.FileServer(http.Dir(s.Dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if s.shouldFallback(r.URL.Path) {
			http.ServeFile(w, r, filepath.Join(s.Dir, "index.html"))
			return
		}
		fs.ServeHTTP(w, r)
	})
}

func (s *Server) shouldFallback(urlPath string) bool {
	cleaned := path.Clean("/" + urlPath)
	if cleaned == "/" || strings.Contains(path.Base(cleaned), ".") {
		return false
	}
	_, err := os.Stat(filepath.Join(s.Dir, filepath.FromSlash(cleaned)))
	return os.IsNotExist(err)
}
