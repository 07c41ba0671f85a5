package web

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHandlerServesFilesAndFallsBack(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>board</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	server := &Server{Dir: dir}
	handler := server.Handler()

	cases := []struct {
		path string
		want string
	}{
		{"/", "<html>board</html>"},
		{"/app.js", "console.log(1)"},
		{"/agents/ceo-agent", "<html>board</html>"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", tc.path, nil))
		if rec.Code != 200 {
			t.Fatalf("%s: status %d", tc.path, rec.Code)
		}
		if rec.Body.String() != tc.want {
			t.Fatalf("%s: body %q", tc.path, rec.Body.String())
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
			t.Fatalf("%s: cache-control %q", tc.path, cc)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/missing.css", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 for missing asset, got %d", rec.Code)
	}
}
