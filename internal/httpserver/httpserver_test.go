package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
)

func testAssets() fstest.MapFS {
	return fstest.MapFS{
		"index.html":        {Data: []byte("<html>root</html>")},
		"assets/app.js":     {Data: []byte("console.log(1)")},
		"assets/app.js.br":  {Data: []byte("br-compressed")},
	}
}

func TestRobotsTxt(t *testing.T) {
	h := New(testAssets())
	req := httptest.NewRequest(http.MethodGet, "/robots.txt", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != robotsBody {
		t.Fatalf("unexpected robots.txt body: %q", w.Body.String())
	}
}

func TestAssetsGetLongLivedCacheControl(t *testing.T) {
	h := New(testAssets())
	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	cc := w.Header().Get("Cache-Control")
	if cc != "public, max-age=31536000, immutable" {
		t.Fatalf("unexpected cache-control for /assets/: %q", cc)
	}
}

func TestUnknownPathFallsBackToIndex(t *testing.T) {
	h := New(testAssets())
	req := httptest.NewRequest(http.MethodGet, "/some/client-route", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected SPA fallback to serve 200, got %d", w.Code)
	}
	if w.Body.String() != "<html>root</html>" {
		t.Fatalf("expected index.html fallback body, got %q", w.Body.String())
	}
}

func TestBrotliVariantPreferredWhenAccepted(t *testing.T) {
	h := New(testAssets())
	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("expected br content-encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	if w.Body.String() != "br-compressed" {
		t.Fatalf("expected br variant body, got %q", w.Body.String())
	}
}
