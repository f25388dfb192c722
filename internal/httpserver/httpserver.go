// Package httpserver implements the external-collaborator HTTP surface
// (spec §6): static bundle delivery with pre-compressed variant
// preference, /robots.txt, and cache-control tuned per path. Not part of
// the core (spec §1).
package httpserver

import (
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const robotsBody = "User-agent: *\nDisallow:\n"

// New builds the static-file-serving router. assets is the embedded (or
// on-disk) single-page-application bundle; its root must contain index.html
// and an assets/ subdirectory.
func New(assets fs.FS) http.Handler {
	r := chi.NewRouter()

	r.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(robotsBody))
	})

	fileServer := http.FileServer(http.FS(assets))
	r.Handle("/*", compressedAssetHandler(assets, fileServer))

	return r
}

// compressedAssetHandler prefers a .br or .gz sibling of the requested
// path when the client's Accept-Encoding allows it, and sets Cache-Control
// based on whether the path is under /assets/ (spec §6).
func compressedAssetHandler(assets fs.FS, fallback http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		setCacheControl(w, r.URL.Path)

		accept := r.Header.Get("Accept-Encoding")
		if strings.Contains(accept, "br") && serveVariant(w, r, assets, path+".br", "br") {
			return
		}
		if strings.Contains(accept, "gzip") && serveVariant(w, r, assets, path+".gz", "gzip") {
			return
		}

		if _, err := fs.Stat(assets, path); err != nil {
			// SPA fallback: unknown paths resolve to index.html so
			// client-side routing can take over. The rewrite targets "/"
			// because http.FileServer redirects "/index.html" to "./".
			r2 := new(http.Request)
			*r2 = *r
			u := *r.URL
			u.Path = "/"
			r2.URL = &u
			fallback.ServeHTTP(w, r2)
			return
		}
		fallback.ServeHTTP(w, r)
	})
}

func serveVariant(w http.ResponseWriter, r *http.Request, assets fs.FS, variantPath, encoding string) bool {
	f, err := assets.Open(variantPath)
	if err != nil {
		return false
	}
	defer f.Close()

	seeker, ok := f.(io.ReadSeeker)
	if !ok {
		return false
	}
	info, err := fs.Stat(assets, variantPath)
	if err != nil {
		return false
	}

	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
	http.ServeContent(w, r, variantPath, info.ModTime(), seeker)
	return true
}

func contentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".js"):
		return "application/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		return "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".html"), path == "/":
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".json"):
		return "application/json; charset=utf-8"
	case strings.HasSuffix(path, ".svg"):
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func setCacheControl(w http.ResponseWriter, path string) {
	if strings.HasPrefix(path, "/assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
}
