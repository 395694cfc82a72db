package httpapi

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spsquared/PixSim-API/internal/assembly"
	"github.com/spsquared/PixSim-API/internal/pixel"
)

func (s *Server) handleController(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	format := r.URL.Query().Get("format")
	if path == "" || format == "" {
		http.Error(w, "missing path or format", http.StatusBadRequest)
		return
	}

	full, err := resolveUnder(s.controllersDir, path)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	src, err := os.ReadFile(full)
	if err != nil {
		http.Error(w, "unknown controller", http.StatusNotFound)
		return
	}

	compiled, err := s.compiler.Compile(string(src), pixel.DialectId(format))
	if err != nil {
		var syntaxErr *assembly.SyntaxError
		var pixelErr *assembly.PixelIdError
		if errors.As(err, &syntaxErr) || errors.As(err, &pixelErr) {
			http.Error(w, "unknown format", http.StatusNotFound)
			return
		}
		http.Error(w, "compile failed", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(compiled))
}

// resolveUnder joins dir and rel, rejecting any result that escapes dir —
// rel comes straight from the URL path.
func resolveUnder(dir, rel string) (string, error) {
	full := filepath.Join(dir, rel)
	if !strings.HasPrefix(full, filepath.Clean(dir)+string(filepath.Separator)) {
		return "", errors.New("httpapi: path escapes controllers dir")
	}
	return full, nil
}
