package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/spsquared/PixSim-API/internal/pixel"
)

func (s *Server) handleMapsList(w http.ResponseWriter, r *http.Request) {
	gameMode := r.PathValue("gameMode")
	ids := s.catalog.List(gameMode)
	if len(ids) == 0 {
		http.Error(w, "no maps for game mode", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ids)
}

func (s *Server) handleMapGet(w http.ResponseWriter, r *http.Request) {
	gameMode := r.PathValue("gameMode")
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if gameMode == "" || id == "" || format == "" {
		http.Error(w, "missing gameMode, id or format", http.StatusBadRequest)
		return
	}
	if !s.catalog.Has(gameMode, id) {
		http.Error(w, "unknown map", http.StatusNotFound)
		return
	}
	encoded := s.catalog.Get(gameMode, id, pixel.DialectId(format))
	if encoded == nil {
		http.Error(w, "unknown format", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(encoded)
}
