package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

type statusResponse struct {
	Active   bool  `json:"active"`
	Starting bool  `json:"starting"`
	Crashed  bool  `json:"crashed"`
	Time     int64 `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Active:   !s.broker.Crashed(),
		Starting: s.starting.Load(),
		Crashed:  s.broker.Crashed(),
		Time:     time.Now().UnixMilli(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
