package api

import (
	"net/http"

	"github.com/dgallion1/docingest/internal/embedding"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	store, err := s.service.StoreStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	var latency embedding.StatsSnapshot
	if s.latency != nil {
		latency = s.latency.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store":       store,
		"queue_depth": s.jobs.QueueDepth(),
		"pools":       s.service.PoolStats(),
		"embedding":   latency,
	})
}
