package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/store"
)

// handleTelemetryRollup implements §6/§4.6's "list telemetry" endpoint:
// avg/min/max/p95 per bucket per metric over a time range.
func (s *Server) handleTelemetryRollup(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	q := r.URL.Query()
	metric := q.Get("metric")
	if metric == "" {
		writeError(w, http.StatusBadRequest, "metric is required")
		return
	}

	gran := store.Granularity(q.Get("granularity"))
	if gran == "" {
		gran = store.GranularityRaw
	}

	to := time.Now()
	if v := q.Get("to"); v != "" {
		if parsed, perr := time.Parse(time.RFC3339, v); perr == nil {
			to = parsed
		}
	}
	from := to.Add(-24 * time.Hour)
	if v := q.Get("from"); v != "" {
		if parsed, perr := time.Parse(time.RFC3339, v); perr == nil {
			from = parsed
		}
	}

	buckets, err := s.telemetry.Rollup(r.Context(), nodeID, metric, from, to, gran)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}
