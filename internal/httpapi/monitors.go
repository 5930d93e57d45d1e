package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// The §4.5 monitor config families are read-only from the REST façade, per
// spec.md's non-goal on "configuration-key ... schema" — listing uses each
// family's enabled-only query, matching what the scheduler itself bootstraps.

func (s *Server) handleListHTTPMonitors(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.monitors.ListEnabledHTTPConfigs(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (s *Server) handleListTrafficMonitors(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.monitors.ListEnabledTrafficConfigs(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (s *Server) handleListNetworkToolMonitors(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.monitors.ListEnabledNetworkToolConfigs(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (s *Server) handleListServiceMonitors(w http.ResponseWriter, r *http.Request) {
	byNode, err := s.monitors.ListEnabledServiceMonitorsByNode(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, byNode)
}

func (s *Server) handleTriggerHTTPMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "configID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config id")
		return
	}
	s.scheduler.TriggerHTTP(r.Context(), id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTriggerTrafficMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "configID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config id")
		return
	}
	s.scheduler.TriggerTraffic(r.Context(), id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTriggerNetworkToolMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "configID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid config id")
		return
	}
	s.scheduler.TriggerNetworkTool(r.Context(), id)
	w.WriteHeader(http.StatusAccepted)
}
