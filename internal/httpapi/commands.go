package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/audit"
)

type enqueueCommandRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleEnqueueCommand implements §6's "enqueue commands" endpoint, the REST
// entrypoint into internal/dispatch.Enqueue.
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	var req enqueueCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	principal := principalFrom(r)
	commandID, err := s.dispatcher.Enqueue(r.Context(), nodeID, req.Type, []byte(req.Payload), principal.Subject)
	if err != nil {
		s.audit.Record(r.Context(), audit.Event{
			Kind: "command", Name: "enqueue_rejected", ActorID: principal.Subject,
			TargetID: nodeID.String(), Success: false, Data: req.Type,
		})
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"command_id": commandID})
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, convErr := parsePositiveInt(q); convErr == nil {
			limit = n
		}
	}

	items, err := s.dispatcher.List(r.Context(), nodeID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "commandID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command id")
		return
	}
	item, err := s.dispatcher.GetStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "commandID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid command id")
		return
	}
	if err := s.dispatcher.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
