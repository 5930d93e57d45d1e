package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// handleCreateTerminal implements §6's "create sessions" endpoint for the
// terminal tool kind (§4.4).
func (s *Server) handleCreateTerminal(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	principal := principalFrom(r)
	h, err := s.terminals.Create(r.Context(), nodeID, s.cfg.ToolSessionDefaultTTL, principal.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"handle_id": h.ID, "expires_at": h.ExpiresAt})
}

func (s *Server) handleCloseTerminal(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	s.terminals.Close(r.Context(), chi.URLParam(r, "handleID"), principal.Subject)
	w.WriteHeader(http.StatusNoContent)
}

// handleTerminalStream streams proxied terminal output as newline-delimited
// JSON until the session closes or the client disconnects, mirroring
// handleDownloadStream's flush-per-chunk approach.
func (s *Server) handleTerminalStream(w http.ResponseWriter, r *http.Request) {
	handleID := chi.URLParam(r, "handleID")
	if _, err := s.terminals.TryGet(handleID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	ch := s.terminals.Subscribe(handleID)
	defer s.terminals.Unsubscribe(handleID)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(chunk); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

type createPolicySessionRequest struct {
	PolicyID uuid.UUID `json:"policy_id"`
}

func (s *Server) handleCreateLogViewer(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req createPolicySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	h, err := s.logViewers.Create(r.Context(), nodeID, req.PolicyID, s.cfg.ToolSessionDefaultTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"handle_id": h.ID, "expires_at": h.ExpiresAt})
}

func (s *Server) handleCreateFileBrowser(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req createPolicySessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	h, err := s.fileBrowsers.Create(r.Context(), nodeID, req.PolicyID, s.cfg.ToolSessionDefaultTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"handle_id": h.ID, "expires_at": h.ExpiresAt})
}

// handleCreateFileBrowserSystem bypasses policy entirely (§4.4 "system"
// flavor) — gated by requireAdmin in the router.
func (s *Server) handleCreateFileBrowserSystem(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	h, err := s.fileBrowsers.CreateSystem(nodeID, s.cfg.ToolSessionDefaultTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"handle_id": h.ID, "expires_at": h.ExpiresAt})
}

type createDownloadRequest struct {
	VirtualPath string `json:"virtual_path"`
	StartOffset int64  `json:"start_offset"`
	EndOffset   int64  `json:"end_offset"`
	TotalBytes  int64  `json:"total_bytes"`
}

func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "nodeID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	var req createDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	ds, err := s.downloads.Create(nodeID, req.VirtualPath, req.StartOffset, req.EndOffset, req.TotalBytes, s.cfg.ToolSessionDefaultTTL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"handle_id": ds.Handle.ID,
		"stream_id": ds.Stream.ID,
		"status":    ds.Status(),
	})
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	s.downloads.Cancel(chi.URLParam(r, "handleID"), chi.URLParam(r, "streamID"))
	w.WriteHeader(http.StatusNoContent)
}
