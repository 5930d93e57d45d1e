package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleDownloadStream proxies a streaming.Download as chunked HTTP (§6
// "stream downloads"). Each chunk already arrived sized by the agent's own
// transport (§4.3), so it is written straight through with no intermediate
// buffering.
func (s *Server) handleDownloadStream(w http.ResponseWriter, r *http.Request) {
	handleID := chi.URLParam(r, "handleID")
	streamID := chi.URLParam(r, "streamID")

	ds, err := s.downloads.Get(handleID, streamID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if ds.Stream.TotalBytes > 0 {
		w.Header().Set("X-Total-Bytes", strconv.FormatInt(ds.Stream.TotalBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	ctx := r.Context()

	for {
		chunk, ok, streamErr := ds.Stream.Read(ctx)
		if !ok {
			if streamErr != nil {
				s.log.Warn().Err(streamErr).Str("stream_id", streamID).Msg("download stream ended with error")
			}
			return
		}
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
