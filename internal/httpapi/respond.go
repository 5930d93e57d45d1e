package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/manlab-io/manlab/internal/manlaberr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the §7 error taxonomy onto HTTP status codes, the
// one place the mapping is decided so handlers never guess a status by hand.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manlaberr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manlaberr.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, manlaberr.ErrPolicyViolation):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, manlaberr.ErrFeatureDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, manlaberr.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, manlaberr.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, manlaberr.ErrTransportFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, manlaberr.ErrBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
