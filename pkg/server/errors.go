package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samikhalifabe/Pandorabox/pkg/gateway"
	"github.com/samikhalifabe/Pandorabox/pkg/types"
)

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

// statusFor maps an operation error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, types.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotConnected), errors.Is(err, types.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, types.ErrPairingTimeout), errors.Is(err, types.ErrSendTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrLaunch), errors.Is(err, gateway.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrSessionTerminated):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.log.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}
