package server

import (
	"encoding/json"
	"net/http"

	"github.com/sessiond/sessiond/internal/apperrors"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps an apperrors.Kind to its HTTP status per the error
// handling design's propagation policy: every kind surfaces as a
// structured failure with a human summary, never a bare 500 unless the
// error isn't one of ours.
func writeError(w http.ResponseWriter, err error) {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindNotFound, apperrors.KindUnknownProvider:
		status = http.StatusNotFound
	case apperrors.KindAccessDenied, apperrors.KindCwdDenied:
		status = http.StatusForbidden
	case apperrors.KindAdmissionDenied, apperrors.KindBusy:
		status = http.StatusTooManyRequests
	case apperrors.KindInvalidState:
		status = http.StatusConflict
	case apperrors.KindTimeout, apperrors.KindPermissionTimeout:
		status = http.StatusGatewayTimeout
	case apperrors.KindNotReady:
		status = http.StatusServiceUnavailable
	case apperrors.KindTransportError, apperrors.KindRPCError, apperrors.KindProcessExit, apperrors.KindIOError, apperrors.KindQueueEnded:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

func callerID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}
