package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/engine"
)

// APIError is the standard error response.
type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

var (
	errRateLimited  = &engine.Rejection{Code: "RATE_LIMITED", Reason: "too many requests"}
	errUserRequired = &engine.Rejection{Code: "USER_REQUIRED", Reason: "user id required"}
)

func writeError(w http.ResponseWriter, code int, errMsg, codeStr string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(APIError{
		Error:   errMsg,
		Code:    codeStr,
		Message: errMsg,
	})
}

// rejectionStatus maps a rejection code to its HTTP status.
func rejectionStatus(code string) int {
	switch code {
	case "INVALID_AMOUNT", "INVALID_CLIENT_SEED", "INSUFFICIENT_BALANCE":
		return http.StatusBadRequest
	case "USER_REQUIRED":
		return http.StatusUnauthorized
	case "NO_ACTIVE_BET":
		return http.StatusNotFound
	case "RATE_LIMITED":
		return http.StatusTooManyRequests
	case "ENGINE_STALLED":
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

// writeCommandError reports a rejection with its stable code; anything else
// is an internal failure and its text is not exposed.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	var rej *engine.Rejection
	if errors.As(err, &rej) {
		writeError(w, rejectionStatus(rej.Code), rej.Reason, rej.Code)
		return
	}
	s.log.Errorw("command failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL")
}
