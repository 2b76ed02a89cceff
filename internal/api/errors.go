package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"netdisk/internal/disk"
)

type ErrorResponse struct {
	Code    string `json:"code" example:"QUOTA_EXCEEDED"`
	Message string `json:"message" example:"storage quota exceeded"`
	// Shortfall is set for quota errors.
	Shortfall int64 `json:"shortfall,omitempty" example:"500"`
}

// statusClientClosedRequest reports a request the client abandoned before
// it completed.
const statusClientClosedRequest = 499

const codeRequestCancelled = "REQUEST_CANCELLED"

var statusByCode = map[disk.Code]int{
	disk.CodeNodeNotFound:       http.StatusNotFound,
	disk.CodeDirectoryNotFound:  http.StatusNotFound,
	disk.CodeShareNotFound:      http.StatusNotFound,
	disk.CodeAccountNotFound:    http.StatusNotFound,
	disk.CodeQuotaExceeded:      http.StatusInsufficientStorage,
	disk.CodeShareRevoked:       http.StatusGone,
	disk.CodeSelfShareRejected:  http.StatusBadRequest,
	disk.CodeTransferError:      http.StatusBadGateway,
	disk.CodeInvariantViolation: http.StatusInternalServerError,
	disk.CodeInternal:           http.StatusInternalServerError,
}

func statusFor(code disk.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError translates a storage error into its HTTP status. Internal
// failures are logged and reported without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request cancelled")
		writeJSON(w, statusClientClosedRequest, ErrorResponse{Code: codeRequestCancelled, Message: "Request was cancelled"})
		return
	}

	code := disk.CodeOf(err)
	status := statusFor(code)

	resp := ErrorResponse{Code: string(code), Message: err.Error()}
	var de *disk.Error
	if errors.As(err, &de) {
		if de.Msg != "" {
			resp.Message = de.Msg
		}
		resp.Shortfall = de.Shortfall()
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("code", string(code)).Msg("request failed")
		resp.Message = "Internal server error"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
