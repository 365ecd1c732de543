package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Tutortoise/vision-service/inference"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func statusFor(kind inference.Kind) int {
	switch kind {
	case inference.KindMissingInput, inference.KindBadRequest, inference.KindUnreadableImage:
		return http.StatusBadRequest
	case inference.KindFetchFailure:
		return http.StatusBadGateway
	case inference.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendError logs err with the request and writes its client-safe message.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := inference.KindOf(err)
	status := statusFor(kind)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed",
		"request_id", RequestID(r.Context()),
		"path", r.URL.Path,
		"kind", kind.String(),
		"status", status,
		"error", err,
	)

	sendErrorResponse(w, inference.MessageOf(err), status)
}

func sendErrorResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}
