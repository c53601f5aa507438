package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/brandintel/internal/apperr"
)

// errorBody is the failure envelope. Details is whatever the coded error
// attached; the cause chain is logged, never serialized.
type errorBody struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	// A request that died because its end-to-end deadline fired is a 504
	// regardless of which subsystem reported first.
	if r.Context().Err() == context.DeadlineExceeded {
		ae = apperr.RequestTimeout()
	}
	if ae.Code == apperr.CodeInternal {
		zap.L().Error("server: request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", CorrelationID(r.Context())),
			zap.Error(err))
	}
	writeJSON(w, ae.HTTPStatus(), errorBody{
		Error:         ae.Code,
		Message:       ae.Message,
		Details:       ae.Details,
		CorrelationID: CorrelationID(r.Context()),
	})
}
