package rest

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// maxBatchSize bounds one /v1/authorize/batch call
const maxBatchSize = 100

// authorizeHandler handles POST /v1/authorize
func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	attrs, ok := s.decodeContext(w, r)
	if !ok {
		return
	}

	result := s.engine.Evaluate(r.Context(), attrs)
	if result.Error != nil {
		s.logger.Debug("Authorization failed closed",
			zap.String("code", result.Error.Code),
			zap.String("message", result.Error.Message),
		)
	}
	WriteData(w, result)
}

// authorizeBatchHandler handles POST /v1/authorize/batch. Results keep the
// order of the submitted contexts.
func (s *Server) authorizeBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Contexts) == 0 {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "contexts cannot be empty")
		return
	}
	if len(req.Contexts) > maxBatchSize {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("at most %d contexts per batch, got %d", maxBatchSize, len(req.Contexts)))
		return
	}

	WriteData(w, s.engine.EvaluateBatch(r.Context(), req.Contexts))
}
