package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ember-home/ember-core/internal/configentry"
	"github.com/ember-home/ember-core/internal/flow"
)

// startFlowRequest begins a configuration flow for a domain.
type startFlowRequest struct {
	Domain string `json:"domain"`
}

// handleStartFlow starts a configuration flow and returns its first step.
func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeNotFound(w, "configuration flows not available")
		return
	}

	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Domain == "" {
		writeBadRequest(w, "domain is required")
		return
	}

	status, err := s.flows.Start(r.Context(), req.Domain, configentry.SourceUser)
	if err != nil {
		if errors.Is(err, flow.ErrUnknownHandler) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStepFlow submits user input to an in-progress flow.
func (s *Server) handleStepFlow(w http.ResponseWriter, r *http.Request) {
	if s.flows == nil {
		writeNotFound(w, "configuration flows not available")
		return
	}

	var input map[string]any
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	status, err := s.flows.Step(r.Context(), chi.URLParam(r, "flowID"), input)
	if err != nil {
		if errors.Is(err, flow.ErrFlowNotFound) {
			writeNotFound(w, "flow not found or expired")
			return
		}
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}
