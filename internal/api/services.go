package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ember-home/ember-core/internal/service"
)

// serviceCallRequest is the body of a service call.
type serviceCallRequest struct {
	EntityIDs []string       `json:"entity_ids"`
	Data      map[string]any `json:"data"`
}

// handleListServices returns the registered service names.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	if s.services == nil {
		writeJSON(w, http.StatusOK, map[string]any{"services": []string{}, "count": 0})
		return
	}
	names := s.services.Services()
	writeJSON(w, http.StatusOK, map[string]any{"services": names, "count": len(names)})
}

// handleCallService dispatches a service call.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	if s.services == nil {
		writeNotFound(w, "service registry not available")
		return
	}

	var req serviceCallRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	call := service.Call{
		Domain:    chi.URLParam(r, "domain"),
		Service:   chi.URLParam(r, "service"),
		EntityIDs: req.EntityIDs,
		Data:      req.Data,
	}

	if err := s.services.Call(r.Context(), call); err != nil {
		switch {
		case errors.Is(err, service.ErrServiceNotFound):
			writeNotFound(w, err.Error())
		case errors.Is(err, service.ErrInvalidCall):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain":  call.Domain,
		"service": call.Service,
		"result":  "ok",
	})
}
