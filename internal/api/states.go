package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ember-home/ember-core/internal/entity"
)

// handleListStates returns all entities, with optional query filters.
//
// Query parameters:
//   - platform: filter by platform (sensor, cover, device_tracker, ...)
//   - config_entry_id: filter by owning config entry
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if platform := r.URL.Query().Get("platform"); platform != "" {
		entities, err := s.entities.ListByPlatform(ctx, entity.Platform(platform))
		if err != nil {
			writeInternalError(w, "failed to list entities")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
		return
	}

	if entryID := r.URL.Query().Get("config_entry_id"); entryID != "" {
		entities, err := s.entities.ListByConfigEntry(ctx, entryID)
		if err != nil {
			writeInternalError(w, "failed to list entities")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
		return
	}

	entities, err := s.entities.List(ctx)
	if err != nil {
		writeInternalError(w, "failed to list entities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// handleGetState returns a single entity by ID.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	e, err := s.entities.Get(r.Context(), entityID)
	if err != nil {
		if entity.IsNotFound(err) {
			writeNotFound(w, "entity not found")
			return
		}
		writeInternalError(w, "failed to get entity")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleStateStats returns registry statistics.
func (s *Server) handleStateStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.entities.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":       stats.TotalEntities,
		"by_platform": stats.ByPlatform,
		"unavailable": stats.Unavailable,
	})
}
