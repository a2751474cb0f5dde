package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ember-home/ember-core/internal/configentry"
)

// entryResponse is the external shape of a config entry. Data is
// withheld because it carries credentials.
type entryResponse struct {
	ID       string             `json:"id"`
	Domain   string             `json:"domain"`
	Title    string             `json:"title"`
	Source   configentry.Source `json:"source"`
	State    configentry.State  `json:"state"`
	UniqueID *string            `json:"unique_id,omitempty"`
	Options  map[string]any     `json:"options,omitempty"`
	SetupErr *string            `json:"setup_error,omitempty"`
}

func toEntryResponse(e *configentry.Entry) entryResponse {
	return entryResponse{
		ID:       e.ID,
		Domain:   e.Domain,
		Title:    e.Title,
		Source:   e.Source,
		State:    e.State,
		UniqueID: e.UniqueID,
		Options:  e.Options,
		SetupErr: e.SetupErr,
	}
}

// handleListEntries returns all config entries.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list config entries")
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for idx := range entries {
		out = append(out, toEntryResponse(&entries[idx]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out, "count": len(out)})
}

// handleGetEntry returns a single config entry.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := s.entries.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, configentry.ErrNotFound) {
			writeNotFound(w, "config entry not found")
			return
		}
		writeInternalError(w, "failed to get config entry")
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(e))
}

// handleDeleteEntry unloads and removes a config entry together with
// its entities.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	err := s.entries.Remove(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, configentry.ErrNotFound) {
			writeNotFound(w, "config entry not found")
			return
		}
		writeInternalError(w, "failed to remove config entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "removed"})
}

// handleReloadEntry unloads and sets up a config entry again.
func (s *Server) handleReloadEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.entries.Reload(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, configentry.ErrNotFound):
			writeNotFound(w, "config entry not found")
		case errors.Is(err, configentry.ErrUnknownDomain):
			writeConflict(w, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	e, err := s.entries.Get(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to get config entry")
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(e))
}

// handleUpdateEntryOptions replaces an entry's options and reloads it.
func (s *Server) handleUpdateEntryOptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var options map[string]any
	if err := json.NewDecoder(r.Body).Decode(&options); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.entries.UpdateOptions(r.Context(), id, options); err != nil {
		if errors.Is(err, configentry.ErrNotFound) {
			writeNotFound(w, "config entry not found")
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	e, err := s.entries.Get(r.Context(), id)
	if err != nil {
		writeInternalError(w, "failed to get config entry")
		return
	}
	writeJSON(w, http.StatusOK, toEntryResponse(e))
}
