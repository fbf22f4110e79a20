package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/agentgate/internal/agents"
)

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.identity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	ids, err := s.agents.ListSessions(r.Context(), tenantID, agent)
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"sessions":  ids,
		"count":     len(ids),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	tenantID, _, err := s.identity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	if err := s.agents.DeleteSession(r.Context(), tenantID, id, agent); err != nil {
		s.respondAgentError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondAgentError maps manager errors that are returned rather than
// streamed.
func (s *Server) respondAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		respondError(w, http.StatusNotFound, "agent_not_found", err.Error())
	case errors.Is(err, agents.ErrMemoryDisabled):
		respondError(w, http.StatusServiceUnavailable, "memory_disabled", err.Error())
	default:
		s.logger.Error("agent request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
