package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/agentgate/internal/memory"
)

type memorySaveRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Agent     string `json:"agent"`
}

type memorySaveResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Records   int    `json:"records"`
}

type memorySearchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Agent  string `json:"agent"`
	Limit  int    `json:"limit"`
}

type memorySearchResponse struct {
	Query    string          `json:"query"`
	Memories []memory.Result `json:"memories"`
	Count    int             `json:"count"`
	TenantID string          `json:"tenant_id"`
	UserID   string          `json:"user_id"`
}

func (s *Server) handleMemorySave(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := s.identity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	var req memorySaveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}
	if u := strings.TrimSpace(req.UserID); u != "" {
		userID = u
	}

	added, err := s.agents.SaveSessionToMemory(r.Context(), req.SessionID, tenantID, userID, req.Agent)
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, memorySaveResponse{
		Success:   true,
		Message:   "session saved to memory",
		SessionID: req.SessionID,
		TenantID:  tenantID,
		UserID:    userID,
		Records:   added,
	})
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := s.identity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	var req memorySearchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if req.Limit == 0 {
		req.Limit = memory.DefaultSearchLimit
	}
	if req.Limit < 1 || req.Limit > memory.MaxSearchLimit {
		respondError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
		return
	}
	if u := strings.TrimSpace(req.UserID); u != "" {
		userID = u
	}

	results, err := s.agents.SearchMemory(r.Context(), req.Query, tenantID, userID, req.Agent, req.Limit)
	if err != nil {
		s.respondAgentError(w, err)
		return
	}
	if results == nil {
		results = []memory.Result{}
	}
	respondJSON(w, http.StatusOK, memorySearchResponse{
		Query:    req.Query,
		Memories: results,
		Count:    len(results),
		TenantID: tenantID,
		UserID:   userID,
	})
}

func (s *Server) handleMemoryStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.agents.MemoryStatus()
	respondJSON(w, http.StatusOK, map[string]any{
		"enabled":     st.Enabled,
		"initialized": st.Initialized,
		"backend":     st.Backend,
		"auto_save":   st.Enabled && s.cfg.MemoryAutoSave,
	})
}
