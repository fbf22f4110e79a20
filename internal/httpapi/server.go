package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentgate/internal/agents"
	"github.com/ent0n29/agentgate/internal/config"
	"github.com/ent0n29/agentgate/internal/memory"
	"github.com/ent0n29/agentgate/internal/observability"
	"github.com/ent0n29/agentgate/internal/runner"
	"github.com/ent0n29/agentgate/internal/scope"
)

const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"
)

// AgentService is the agent manager surface the HTTP API drives.
type AgentService interface {
	Agents() []agents.AgentInfo
	Health() map[string]runner.HealthStatus
	StreamChat(ctx context.Context, req agents.ChatRequest, emit func(agents.ChatEvent) error) error
	ListSessions(ctx context.Context, tenantID, agentName string) ([]string, error)
	DeleteSession(ctx context.Context, tenantID, sessionID, agentName string) error
	SaveSessionToMemory(ctx context.Context, sessionID, tenantID, userID, agentName string) (int, error)
	SearchMemory(ctx context.Context, query, tenantID, userID, agentName string, limit int) ([]memory.Result, error)
	MemoryStatus() memory.Status
}

type Server struct {
	cfg      config.Config
	agents   AgentService
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, agentService AgentService, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = agents.DefaultTenantID
	}
	return &Server{
		cfg:     cfg,
		agents:  agentService,
		metrics: metrics,
		logger:  logger.With("component", "httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the same origin unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(s.auditLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/agents", s.handleListAgents)
	r.Post("/v1/agents/chat", s.handleChat)
	r.Get("/v1/agents/chat/ws", s.handleChatWS)

	r.Get("/v1/sessions", s.handleListSessions)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)

	r.Post("/v1/memory/save", s.handleMemorySave)
	r.Post("/v1/memory/search", s.handleMemorySearch)
	r.Get("/v1/memory/status", s.handleMemoryStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": len(s.agents.Agents()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	health := s.agents.Health()
	ready := len(health) > 0
	for _, h := range health {
		if !h.Healthy {
			ready = false
		}
	}
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status": status,
		"agents": health,
		"memory": s.agents.MemoryStatus(),
	})
}

// identity resolves the caller's tenant and user from request headers.
func (s *Server) identity(r *http.Request) (tenantID, userID string, err error) {
	tenantID = strings.TrimSpace(r.Header.Get(headerTenantID))
	if tenantID == "" {
		tenantID = s.cfg.DefaultTenant
	}
	if strings.Contains(tenantID, scope.Separator) {
		return "", "", errors.New("tenant id must not contain " + scope.Separator)
	}
	userID = strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		userID = agents.AnonymousUserID
	}
	return tenantID, userID, nil
}

// securityHeaders sets conservative response headers on every route.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Content-Security-Policy", "default-src 'self'; connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// auditLog records one structured line per request.
func (s *Server) auditLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		tenantID, userID, _ := s.identity(r)
		s.logger.Info("api request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
			"tenant_id", tenantID,
			"user_id", userID,
			"remote_addr", r.RemoteAddr,
		)
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
