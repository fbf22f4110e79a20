package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/agentgate/internal/brain"
	"github.com/ent0n29/agentgate/internal/engine"
	"github.com/ent0n29/agentgate/internal/memory"
	"github.com/ent0n29/agentgate/internal/observability"
	"github.com/ent0n29/agentgate/internal/policy"
	"github.com/ent0n29/agentgate/internal/runner"
	"github.com/ent0n29/agentgate/internal/scope"
	"github.com/ent0n29/agentgate/internal/session"
	"github.com/ent0n29/agentgate/internal/sessionstore"
)

const (
	DefaultTenantID = "default"
	AnonymousUserID = "anonymous"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrQuotaExceeded  = errors.New("tenant turn quota exceeded")
	ErrMemoryDisabled = errors.New("long-term memory is not enabled")
	ErrMessageBlocked = errors.New("message rejected by policy")
)

// Chat event types.
const (
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// ChatRequest addresses one message to an agent. Empty fields take the
// manager defaults.
type ChatRequest struct {
	SessionID string
	Message   string
	AgentName string
	TenantID  string
	UserID    string
}

// ChatEvent is one item of a chat stream. Err is set on error events so
// transports can map the cause.
type ChatEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Agent   string `json:"agent"`
	Err     error  `json:"-"`
}

// AgentInfo describes a registered agent.
type AgentInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Model        string   `json:"model,omitempty"`
	Capabilities []string `json:"capabilities"`
	Status       string   `json:"status"`
}

// Config wires a Manager.
type Config struct {
	AgentsDir     string
	DefaultAgent  string
	DefaultTenant string

	Store          sessionstore.Store
	SessionOptions []session.Option
	Brain          brain.Adapter

	Memory         memory.Service
	MemoryEnabled  bool
	MemoryAutoSave bool

	TurnTimeout                 time.Duration
	MaxConcurrentTurnsPerTenant int
	ScreenMessages              bool

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

type registeredAgent struct {
	def    Definition
	runner *runner.Runner
}

// Manager is the registry of agents and the entry point for chat turns.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	quota  *tenantQuota

	mu     sync.RWMutex
	agents map[string]*registeredAgent
}

func NewManager(cfg Config) *Manager {
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = DefaultTenantID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "agents"),
		quota:  newTenantQuota(cfg.MaxConcurrentTurnsPerTenant),
		agents: make(map[string]*registeredAgent),
	}
}

// Initialize discovers and registers every agent under AgentsDir and
// initializes long-term memory when enabled.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.cfg.AgentsDir != "" {
		names, err := Discover(m.cfg.AgentsDir, m.logger)
		if err != nil {
			return err
		}
		m.logger.Info("discovered agents", "count", len(names), "agents", names)
		for _, name := range names {
			def, err := LoadDefinition(m.cfg.AgentsDir, name)
			if err != nil {
				return fmt.Errorf("load agent %s: %w", name, err)
			}
			if err := m.Register(ctx, name, def); err != nil {
				return err
			}
		}
	}

	if m.cfg.MemoryEnabled {
		if m.cfg.Memory == nil {
			return fmt.Errorf("%w: no memory service configured", ErrMemoryDisabled)
		}
		if err := m.cfg.Memory.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize memory: %w", err)
		}
	}
	return nil
}

// Register builds and initializes a runner for name, replacing any agent
// already registered under it.
func (m *Manager) Register(ctx context.Context, name string, def Definition) error {
	if name == "" {
		return errors.New("register agent: empty name")
	}
	if def.RootAgent.Name == "" {
		def.RootAgent.Name = name
	}
	r := runner.New(runner.Config{
		AppName:   name,
		AgentName: def.RootAgent.Name,
		Agent: engine.Agent{
			Name:        def.RootAgent.Name,
			Instruction: def.RootAgent.Instruction,
			Model:       def.RootAgent.Model,
		},
		Brain:          m.cfg.Brain,
		Store:          m.cfg.Store,
		SessionOptions: m.cfg.SessionOptions,
		Timeout:        m.cfg.TurnTimeout,
		Logger:         m.cfg.Logger,
		Metrics:        m.cfg.Metrics,
	})
	if err := r.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize agent %s: %w", name, err)
	}

	m.mu.Lock()
	prev := m.agents[name]
	m.agents[name] = &registeredAgent{def: def, runner: r}
	m.mu.Unlock()

	if prev != nil {
		_ = prev.runner.Shutdown(ctx)
		m.logger.Info("agent reloaded", "agent", name)
	} else {
		m.logger.Info("agent registered", "agent", name)
	}
	return nil
}

func (m *Manager) lookup(name string) (*registeredAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[name]
	return a, ok
}

// Names returns the registered agent names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.agents))
	for name := range m.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Agents() []AgentInfo {
	names := m.Names()
	out := make([]AgentInfo, 0, len(names))
	for _, name := range names {
		a, ok := m.lookup(name)
		if !ok {
			continue
		}
		status := "ready"
		if !a.runner.HealthCheck().Healthy {
			status = "unavailable"
		}
		caps := a.def.RootAgent.Tools
		if caps == nil {
			caps = []string{}
		}
		out = append(out, AgentInfo{
			Name:         name,
			Description:  a.def.RootAgent.Description,
			Model:        a.def.RootAgent.Model,
			Capabilities: caps,
			Status:       status,
		})
	}
	return out
}

// Health reports every runner's health keyed by agent name.
func (m *Manager) Health() map[string]runner.HealthStatus {
	out := make(map[string]runner.HealthStatus)
	for _, name := range m.Names() {
		if a, ok := m.lookup(name); ok {
			out[name] = a.runner.HealthCheck()
		}
	}
	return out
}

func (m *Manager) withDefaults(req ChatRequest) ChatRequest {
	if req.AgentName == "" {
		req.AgentName = m.cfg.DefaultAgent
	}
	if req.TenantID == "" {
		req.TenantID = m.cfg.DefaultTenant
	}
	if req.UserID == "" {
		req.UserID = AnonymousUserID
	}
	return req
}

// StreamChat runs one turn and reports it through emit as chunk events
// followed by a complete event. Failures become a single error event. The
// returned error is only ever one returned by emit or the cancellation of
// ctx.
func (m *Manager) StreamChat(ctx context.Context, req ChatRequest, emit func(ChatEvent) error) error {
	req = m.withDefaults(req)
	errorEvent := func(err error, content string) error {
		return emit(ChatEvent{Type: EventError, Content: content, Agent: req.AgentName, Err: err})
	}

	a, ok := m.lookup(req.AgentName)
	if !ok {
		m.logger.Warn("chat for unknown agent", "agent", req.AgentName, "tenant_id", req.TenantID)
		return errorEvent(ErrAgentNotFound, fmt.Sprintf("agent '%s' not found, available: [%s]", req.AgentName, strings.Join(m.Names(), ", ")))
	}

	if m.cfg.ScreenMessages {
		decision := policy.ScreenMessage(req.Message)
		if decision.Blocked {
			m.logger.Warn("chat message blocked", "agent", req.AgentName, "tenant_id", req.TenantID, "reason", decision.Reason)
			return errorEvent(ErrMessageBlocked, "Error: "+decision.Reason)
		}
		if decision.Risk != policy.RiskLow {
			m.logger.Info("chat message screened", "agent", req.AgentName, "tenant_id", req.TenantID, "risk", decision.Risk)
		}
	}

	release, ok := m.quota.acquire(req.TenantID)
	if !ok {
		m.logger.Warn("tenant quota exceeded", "tenant_id", req.TenantID, "limit", m.quota.limit)
		return errorEvent(ErrQuotaExceeded, fmt.Sprintf("Error: tenant '%s' has too many turns in flight", req.TenantID))
	}
	defer release()

	var emitErr error
	err := a.runner.Stream(ctx, runner.Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		TenantID:  req.TenantID,
		Message:   req.Message,
	}, func(chunk string) error {
		if e := emit(ChatEvent{Type: EventChunk, Content: chunk, Agent: req.AgentName}); e != nil {
			emitErr = e
			return runner.ErrStopStream
		}
		return nil
	})
	if emitErr != nil {
		return emitErr
	}
	if err != nil {
		m.logger.Error("agent execution error", "agent", req.AgentName, "tenant_id", req.TenantID, "session_id", req.SessionID, "error", err)
		return errorEvent(err, "Error: "+err.Error())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := emit(ChatEvent{Type: EventComplete, Agent: req.AgentName}); err != nil {
		return err
	}

	if m.cfg.MemoryEnabled && m.cfg.MemoryAutoSave {
		if _, err := m.saveToMemory(ctx, a, req.AgentName, req.TenantID, req.SessionID, req.UserID); err != nil {
			m.logger.Warn("auto-save to memory failed", "agent", req.AgentName, "tenant_id", req.TenantID, "session_id", req.SessionID, "error", err)
		}
	}
	return nil
}

func (m *Manager) resolve(agentName string) (string, *registeredAgent, error) {
	if agentName == "" {
		agentName = m.cfg.DefaultAgent
	}
	a, ok := m.lookup(agentName)
	if !ok {
		return agentName, nil, fmt.Errorf("%w: %q", ErrAgentNotFound, agentName)
	}
	return agentName, a, nil
}

// SaveSessionToMemory stores the session in the agent's memory scope. Unlike
// the auto-save after a chat turn, failures are returned.
func (m *Manager) SaveSessionToMemory(ctx context.Context, sessionID, tenantID, userID, agentName string) (int, error) {
	if !m.cfg.MemoryEnabled || m.cfg.Memory == nil {
		return 0, ErrMemoryDisabled
	}
	if tenantID == "" {
		tenantID = m.cfg.DefaultTenant
	}
	if userID == "" {
		userID = AnonymousUserID
	}
	name, a, err := m.resolve(agentName)
	if err != nil {
		return 0, err
	}
	return m.saveToMemory(ctx, a, name, tenantID, sessionID, userID)
}

func (m *Manager) saveToMemory(ctx context.Context, a *registeredAgent, agentName, tenantID, sessionID, userID string) (int, error) {
	sessions, err := a.runner.Sessions()
	if err != nil {
		return 0, err
	}
	composite, err := scope.Scope(tenantID, sessionID)
	if err != nil {
		return 0, err
	}
	sess, err := sessions.Get(ctx, &session.GetRequest{AppName: agentName, UserID: userID, SessionID: composite})
	if err != nil {
		return 0, err
	}
	return m.cfg.Memory.AddSessionToMemory(ctx, sess, scope.MemoryScope(tenantID, agentName))
}

// SearchMemory searches the agent's memory scope for the user.
func (m *Manager) SearchMemory(ctx context.Context, query, tenantID, userID, agentName string, limit int) ([]memory.Result, error) {
	if !m.cfg.MemoryEnabled || m.cfg.Memory == nil {
		return nil, ErrMemoryDisabled
	}
	if tenantID == "" {
		tenantID = m.cfg.DefaultTenant
	}
	if userID == "" {
		userID = AnonymousUserID
	}
	name, _, err := m.resolve(agentName)
	if err != nil {
		return nil, err
	}
	return m.cfg.Memory.SearchMemory(ctx, query, scope.MemoryScope(tenantID, name), userID, limit)
}

// MemoryStatus reports whether memory is enabled and ready.
func (m *Manager) MemoryStatus() memory.Status {
	if !m.cfg.MemoryEnabled || m.cfg.Memory == nil {
		return memory.Status{}
	}
	return m.cfg.Memory.Status()
}

// ListSessions returns the unscoped session ids the tenant has stored.
func (m *Manager) ListSessions(ctx context.Context, tenantID, agentName string) ([]string, error) {
	if tenantID == "" {
		tenantID = m.cfg.DefaultTenant
	}
	name, a, err := m.resolve(agentName)
	if err != nil {
		return nil, err
	}
	sessions, err := a.runner.Sessions()
	if err != nil {
		return nil, err
	}
	listed, err := sessions.List(ctx, &session.ListRequest{AppName: name, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(listed))
	for _, s := range listed {
		if _, id, err := scope.Unscope(s.ID); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteSession removes a tenant's session.
func (m *Manager) DeleteSession(ctx context.Context, tenantID, sessionID, agentName string) error {
	if tenantID == "" {
		tenantID = m.cfg.DefaultTenant
	}
	name, a, err := m.resolve(agentName)
	if err != nil {
		return err
	}
	sessions, err := a.runner.Sessions()
	if err != nil {
		return err
	}
	composite, err := scope.Scope(tenantID, sessionID)
	if err != nil {
		return err
	}
	return sessions.Delete(ctx, &session.DeleteRequest{AppName: name, SessionID: composite})
}

// Shutdown stops every runner and closes memory.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	agents := m.agents
	m.agents = make(map[string]*registeredAgent)
	m.mu.Unlock()

	var errs []error
	for name, a := range agents {
		if err := a.runner.Shutdown(ctx); err != nil {
			m.logger.Error("shutdown agent failed", "agent", name, "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("agent shut down", "agent", name)
	}
	if m.cfg.MemoryEnabled && m.cfg.Memory != nil {
		if err := m.cfg.Memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close memory: %w", err))
		}
	}
	return errors.Join(errs...)
}

type tenantQuota struct {
	limit  int
	mu     sync.Mutex
	active map[string]int
}

func newTenantQuota(limit int) *tenantQuota {
	return &tenantQuota{limit: limit, active: make(map[string]int)}
}

// acquire reserves a turn slot for tenantID. A limit of zero or less is
// unlimited.
func (q *tenantQuota) acquire(tenantID string) (func(), bool) {
	if q.limit <= 0 {
		return func() {}, true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[tenantID] >= q.limit {
		return nil, false
	}
	q.active[tenantID]++
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.active[tenantID]--
			if q.active[tenantID] <= 0 {
				delete(q.active, tenantID)
			}
		})
	}, true
}
