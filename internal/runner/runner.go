// Package runner executes agent turns on behalf of many tenants over one
// shared session store. Callers pass unscoped session ids; the runner
// scopes them before touching storage or the engine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ent0n29/agentgate/internal/brain"
	"github.com/ent0n29/agentgate/internal/engine"
	"github.com/ent0n29/agentgate/internal/observability"
	"github.com/ent0n29/agentgate/internal/scope"
	"github.com/ent0n29/agentgate/internal/session"
	"github.com/ent0n29/agentgate/internal/sessionstore"
)

// DefaultTimeout bounds one turn when Config.Timeout is unset.
const DefaultTimeout = 5 * time.Minute

var (
	ErrNotInitialized     = errors.New("runner not initialized")
	ErrAlreadyInitialized = errors.New("runner already initialized")
	// ErrStopStream may be returned by a Stream chunk callback to end the
	// stream early without reporting an error.
	ErrStopStream = errors.New("stop stream")
)

// ExecutionError reports a failed turn with the context needed to trace it.
type ExecutionError struct {
	TenantID  string
	SessionID string
	AgentName string
	Op        string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed for agent %q (tenant %q, session %q): %v", e.Op, e.AgentName, e.TenantID, e.SessionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Config wires a Runner. Either Engine or Brain must be set; either Sessions
// or Store must be set.
type Config struct {
	AppName   string
	AgentName string
	Agent     engine.Agent

	Engine engine.Engine
	Brain  brain.Adapter

	Store          sessionstore.Store
	Sessions       session.Service
	SessionOptions []session.Option

	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Request is one user message addressed to a tenant's session.
type Request struct {
	UserID    string
	SessionID string
	TenantID  string
	Message   string
	Context   map[string]any
}

// Response carries the final reply of a turn. SessionID is unscoped.
type Response struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	TenantID  string         `json:"tenant_id"`
	Metadata  map[string]any `json:"metadata"`
}

type HealthStatus struct {
	Healthy bool           `json:"healthy"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

type Runner struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	engine   engine.Engine
	sessions session.Service
	ready    bool

	executions atomic.Int64
	errors     atomic.Int64
}

func New(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.AgentName == "" {
		cfg.AgentName = cfg.AppName
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = cfg.AgentName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.With("agent", cfg.AgentName, "app_name", cfg.AppName),
	}
}

func (r *Runner) AppName() string   { return r.cfg.AppName }
func (r *Runner) AgentName() string { return r.cfg.AgentName }

// Initialize builds the session service and binds the engine to it. It must
// be called exactly once.
func (r *Runner) Initialize(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return ErrAlreadyInitialized
	}

	sessions := r.cfg.Sessions
	if sessions == nil {
		if r.cfg.Store == nil {
			return errors.New("runner: a session store or session service is required")
		}
		opts := append([]session.Option{session.WithLogger(r.logger)}, r.cfg.SessionOptions...)
		sessions = session.NewStoreService(r.cfg.Store, opts...)
	}

	eng := r.cfg.Engine
	if eng == nil {
		if r.cfg.Brain == nil {
			return errors.New("runner: an engine or brain adapter is required")
		}
		eng = engine.NewBrainEngine(r.cfg.AppName, r.cfg.Agent, sessions, r.cfg.Brain, r.logger)
	}

	r.sessions = sessions
	r.engine = eng
	r.ready = true
	r.logger.Info("runner initialized", "session_backend", backendOf(sessions))
	return nil
}

// Sessions returns the session service bound at Initialize.
func (r *Runner) Sessions() (session.Service, error) {
	_, sessions, err := r.bound()
	return sessions, err
}

func (r *Runner) bound() (engine.Engine, session.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.ready {
		return nil, nil, ErrNotInitialized
	}
	return r.engine, r.sessions, nil
}

// Execute runs one turn and returns the text of the last final response.
func (r *Runner) Execute(ctx context.Context, req Request) (Response, error) {
	eng, sessions, err := r.bound()
	if err != nil {
		return Response{}, err
	}
	start := time.Now()

	composite, err := scope.Scope(req.TenantID, req.SessionID)
	if err != nil {
		return Response{}, r.fail(req, "execute", err, start)
	}
	count := r.executions.Add(1)

	turnCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if _, err := session.EnsureSessionExists(turnCtx, sessions, r.cfg.AppName, req.UserID, composite); err != nil {
		return Response{}, r.fail(req, "execute", err, start)
	}

	var final string
	for ev, err := range eng.Run(turnCtx, req.UserID, composite, session.NewTextContent("user", req.Message)) {
		if err != nil {
			return Response{}, r.fail(req, "execute", timeoutAware(turnCtx, err), start)
		}
		if ev != nil && ev.IsFinalResponse() {
			final = ev.Content.Text()
		}
	}
	if err := turnCtx.Err(); err != nil {
		return Response{}, r.fail(req, "execute", err, start)
	}

	r.cfg.Metrics.ObserveTurn(r.cfg.AgentName, "execute", observability.OutcomeOK, time.Since(start))
	r.logger.Debug("turn executed", "tenant_id", req.TenantID, "session_id", req.SessionID, "execution_count", count)
	return Response{
		Message:   final,
		SessionID: req.SessionID,
		TenantID:  req.TenantID,
		Metadata: map[string]any{
			"agent_name":      r.cfg.AgentName,
			"app_name":        r.cfg.AppName,
			"execution_count": count,
		},
	}, nil
}

// Stream runs one turn and hands each text chunk to onChunk in engine order.
// The text of a final response is only forwarded when the turn produced no
// partial chunks, so the concatenated chunks equal Execute's reply.
// onChunk returning ErrStopStream, or ctx being cancelled by the caller,
// ends the stream without error.
func (r *Runner) Stream(ctx context.Context, req Request, onChunk func(string) error) error {
	eng, sessions, err := r.bound()
	if err != nil {
		return err
	}
	start := time.Now()

	composite, err := scope.Scope(req.TenantID, req.SessionID)
	if err != nil {
		return r.fail(req, "stream", err, start)
	}
	r.executions.Add(1)
	defer r.cfg.Metrics.StreamStarted()()

	turnCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	if _, err := session.EnsureSessionExists(turnCtx, sessions, r.cfg.AppName, req.UserID, composite); err != nil {
		return r.fail(req, "stream", err, start)
	}

	sawPartial := false
	first := true
	emit := func(text string) error {
		if text == "" {
			return nil
		}
		if first {
			first = false
			r.cfg.Metrics.ObserveFirstChunk(time.Since(start))
		}
		r.cfg.Metrics.ObserveStreamChunk(r.cfg.AgentName)
		return onChunk(text)
	}

	for ev, err := range eng.Run(turnCtx, req.UserID, composite, session.NewTextContent("user", req.Message)) {
		if err != nil {
			if ctx.Err() != nil && !errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
				return r.stopped(req, start)
			}
			return r.fail(req, "stream", timeoutAware(turnCtx, err), start)
		}
		if ev == nil {
			continue
		}
		var parts []session.Part
		switch {
		case ev.Partial:
			sawPartial = true
			parts = partsOf(ev.Content)
		case ev.IsFinalResponse() && !sawPartial:
			parts = partsOf(ev.Content)
		}
		for _, p := range parts {
			if err := emit(p.Text); err != nil {
				if errors.Is(err, ErrStopStream) {
					return r.stopped(req, start)
				}
				return r.fail(req, "stream", err, start)
			}
		}
		if ev.IsFinalResponse() {
			sawPartial = false
		}
	}
	if err := turnCtx.Err(); err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			return r.stopped(req, start)
		}
		return r.fail(req, "stream", err, start)
	}

	r.cfg.Metrics.ObserveTurn(r.cfg.AgentName, "stream", observability.OutcomeOK, time.Since(start))
	return nil
}

func partsOf(c *session.Content) []session.Part {
	if c == nil {
		return nil
	}
	return c.Parts
}

func (r *Runner) stopped(req Request, start time.Time) error {
	r.logger.Info("stream abandoned by consumer", "tenant_id", req.TenantID, "session_id", req.SessionID)
	r.cfg.Metrics.ObserveTurn(r.cfg.AgentName, "stream", observability.OutcomeCancelled, time.Since(start))
	return nil
}

func (r *Runner) fail(req Request, op string, err error, start time.Time) error {
	r.errors.Add(1)
	outcome := observability.OutcomeError
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = observability.OutcomeTimeout
	}
	r.cfg.Metrics.ObserveTurn(r.cfg.AgentName, op, outcome, time.Since(start))
	r.logger.Error("turn failed",
		"op", op,
		"tenant_id", req.TenantID,
		"session_id", req.SessionID,
		"error", err,
	)
	return &ExecutionError{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		AgentName: r.cfg.AgentName,
		Op:        op,
		Err:       err,
	}
}

// timeoutAware replaces the cancellation error an engine surfaces after the
// turn deadline with context.DeadlineExceeded.
func timeoutAware(turnCtx context.Context, err error) error {
	if errors.Is(turnCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (r *Runner) HealthCheck() HealthStatus {
	r.mu.RLock()
	ready := r.ready && r.engine != nil
	sessions := r.sessions
	r.mu.RUnlock()

	status := "healthy"
	if !ready {
		status = "not_initialized"
	}
	return HealthStatus{
		Healthy: ready,
		Status:  status,
		Details: map[string]any{
			"agent_name":      r.cfg.AgentName,
			"app_name":        r.cfg.AppName,
			"execution_count": r.executions.Load(),
			"error_count":     r.errors.Load(),
			"session_service": backendOf(sessions),
		},
	}
}

func (r *Runner) Shutdown(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil
	}
	r.ready = false
	r.engine = nil
	r.sessions = nil
	r.logger.Info("runner shut down",
		"execution_count", r.executions.Load(),
		"error_count", r.errors.Load(),
	)
	return nil
}

func backendOf(sessions session.Service) string {
	if sessions == nil {
		return "none"
	}
	if b, ok := sessions.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", sessions), "*")
}
