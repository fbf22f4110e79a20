package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/agentgate/internal/scope"
	"github.com/ent0n29/agentgate/internal/sessionstore"
)

// ErrNilSession is returned by AppendEvent when called without a session.
var ErrNilSession = errors.New("append event: nil session")

// StoreService implements Service over a sessionstore.Store. Every
// AppendEvent rewrites the full message list, so two concurrent turns on
// the same session resolve last writer wins unless keyed locking is on.
type StoreService struct {
	store  sessionstore.Store
	ttl    time.Duration
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time
}

type Option func(*StoreService)

// WithTTL sets the expiry applied on every save. Zero keeps the store
// default.
func WithTTL(ttl time.Duration) Option {
	return func(s *StoreService) { s.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *StoreService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithKeyedLocking serialises AppendEvent per scoped session inside this
// process and appends to the stored log rather than the caller's snapshot.
// It does not coordinate between processes.
func WithKeyedLocking() Option {
	return func(s *StoreService) { s.locks = newKeyedMutex() }
}

func NewStoreService(store sessionstore.Store, opts ...Option) *StoreService {
	s := &StoreService{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend names the underlying store.
func (s *StoreService) Backend() string { return s.store.Backend() }

func (s *StoreService) Create(ctx context.Context, req *CreateRequest) (*Session, error) {
	tenantID, sessionID, err := scope.Unscope(req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, sessionID, tenantID, []sessionstore.Message{}, s.ttl); err != nil {
		return nil, fmt.Errorf("create session %s: %w", req.SessionID, err)
	}
	s.logger.Info("session created", "tenant_id", tenantID, "session_id", sessionID, "app_name", req.AppName)
	return &Session{
		ID:             req.SessionID,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          cloneState(req.State),
		Events:         []*Event{},
		LastUpdateTime: s.now(),
	}, nil
}

func (s *StoreService) Get(ctx context.Context, req *GetRequest) (*Session, error) {
	tenantID, sessionID, err := scope.Unscope(req.SessionID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.Get(ctx, sessionID, tenantID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		s.logger.Info("session not found, creating", "tenant_id", tenantID, "session_id", sessionID)
		return s.Create(ctx, &CreateRequest{
			AppName:   req.AppName,
			UserID:    req.UserID,
			SessionID: req.SessionID,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", req.SessionID, err)
	}

	events := MessagesToEvents(messages)
	last := s.now()
	if n := len(events); n > 0 && !events[n-1].Timestamp.IsZero() {
		last = events[n-1].Timestamp
	}
	return &Session{
		ID:             req.SessionID,
		AppName:        req.AppName,
		UserID:         req.UserID,
		State:          map[string]any{},
		Events:         events,
		LastUpdateTime: last,
	}, nil
}

func (s *StoreService) AppendEvent(ctx context.Context, sess *Session, ev *Event) error {
	if sess == nil {
		return ErrNilSession
	}
	if ev == nil || ev.Partial {
		return nil
	}
	tenantID, sessionID, err := scope.Unscope(sess.ID)
	if err != nil {
		return err
	}
	if s.locks != nil {
		unlock := s.locks.lock(sess.ID)
		defer unlock()
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	sess.Events = append(sess.Events, ev)
	sess.LastUpdateTime = ev.Timestamp
	if len(ev.StateDelta) > 0 {
		if sess.State == nil {
			sess.State = map[string]any{}
		}
		for k, v := range ev.StateDelta {
			sess.State[k] = v
		}
	}

	messages := EventsToMessages(sess.Events)
	if s.locks != nil {
		// Another turn may have written since sess was loaded; append to
		// what is stored instead of overwriting it.
		stored, err := s.store.Get(ctx, sessionID, tenantID)
		switch {
		case err == nil:
			messages = append(stored, EventsToMessages([]*Event{ev})...)
		case !errors.Is(err, sessionstore.ErrNotFound):
			return fmt.Errorf("append event to %s: %w", sess.ID, err)
		}
	}
	if err := s.store.Save(ctx, sessionID, tenantID, messages, s.ttl); err != nil {
		return fmt.Errorf("append event to %s: %w", sess.ID, err)
	}
	return nil
}

func (s *StoreService) Delete(ctx context.Context, req *DeleteRequest) error {
	tenantID, sessionID, err := scope.Unscope(req.SessionID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, sessionID, tenantID); err != nil {
		return fmt.Errorf("delete session %s: %w", req.SessionID, err)
	}
	s.logger.Info("session deleted", "tenant_id", tenantID, "session_id", sessionID)
	return nil
}

// List returns shell sessions (no events) for the tenant named in req.
// The store has no per-app or per-user index, so without a tenant the
// result is empty. A tenant containing the separator cannot own sessions.
func (s *StoreService) List(ctx context.Context, req *ListRequest) ([]*Session, error) {
	if req == nil || req.TenantID == "" || strings.Contains(req.TenantID, scope.Separator) {
		return []*Session{}, nil
	}
	ids, err := s.store.List(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", req.TenantID, err)
	}
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		composite, err := scope.Scope(req.TenantID, id)
		if err != nil {
			continue
		}
		sessions = append(sessions, &Session{
			ID:      composite,
			AppName: req.AppName,
			UserID:  req.UserID,
			State:   map[string]any{},
			Events:  []*Event{},
		})
	}
	return sessions, nil
}

// EnsureSessionExists returns the session behind composite, creating it when
// the lookup fails for any reason other than a malformed id. Create saves an
// empty log, so a transient read failure (sessionstore.ErrUnavailable) on a
// store that recovers before the write replaces the existing history.
func EnsureSessionExists(ctx context.Context, svc Service, appName, userID, composite string) (*Session, error) {
	sess, err := svc.Get(ctx, &GetRequest{AppName: appName, UserID: userID, SessionID: composite})
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, scope.ErrFormat) || errors.Is(err, scope.ErrInvalidArgument) {
		return nil, err
	}
	return svc.Create(ctx, &CreateRequest{AppName: appName, UserID: userID, SessionID: composite})
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
