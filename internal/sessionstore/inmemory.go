package sessionstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// InMemoryStore keeps histories in process memory. TTLs are not enforced and
// everything is lost on Close or process exit.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]Message
}

func NewInMemoryStore(logger *slog.Logger) *InMemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("using in-memory session store; data will be lost on restart")
	return &InMemoryStore{sessions: make(map[string]map[string][]Message)}
}

func (s *InMemoryStore) Get(_ context.Context, sessionID, tenantID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.sessions[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	messages, ok := tenant[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessages(messages), nil
}

func (s *InMemoryStore) Save(_ context.Context, sessionID, tenantID string, messages []Message, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.sessions[tenantID]
	if !ok {
		tenant = make(map[string][]Message)
		s.sessions[tenantID] = tenant
	}
	tenant[sessionID] = cloneMessages(messages)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, sessionID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenant, ok := s.sessions[tenantID]; ok {
		delete(tenant, sessionID)
		if len(tenant) == 0 {
			delete(s.sessions, tenantID)
		}
	}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions[tenantID]))
	for id := range s.sessions[tenantID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ExtendTTL reports whether the record exists; there is no expiry to move.
func (s *InMemoryStore) ExtendTTL(_ context.Context, sessionID, tenantID string, _ time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[tenantID][sessionID]
	return ok, nil
}

func (s *InMemoryStore) Backend() string { return "in-memory" }

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]map[string][]Message)
	return nil
}
