package sessionstore

import (
	"context"
	"errors"
	"time"
)

// Observer receives one call per store operation.
type Observer interface {
	ObserveStoreOp(backend, op, outcome string)
}

// WithObserver decorates store so every operation is reported to obs.
// Outcomes are "ok", "not_found" or "error".
func WithObserver(store Store, obs Observer) Store {
	if obs == nil {
		return store
	}
	return &observedStore{Store: store, obs: obs}
}

type observedStore struct {
	Store
	obs Observer
}

func (s *observedStore) report(op string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case err != nil:
		outcome = "error"
	}
	s.obs.ObserveStoreOp(s.Backend(), op, outcome)
}

func (s *observedStore) Get(ctx context.Context, sessionID, tenantID string) ([]Message, error) {
	messages, err := s.Store.Get(ctx, sessionID, tenantID)
	s.report("get", err)
	return messages, err
}

func (s *observedStore) Save(ctx context.Context, sessionID, tenantID string, messages []Message, ttl time.Duration) error {
	err := s.Store.Save(ctx, sessionID, tenantID, messages, ttl)
	s.report("save", err)
	return err
}

func (s *observedStore) Delete(ctx context.Context, sessionID, tenantID string) error {
	err := s.Store.Delete(ctx, sessionID, tenantID)
	s.report("delete", err)
	return err
}

func (s *observedStore) List(ctx context.Context, tenantID string) ([]string, error) {
	ids, err := s.Store.List(ctx, tenantID)
	s.report("list", err)
	return ids, err
}

func (s *observedStore) ExtendTTL(ctx context.Context, sessionID, tenantID string, ttl time.Duration) (bool, error) {
	ok, err := s.Store.ExtendTTL(ctx, sessionID, tenantID, ttl)
	s.report("extend_ttl", err)
	return ok, err
}

// PurgeExpired forwards to the wrapped store when it supports purging.
func (s *observedStore) PurgeExpired(ctx context.Context) (int64, error) {
	j, ok := s.Store.(Janitor)
	if !ok {
		return 0, nil
	}
	n, err := j.PurgeExpired(ctx)
	s.report("purge", err)
	return n, err
}
