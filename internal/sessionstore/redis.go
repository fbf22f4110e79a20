package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/agentgate/internal/scope"
)

// RedisConfig controls the durable Redis backend.
type RedisConfig struct {
	URL            string
	DefaultTTL     time.Duration
	MaxConnections int
}

// RedisStore persists each history as a JSON array under
// "session:{tenant}:{session}" with a TTL refreshed on every write.
type RedisStore struct {
	client     redis.UniversalClient
	defaultTTL time.Duration
	logger     *slog.Logger
}

func NewRedisStore(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}
	return NewRedisStoreWithClient(client, cfg.DefaultTTL, logger), nil
}

// NewRedisStoreWithClient wraps an existing client. The store owns it from
// then on and closes it in Close.
func NewRedisStoreWithClient(client redis.UniversalClient, defaultTTL time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client:     client,
		defaultTTL: ttlOrDefault(defaultTTL, DefaultTTL),
		logger:     logger.With("backend", "redis"),
	}
}

func (s *RedisStore) Get(ctx context.Context, sessionID, tenantID string) ([]Message, error) {
	key := scope.StorageKey(tenantID, sessionID)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug("session not found", "tenant_id", tenantID, "session_id", sessionID)
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("get session failed", "tenant_id", tenantID, "session_id", sessionID, "error", err)
		return nil, unavailable("get "+key, err)
	}
	messages, err := decodeMessages(data)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", key, err)
	}
	s.logger.Debug("session loaded", "tenant_id", tenantID, "session_id", sessionID, "messages", len(messages))
	return messages, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID, tenantID string, messages []Message, ttl time.Duration) error {
	key := scope.StorageKey(tenantID, sessionID)
	data, err := encodeMessages(messages)
	if err != nil {
		return err
	}
	ttl = ttlOrDefault(ttl, s.defaultTTL)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Error("save session failed", "tenant_id", tenantID, "session_id", sessionID, "error", err)
		return unavailable("set "+key, err)
	}
	s.logger.Debug("session saved", "tenant_id", tenantID, "session_id", sessionID, "messages", len(messages), "ttl", ttl)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID, tenantID string) error {
	key := scope.StorageKey(tenantID, sessionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("del "+key, err)
	}
	s.logger.Info("session deleted", "tenant_id", tenantID, "session_id", sessionID)
	return nil
}

func (s *RedisStore) List(ctx context.Context, tenantID string) ([]string, error) {
	pattern := scope.TenantPattern(escapeGlob(tenantID))

	var ids []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if id, ok := scope.SessionFromStorageKey(tenantID, iter.Val()); ok {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan "+pattern, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *RedisStore) ExtendTTL(ctx context.Context, sessionID, tenantID string, ttl time.Duration) (bool, error) {
	key := scope.StorageKey(tenantID, sessionID)
	ok, err := s.client.Expire(ctx, key, ttlOrDefault(ttl, s.defaultTTL)).Result()
	if err != nil {
		return false, unavailable("expire "+key, err)
	}
	return ok, nil
}

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// escapeGlob keeps tenant ids containing glob metacharacters from widening a
// SCAN pattern into another tenant's namespace.
func escapeGlob(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
