package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists histories in PostgreSQL. Expiry is enforced at read
// time and expired rows are removed by PurgeExpired.
type PostgresStore struct {
	pool       *pgxpool.Pool
	defaultTTL time.Duration
	logger     *slog.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, defaultTTL time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, unavailable("connect postgres", err)
	}
	if err := initSessionSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		pool:       pool,
		defaultTTL: ttlOrDefault(defaultTTL, DefaultTTL),
		logger:     logger.With("backend", "postgres"),
	}, nil
}

func initSessionSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, session_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_sessions_expires ON agent_sessions (expires_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return unavailable(fmt.Sprintf("init session schema failed on %q", stmt), err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID, tenantID string) ([]Message, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT messages FROM agent_sessions
		 WHERE tenant_id=$1 AND session_id=$2 AND expires_at > now()`,
		tenantID, sessionID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("get session failed", "tenant_id", tenantID, "session_id", sessionID, "error", err)
		return nil, unavailable("select session", err)
	}
	return decodeMessages(data)
}

func (s *PostgresStore) Save(ctx context.Context, sessionID, tenantID string, messages []Message, ttl time.Duration) error {
	data, err := encodeMessages(messages)
	if err != nil {
		return err
	}
	expiresAt := time.Now().UTC().Add(ttlOrDefault(ttl, s.defaultTTL))
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_sessions (tenant_id, session_id, messages, expires_at, updated_at)
		 VALUES ($1, $2, $3::jsonb, $4, now())
		 ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			messages = EXCLUDED.messages,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		tenantID, sessionID, string(data), expiresAt,
	)
	if err != nil {
		s.logger.Error("save session failed", "tenant_id", tenantID, "session_id", sessionID, "error", err)
		return unavailable("upsert session", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID, tenantID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM agent_sessions WHERE tenant_id=$1 AND session_id=$2`,
		tenantID, sessionID,
	); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id FROM agent_sessions
		 WHERE tenant_id=$1 AND expires_at > now() ORDER BY updated_at`,
		tenantID,
	)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate session rows", err)
	}
	return ids, nil
}

func (s *PostgresStore) ExtendTTL(ctx context.Context, sessionID, tenantID string, ttl time.Duration) (bool, error) {
	expiresAt := time.Now().UTC().Add(ttlOrDefault(ttl, s.defaultTTL))
	tag, err := s.pool.Exec(ctx,
		`UPDATE agent_sessions SET expires_at=$3
		 WHERE tenant_id=$1 AND session_id=$2 AND expires_at > now()`,
		tenantID, sessionID, expiresAt,
	)
	if err != nil {
		return false, unavailable("extend session ttl", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agent_sessions WHERE expires_at <= now()`)
	if err != nil {
		return 0, unavailable("purge expired sessions", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
