package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-node durable backend. Expiry is kept as unix
// milliseconds and enforced at read time.
type SQLiteStore struct {
	db         *sql.DB
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewSQLiteStore(ctx context.Context, dsn string, defaultTTL time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	// Serialise writers; sqlite allows a single writer at a time anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping sqlite", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS agent_sessions (
		tenant_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		messages TEXT NOT NULL DEFAULT '[]',
		expires_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, session_id)
	)`); err != nil {
		_ = db.Close()
		return nil, unavailable("init sqlite schema", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		db:         db,
		defaultTTL: ttlOrDefault(defaultTTL, DefaultTTL),
		logger:     logger.With("backend", "sqlite"),
		now:        time.Now,
	}, nil
}

func sqliteDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if rest, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		return rest
	}
	return dsn
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID, tenantID string) ([]Message, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM agent_sessions WHERE tenant_id=? AND session_id=? AND expires_at > ?`,
		tenantID, sessionID, s.now().UnixMilli(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("select session", err)
	}
	return decodeMessages([]byte(data))
}

func (s *SQLiteStore) Save(ctx context.Context, sessionID, tenantID string, messages []Message, ttl time.Duration) error {
	data, err := encodeMessages(messages)
	if err != nil {
		return err
	}
	now := s.now()
	expiresAt := now.Add(ttlOrDefault(ttl, s.defaultTTL)).UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_sessions (tenant_id, session_id, messages, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, session_id) DO UPDATE SET
			messages = excluded.messages,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		tenantID, sessionID, string(data), expiresAt, now.UnixMilli(),
	)
	if err != nil {
		s.logger.Error("save session failed", "tenant_id", tenantID, "session_id", sessionID, "error", err)
		return unavailable("upsert session", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID, tenantID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_sessions WHERE tenant_id=? AND session_id=?`,
		tenantID, sessionID,
	); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM agent_sessions WHERE tenant_id=? AND expires_at > ? ORDER BY updated_at, session_id`,
		tenantID, s.now().UnixMilli(),
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

func (s *SQLiteStore) ExtendTTL(ctx context.Context, sessionID, tenantID string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET expires_at=? WHERE tenant_id=? AND session_id=? AND expires_at > ?`,
		now.Add(ttlOrDefault(ttl, s.defaultTTL)).UnixMilli(), tenantID, sessionID, now.UnixMilli(),
	)
	if err != nil {
		return false, unavailable("extend session ttl", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("extend session ttl", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, unavailable("purge expired sessions", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
