package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecordStore persists memory records in PostgreSQL.
type PostgresRecordStore struct {
	pool *pgxpool.Pool
}

func NewPostgresRecordStore(ctx context.Context, databaseURL string) (*PostgresRecordStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRecordStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			content_key TEXT NOT NULL,
			pii_redacted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_memory_records_content_key ON memory_records (content_key);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_records_scope_user ON memory_records (scope, user_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresRecordStore) SaveRecords(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, record := range records {
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO memory_records (id, scope, user_id, session_id, role, content, content_key, pii_redacted, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (content_key) DO NOTHING`,
			record.ID,
			record.Scope,
			record.UserID,
			record.SessionID,
			record.Role,
			record.Content,
			contentKey(record),
			record.PIIRedacted,
			record.CreatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	added := 0
	for range records {
		tag, err := results.Exec()
		if err != nil {
			return added, fmt.Errorf("save memory record: %w", err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

func (s *PostgresRecordStore) ListRecords(ctx context.Context, scope, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scope, user_id, session_id, role, content, pii_redacted, created_at
		 FROM memory_records WHERE scope=$1 AND user_id=$2 ORDER BY created_at`,
		scope,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memory records: %w", err)
	}
	defer rows.Close()

	var items []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Scope, &r.UserID, &r.SessionID, &r.Role, &r.Content, &r.PIIRedacted, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return items, nil
}

func (s *PostgresRecordStore) Backend() string { return "postgres" }

func (s *PostgresRecordStore) Close() error {
	s.pool.Close()
	return nil
}
