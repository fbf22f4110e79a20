package sessionstore

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Config selects and tunes a session backend.
type Config struct {
	RedisURL       string
	DatabaseURL    string
	DefaultTTL     time.Duration
	MaxConnections int
}

// NewStore picks a backend from cfg: Redis when RedisURL is set, otherwise
// Postgres or SQLite by DatabaseURL scheme, otherwise in-memory.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if url := strings.TrimSpace(cfg.RedisURL); url != "" {
		return NewRedisStore(ctx, RedisConfig{
			URL:            url,
			DefaultTTL:     cfg.DefaultTTL,
			MaxConnections: cfg.MaxConnections,
		}, logger)
	}
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	switch {
	case dsn == "":
		return NewInMemoryStore(logger), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn, cfg.DefaultTTL, logger)
	default:
		return NewSQLiteStore(ctx, dsn, cfg.DefaultTTL, logger)
	}
}
