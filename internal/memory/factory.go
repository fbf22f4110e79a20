package memory

import (
	"context"
	"strings"
)

// NewRecordStore creates a postgres-backed store when configured, otherwise
// in-memory.
func NewRecordStore(ctx context.Context, databaseURL string) (RecordStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryRecordStore(), nil
	}
	return NewPostgresRecordStore(ctx, databaseURL)
}
