package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRecordStore is a simple in-process record store for local/dev use.
type InMemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string][]Record
	seen    map[string]struct{}
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{
		records: make(map[string][]Record),
		seen:    make(map[string]struct{}),
	}
}

func (s *InMemoryRecordStore) SaveRecords(_ context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, record := range records {
		key := contentKey(record)
		if _, dup := s.seen[key]; dup {
			continue
		}
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now().UTC()
		}
		s.seen[key] = struct{}{}
		bucket := record.Scope + "\x00" + record.UserID
		s.records[bucket] = append(s.records[bucket], record)
		added++
	}
	return added, nil
}

func (s *InMemoryRecordStore) ListRecords(_ context.Context, scope, userID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[scope+"\x00"+userID]
	out := make([]Record, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryRecordStore) Backend() string { return "in-memory" }

func (s *InMemoryRecordStore) Close() error { return nil }
