package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/agentgate/internal/observability"
	"github.com/ent0n29/agentgate/internal/policy"
	"github.com/ent0n29/agentgate/internal/session"
)

// Bank implements Service over a RecordStore. Saved text is PII-redacted and
// search ranks a scope's records with BM25.
type Bank struct {
	store   RecordStore
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.RWMutex
	ready bool
}

func NewBank(store RecordStore, logger *slog.Logger, metrics *observability.Metrics) *Bank {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bank{
		store:   store,
		logger:  logger.With("component", "memory"),
		metrics: metrics,
	}
}

func (b *Bank) Initialize(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ready = true
	b.logger.Info("memory bank initialized", "backend", b.store.Backend())
	return nil
}

func (b *Bank) isReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// AddSessionToMemory stores every text turn of sess under memoryScope and
// returns how many new records were written.
func (b *Bank) AddSessionToMemory(ctx context.Context, sess *session.Session, memoryScope string) (int, error) {
	if !b.isReady() {
		return 0, ErrNotInitialized
	}
	if sess == nil {
		return 0, ErrNilSession
	}
	start := time.Now()

	records := make([]Record, 0, len(sess.Events))
	for _, ev := range sess.Events {
		if ev == nil || ev.Partial {
			continue
		}
		text := strings.TrimSpace(ev.Content.Text())
		if text == "" {
			continue
		}
		role := "agent"
		if ev.Author == "user" {
			role = "user"
		}
		redacted := policy.Redact(text)
		if redacted.Changed() {
			b.logger.Debug("memory record redacted", "session_id", sess.ID, "kinds", redacted.Kinds)
		}
		createdAt := ev.Timestamp
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		records = append(records, Record{
			ID:          uuid.NewString(),
			Scope:       memoryScope,
			UserID:      sess.UserID,
			SessionID:   sess.ID,
			Role:        role,
			Content:     redacted.Text,
			PIIRedacted: redacted.Changed(),
			CreatedAt:   createdAt,
		})
	}

	added, err := b.store.SaveRecords(ctx, records)
	if err != nil {
		b.metrics.ObserveMemoryOp("save", observability.OutcomeError, time.Since(start))
		return added, fmt.Errorf("save session %s to memory: %w", sess.ID, err)
	}
	b.metrics.ObserveMemoryOp("save", observability.OutcomeOK, time.Since(start))
	b.logger.Info("session saved to memory",
		"scope", memoryScope,
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"records", added,
	)
	return added, nil
}

func (b *Bank) SearchMemory(ctx context.Context, query, memoryScope, userID string, limit int) ([]Result, error) {
	if !b.isReady() {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	start := time.Now()

	records, err := b.store.ListRecords(ctx, memoryScope, userID)
	if err != nil {
		b.metrics.ObserveMemoryOp("search", observability.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("search memory: %w", err)
	}
	docs := make([]string, len(records))
	for i, r := range records {
		docs[i] = r.Content
	}
	hits := rankBM25(docs, query, limit)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{Record: records[h.index], Score: h.score})
	}
	b.metrics.ObserveMemoryOp("search", observability.OutcomeOK, time.Since(start))
	return results, nil
}

func (b *Bank) Status() Status {
	return Status{Enabled: true, Initialized: b.isReady(), Backend: b.store.Backend()}
}

func (b *Bank) Close() error {
	b.mu.Lock()
	b.ready = false
	b.mu.Unlock()
	return b.store.Close()
}
