// Package memory is the long-term memory bank agents can save finished
// sessions into and search later. Records are partitioned by a memory
// scope of the form "{tenant}:{app}" and by user.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ent0n29/agentgate/internal/session"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

var (
	ErrNotInitialized = errors.New("memory bank not initialized")
	ErrNilSession     = errors.New("memory: nil session")
)

// Record is one remembered conversational fact.
type Record struct {
	ID          string    `json:"id"`
	Scope       string    `json:"scope"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Result is a search hit.
type Result struct {
	Record
	Score float64 `json:"score"`
}

// RecordStore persists records. SaveRecords skips records whose
// (scope, user, role, content) is already stored and reports how many were
// new.
type RecordStore interface {
	SaveRecords(ctx context.Context, records []Record) (int, error)
	ListRecords(ctx context.Context, scope, userID string) ([]Record, error)
	Backend() string
	Close() error
}

// Service is what the agent manager needs from long-term memory.
type Service interface {
	Initialize(ctx context.Context) error
	AddSessionToMemory(ctx context.Context, sess *session.Session, memoryScope string) (int, error)
	SearchMemory(ctx context.Context, query, memoryScope, userID string, limit int) ([]Result, error)
	Status() Status
	Close() error
}

// Status summarises the bank for health endpoints.
type Status struct {
	Enabled     bool   `json:"enabled"`
	Initialized bool   `json:"initialized"`
	Backend     string `json:"backend"`
}

func contentKey(r Record) string {
	sum := sha256.Sum256([]byte(r.Scope + "\x00" + r.UserID + "\x00" + r.Role + "\x00" + r.Content))
	return hex.EncodeToString(sum[:])
}
