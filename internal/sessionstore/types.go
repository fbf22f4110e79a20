// Package sessionstore persists the short-term message history of a scoped
// session. Every backend keys records by (tenant, session) and treats a
// missing or expired record as not found.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultTTL applies when a write does not ask for a specific expiry.
const DefaultTTL = time.Hour

var (
	// ErrNotFound reports a record that was never written or has expired.
	ErrNotFound = errors.New("session record not found")
	// ErrUnavailable wraps transport and driver failures of durable backends.
	ErrUnavailable = errors.New("session store unavailable")
)

// Message is one stored conversation turn.
type Message struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// Store persists message histories keyed by tenant and session.
//
// Get returns ErrNotFound for an absent record and an empty, non-nil slice
// for a record that exists with zero messages. Save is a full overwrite.
type Store interface {
	Get(ctx context.Context, sessionID, tenantID string) ([]Message, error)
	Save(ctx context.Context, sessionID, tenantID string, messages []Message, ttl time.Duration) error
	Delete(ctx context.Context, sessionID, tenantID string) error
	// List scans the tenant namespace. It is O(n) over stored records and is
	// not meant for production-scale enumeration.
	List(ctx context.Context, tenantID string) ([]string, error)
	ExtendTTL(ctx context.Context, sessionID, tenantID string, ttl time.Duration) (bool, error)
	Backend() string
	Close() error
}

// Timestamp converts t into the float seconds representation stored with a
// message.
func Timestamp(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
	return &v
}

// TimeOf converts a stored timestamp back into a time.Time.
func TimeOf(ts *float64) time.Time {
	if ts == nil {
		return time.Time{}
	}
	sec := math.Floor(*ts)
	nsec := math.Round((*ts - sec) * float64(time.Second))
	return time.Unix(int64(sec), int64(nsec)).UTC()
}

func encodeMessages(messages []Message) ([]byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return data, nil
}

func decodeMessages(data []byte) ([]Message, error) {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}

func cloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if m.Timestamp != nil {
			ts := *m.Timestamp
			out[i].Timestamp = &ts
		}
	}
	return out
}

func ttlOrDefault(ttl, fallback time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTTL
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
