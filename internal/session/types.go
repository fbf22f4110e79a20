// Package session adapts a sessionstore.Store to the session service an
// agent engine expects. Session ids handed to the service are scoped
// composites ("tenant:session").
package session

import (
	"context"
	"maps"
	"strings"
	"time"
)

// Part is one piece of a message. Only text is carried.
type Part struct {
	Text string `json:"text,omitempty"`
}

// Content is a role-tagged message.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// NewTextContent builds a single-part text message.
func NewTextContent(role, text string) *Content {
	return &Content{Role: role, Parts: []Part{{Text: text}}}
}

// Text concatenates the text of every part.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	if len(c.Parts) == 1 {
		return c.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// Event is one entry of a session's event log.
type Event struct {
	ID           string         `json:"id"`
	InvocationID string         `json:"invocation_id,omitempty"`
	Author       string         `json:"author"`
	Content      *Content       `json:"content,omitempty"`
	StateDelta   map[string]any `json:"state_delta,omitempty"`
	Partial      bool           `json:"partial,omitempty"`
	TurnComplete bool           `json:"turn_complete,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// IsFinalResponse reports whether the event closes a turn with a complete
// response rather than carrying a streamed fragment.
func (e *Event) IsFinalResponse() bool {
	if e == nil || e.Partial {
		return false
	}
	return e.TurnComplete || e.Content.Text() != ""
}

// Session is the service view of a stored conversation.
type Session struct {
	ID             string
	AppName        string
	UserID         string
	State          map[string]any
	Events         []*Event
	LastUpdateTime time.Time
}

// CreateRequest is the request for Service.Create.
type CreateRequest struct {
	AppName, UserID string
	// SessionID is the scoped composite. Required.
	SessionID string
	State     map[string]any
}

// GetRequest is the request for Service.Get.
type GetRequest struct {
	AppName, UserID, SessionID string
}

// DeleteRequest is the request for Service.Delete.
type DeleteRequest struct {
	AppName, UserID, SessionID string
}

// ListRequest is the request for Service.List. Without a TenantID the
// listing is empty.
type ListRequest struct {
	AppName, UserID string
	TenantID        string
}

// Service is the session contract an engine drives.
type Service interface {
	Create(ctx context.Context, req *CreateRequest) (*Session, error)
	// Get returns the stored session, creating an empty one when none exists.
	Get(ctx context.Context, req *GetRequest) (*Session, error)
	// AppendEvent appends ev to s and persists the whole log. Partial events
	// are a no-op.
	AppendEvent(ctx context.Context, s *Session, ev *Event) error
	Delete(ctx context.Context, req *DeleteRequest) error
	List(ctx context.Context, req *ListRequest) ([]*Session, error)
}

func cloneState(state map[string]any) map[string]any {
	if state == nil {
		return map[string]any{}
	}
	return maps.Clone(state)
}
