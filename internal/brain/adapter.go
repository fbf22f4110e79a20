// Package brain talks to the model backend that produces agent replies.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Turn is one earlier message of the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// MessageRequest is the normalized request sent to the backend.
type MessageRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	TurnID      string `json:"turn_id"`
	InputText   string `json:"input_text"`
	History     []Turn `json:"history,omitempty"`
	AgentName   string `json:"agent_name,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Model       string `json:"model,omitempty"`
}

// MessageResponse is the final response after streaming deltas.
type MessageResponse struct {
	Text string `json:"text"`
}

// DeltaHandler receives streaming text fragments. Returning an error aborts
// the call with that error.
type DeltaHandler func(delta string) error

// Adapter produces a reply for one turn, streaming fragments to onDelta.
type Adapter interface {
	StreamResponse(ctx context.Context, req MessageRequest, onDelta DeltaHandler) (MessageResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode             string
	HTTPURL          string
	HTTPStreamStrict bool
	HTTPMaxRetries   int
	HTTPTimeout      time.Duration
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return NewMockAdapter(), nil
		}
		return NewFallbackAdapter(newHTTPAdapter(cfg), NewMockAdapter()), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("brain HTTP url is required for http mode")
		}
		return newHTTPAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain adapter mode %q", cfg.Mode)
	}
}

func newHTTPAdapter(cfg Config) *HTTPAdapter {
	a := NewHTTPAdapterWithOptions(cfg.HTTPURL, cfg.HTTPStreamStrict)
	if cfg.HTTPMaxRetries > 0 {
		a.maxRetries = cfg.HTTPMaxRetries
	}
	if cfg.HTTPTimeout > 0 {
		a.client.Timeout = cfg.HTTPTimeout
	}
	return a
}
