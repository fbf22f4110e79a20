package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeChatMessage   MessageType = "chat_message"
	TypeClientControl MessageType = "client_control"
	TypeChatChunk     MessageType = "chat_chunk"
	TypeChatComplete  MessageType = "chat_complete"
	TypeChatError     MessageType = "chat_error"
)

// Client control actions.
const (
	ActionCancel = "cancel"
)

// Error codes carried by chat_error frames.
const (
	CodeInvalidMessage  = "invalid_message"
	CodeAgentNotFound   = "agent_not_found"
	CodeQuotaExceeded   = "quota_exceeded"
	CodeMessageBlocked  = "message_blocked"
	CodeTurnInProgress  = "turn_in_progress"
	CodeExecutionFailed = "execution_failed"
	CodeCancelled       = "cancelled"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ChatMessage is a user turn sent by the client. An empty SessionID asks the
// server to allocate one.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Agent     string      `json:"agent,omitempty"`
	Message   string      `json:"message"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Action    string      `json:"action"`
}

type ChatChunk struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Agent     string      `json:"agent"`
	Content   string      `json:"content"`
}

type ChatComplete struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Agent     string      `json:"agent"`
}

type ChatError struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Agent     string      `json:"agent,omitempty"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeChatMessage:
		var msg ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat_message: empty message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionCancel {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
