package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentgate/internal/agents"
	"github.com/ent0n29/agentgate/internal/protocol"
)

type chatRequest struct {
	Message   string `json:"message"`
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Message   string `json:"message"`
	Agent     string `json:"agent"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.agents.Agents())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := s.identity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var text strings.Builder
	var failure *agents.ChatEvent
	agent := req.Agent
	err = s.agents.StreamChat(r.Context(), agents.ChatRequest{
		SessionID: sessionID,
		Message:   req.Message,
		AgentName: req.Agent,
		TenantID:  tenantID,
		UserID:    userID,
	}, func(ev agents.ChatEvent) error {
		if ev.Agent != "" {
			agent = ev.Agent
		}
		switch ev.Type {
		case agents.EventChunk:
			text.WriteString(ev.Content)
		case agents.EventError:
			failure = &ev
		}
		return nil
	})
	if err != nil {
		// The client went away; nothing useful can be written.
		return
	}
	if failure != nil {
		status, code := chatErrorStatus(failure.Err)
		respondError(w, status, code, failure.Content)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{Message: text.String(), Agent: agent, SessionID: sessionID})
}

// chatErrorStatus maps the cause of an in-band chat error to an HTTP status
// and a protocol error code.
func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		return http.StatusNotFound, protocol.CodeAgentNotFound
	case errors.Is(err, agents.ErrQuotaExceeded):
		return http.StatusTooManyRequests, protocol.CodeQuotaExceeded
	case errors.Is(err, agents.ErrMessageBlocked):
		return http.StatusBadRequest, protocol.CodeMessageBlocked
	default:
		return http.StatusBadGateway, protocol.CodeExecutionFailed
	}
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, err := s.identity(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()
	send := func(msg any) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outbound <- msg:
			return nil
		}
	}

	var (
		turnMu     sync.Mutex
		turnCancel context.CancelFunc
		turns      sync.WaitGroup
	)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = send(protocol.ChatError{Type: protocol.TypeChatError, Code: protocol.CodeInvalidMessage, Detail: err.Error()})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ChatMessage:
			if msg.SessionID == "" {
				msg.SessionID = uuid.NewString()
			}
			turnMu.Lock()
			if turnCancel != nil {
				turnMu.Unlock()
				_ = send(protocol.ChatError{
					Type:      protocol.TypeChatError,
					SessionID: msg.SessionID,
					Agent:     msg.Agent,
					Code:      protocol.CodeTurnInProgress,
					Detail:    "a turn is already running on this connection",
				})
				continue
			}
			turnCtx, stop := context.WithCancel(ctx)
			turnCancel = stop
			turnMu.Unlock()

			turns.Add(1)
			go func() {
				defer turns.Done()
				defer func() {
					turnMu.Lock()
					turnCancel = nil
					turnMu.Unlock()
					stop()
				}()
				s.runSocketTurn(turnCtx, agents.ChatRequest{
					SessionID: msg.SessionID,
					Message:   msg.Message,
					AgentName: msg.Agent,
					TenantID:  tenantID,
					UserID:    userID,
				}, send)
			}()
		case protocol.ClientControl:
			turnMu.Lock()
			if turnCancel != nil {
				turnCancel()
			}
			turnMu.Unlock()
		}
	}

	cancel()
	turns.Wait()
	<-writerDone
}

func (s *Server) runSocketTurn(ctx context.Context, req agents.ChatRequest, send func(any) error) {
	agent := req.AgentName
	err := s.agents.StreamChat(ctx, req, func(ev agents.ChatEvent) error {
		if ev.Agent != "" {
			agent = ev.Agent
		}
		switch ev.Type {
		case agents.EventChunk:
			return send(protocol.ChatChunk{Type: protocol.TypeChatChunk, SessionID: req.SessionID, Agent: agent, Content: ev.Content})
		case agents.EventComplete:
			return send(protocol.ChatComplete{Type: protocol.TypeChatComplete, SessionID: req.SessionID, Agent: agent})
		default:
			_, code := chatErrorStatus(ev.Err)
			return send(protocol.ChatError{Type: protocol.TypeChatError, SessionID: req.SessionID, Agent: agent, Code: code, Detail: ev.Content})
		}
	})
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		_ = send(protocol.ChatError{
			Type:      protocol.TypeChatError,
			SessionID: req.SessionID,
			Agent:     agent,
			Code:      protocol.CodeCancelled,
			Detail:    "turn cancelled",
		})
	}
}
