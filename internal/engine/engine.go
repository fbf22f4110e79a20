// Package engine runs one conversational turn against a session and yields
// the resulting events.
package engine

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/agentgate/internal/brain"
	"github.com/ent0n29/agentgate/internal/session"
)

// Engine runs a turn for an already scoped session id. Events are yielded as
// they are produced; a non-nil error ends the sequence.
type Engine interface {
	Run(ctx context.Context, userID, sessionID string, msg *session.Content) iter.Seq2[*session.Event, error]
}

// Agent describes the agent a BrainEngine speaks for.
type Agent struct {
	Name        string
	Instruction string
	Model       string
}

// BrainEngine drives a brain.Adapter over a session.Service. It appends the
// user message before calling the adapter and the final reply after it, and
// yields one partial event per streamed delta.
type BrainEngine struct {
	appName  string
	agent    Agent
	sessions session.Service
	brain    brain.Adapter
	logger   *slog.Logger
	now      func() time.Time
}

func NewBrainEngine(appName string, agent Agent, sessions session.Service, adapter brain.Adapter, logger *slog.Logger) *BrainEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if agent.Name == "" {
		agent.Name = appName
	}
	return &BrainEngine{
		appName:  appName,
		agent:    agent,
		sessions: sessions,
		brain:    adapter,
		logger:   logger.With("app_name", appName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *BrainEngine) Run(ctx context.Context, userID, sessionID string, msg *session.Content) iter.Seq2[*session.Event, error] {
	return func(yield func(*session.Event, error) bool) {
		sess, err := e.sessions.Get(ctx, &session.GetRequest{AppName: e.appName, UserID: userID, SessionID: sessionID})
		if err != nil {
			yield(nil, err)
			return
		}
		history := historyOf(sess.Events)
		invocationID := uuid.NewString()

		userEvent := &session.Event{
			ID:           uuid.NewString(),
			InvocationID: invocationID,
			Author:       "user",
			Content:      msg,
			Timestamp:    e.now(),
		}
		if err := e.sessions.AppendEvent(ctx, sess, userEvent); err != nil {
			yield(nil, err)
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		resp, err := e.brain.StreamResponse(runCtx, brain.MessageRequest{
			UserID:      userID,
			SessionID:   sessionID,
			TurnID:      invocationID,
			InputText:   msg.Text(),
			History:     history,
			AgentName:   e.agent.Name,
			Instruction: e.agent.Instruction,
			Model:       e.agent.Model,
		}, func(delta string) error {
			ev := &session.Event{
				ID:           uuid.NewString(),
				InvocationID: invocationID,
				Author:       e.agent.Name,
				Content:      session.NewTextContent("model", delta),
				Partial:      true,
				Timestamp:    e.now(),
			}
			if !yield(ev, nil) {
				stopped = true
				cancel()
				return context.Canceled
			}
			return nil
		})
		if stopped {
			return
		}
		if err != nil {
			e.logger.Warn("brain call failed", "session_id", sessionID, "error", err)
			yield(nil, err)
			return
		}

		final := &session.Event{
			ID:           uuid.NewString(),
			InvocationID: invocationID,
			Author:       e.agent.Name,
			Content:      session.NewTextContent("model", resp.Text),
			TurnComplete: true,
			Timestamp:    e.now(),
		}
		if err := e.sessions.AppendEvent(ctx, sess, final); err != nil {
			yield(nil, err)
			return
		}
		yield(final, nil)
	}
}

func historyOf(events []*session.Event) []brain.Turn {
	turns := make([]brain.Turn, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			continue
		}
		text := strings.TrimSpace(ev.Content.Text())
		if text == "" {
			continue
		}
		role := "assistant"
		if ev.Author == "user" {
			role = "user"
		}
		turns = append(turns, brain.Turn{Role: role, Text: text})
	}
	return turns
}
