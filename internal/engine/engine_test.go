package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/agentgate/internal/brain"
	"github.com/ent0n29/agentgate/internal/session"
	"github.com/ent0n29/agentgate/internal/sessionstore"
)

func newEngine(t *testing.T, adapter brain.Adapter) (*BrainEngine, *sessionstore.InMemoryStore) {
	t.Helper()
	store := sessionstore.NewInMemoryStore(nil)
	svc := session.NewStoreService(store)
	return NewBrainEngine("helper", Agent{Name: "helper_agent"}, svc, adapter, nil), store
}

func TestBrainEngineYieldsPartialsThenFinal(t *testing.T) {
	e, store := newEngine(t, brain.NewMockAdapter())

	var partial strings.Builder
	var final *session.Event
	for ev, err := range e.Run(context.Background(), "u1", "acme:s1", session.NewTextContent("user", "hello there")) {
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if ev.Partial {
			partial.WriteString(ev.Content.Text())
			continue
		}
		final = ev
	}
	if final == nil || !final.IsFinalResponse() {
		t.Fatalf("final event = %+v, want final response", final)
	}
	if partial.String() != final.Content.Text() {
		t.Fatalf("partials %q != final %q", partial.String(), final.Content.Text())
	}

	msgs, err := store.Get(context.Background(), "s1", "acme")
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("stored messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "helper_agent" {
		t.Fatalf("roles = %s/%s, want user/helper_agent", msgs[0].Role, msgs[1].Role)
	}
}

func TestBrainEnginePassesHistory(t *testing.T) {
	rec := &recordingAdapter{}
	e, _ := newEngine(t, rec)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		for _, err := range e.Run(ctx, "u1", "acme:s1", session.NewTextContent("user", text)) {
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
		}
	}
	if len(rec.last.History) != 2 {
		t.Fatalf("History = %+v, want 2 turns", rec.last.History)
	}
	if rec.last.History[0] != (brain.Turn{Role: "user", Text: "first"}) {
		t.Fatalf("History[0] = %+v", rec.last.History[0])
	}
	if rec.last.History[1].Role != "assistant" {
		t.Fatalf("History[1].Role = %q, want assistant", rec.last.History[1].Role)
	}
	if rec.last.AgentName != "helper_agent" {
		t.Fatalf("AgentName = %q", rec.last.AgentName)
	}
}

func TestBrainEngineYieldsAdapterError(t *testing.T) {
	boom := errors.New("boom")
	e, store := newEngine(t, errAdapter{err: boom})

	var gotErr error
	for _, err := range e.Run(context.Background(), "u1", "acme:s1", session.NewTextContent("user", "x")) {
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, boom) {
		t.Fatalf("error = %v, want boom", gotErr)
	}
	msgs, _ := store.Get(context.Background(), "s1", "acme")
	if len(msgs) != 1 {
		t.Fatalf("stored messages = %d, want only the user message", len(msgs))
	}
}

func TestBrainEngineEarlyStopSkipsFinalAppend(t *testing.T) {
	e, store := newEngine(t, brain.NewMockAdapter())
	for ev, err := range e.Run(context.Background(), "u1", "acme:s1", session.NewTextContent("user", "one two three")) {
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if ev.Partial {
			break
		}
	}
	msgs, _ := store.Get(context.Background(), "s1", "acme")
	if len(msgs) != 1 {
		t.Fatalf("stored messages = %d, want 1", len(msgs))
	}
}

func TestBrainEngineRejectsMalformedSession(t *testing.T) {
	e, _ := newEngine(t, brain.NewMockAdapter())
	var gotErr error
	for _, err := range e.Run(context.Background(), "u1", "missing-separator", session.NewTextContent("user", "x")) {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatalf("Run() expected error for malformed session id")
	}
}

type recordingAdapter struct {
	last brain.MessageRequest
}

func (a *recordingAdapter) StreamResponse(_ context.Context, req brain.MessageRequest, _ brain.DeltaHandler) (brain.MessageResponse, error) {
	a.last = req
	return brain.MessageResponse{Text: "ack " + req.InputText}, nil
}

type errAdapter struct{ err error }

func (a errAdapter) StreamResponse(context.Context, brain.MessageRequest, brain.DeltaHandler) (brain.MessageResponse, error) {
	return brain.MessageResponse{}, a.err
}
