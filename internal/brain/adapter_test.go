package brain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNewAdapterAutoFallsBackToMockWithoutURL(t *testing.T) {
	a, err := NewAdapter(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	if _, ok := a.(*MockAdapter); !ok {
		t.Fatalf("NewAdapter() = %T, want *MockAdapter", a)
	}

	resp, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "hello"}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if !strings.Contains(resp.Text, "I heard you: hello") {
		t.Fatalf("unexpected response text: %q", resp.Text)
	}
}

func TestNewAdapterModes(t *testing.T) {
	if _, err := NewAdapter(Config{Mode: "http"}); err == nil {
		t.Fatalf("NewAdapter(http) without url expected error")
	}
	if _, err := NewAdapter(Config{Mode: "carrier-pigeon"}); err == nil {
		t.Fatalf("NewAdapter(unknown) expected error")
	}
	a, err := NewAdapter(Config{Mode: "auto", HTTPURL: "http://brain.test"})
	if err != nil {
		t.Fatalf("NewAdapter(auto) error = %v", err)
	}
	fb, ok := a.(*FallbackAdapter)
	if !ok {
		t.Fatalf("NewAdapter(auto) = %T, want *FallbackAdapter", a)
	}
	if _, ok := fb.Primary().(*HTTPAdapter); !ok {
		t.Fatalf("Primary() = %T, want *HTTPAdapter", fb.Primary())
	}
}

func TestMockAdapterStreamsChunksThatConcatenateToReply(t *testing.T) {
	var chunks []string
	resp, err := NewMockAdapter().StreamResponse(context.Background(), MessageRequest{
		InputText: "how are you",
		History: []Turn{
			{Role: "user", Text: "my name is Ada"},
			{Role: "assistant", Text: "I heard you: my name is Ada"},
		},
	}, func(delta string) error {
		chunks = append(chunks, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	if strings.Join(chunks, "") != resp.Text {
		t.Fatalf("joined chunks = %q, want %q", strings.Join(chunks, ""), resp.Text)
	}
	if !strings.Contains(resp.Text, "I also remember: my name is Ada") {
		t.Fatalf("reply %q does not mention history", resp.Text)
	}
}

func TestMockAdapterStopsOnHandlerError(t *testing.T) {
	stop := errors.New("stop")
	_, err := NewMockAdapter().StreamResponse(context.Background(), MessageRequest{InputText: "a b c"}, func(string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("error = %v, want stop", err)
	}
}

func TestFallbackAdapterUsesFallback(t *testing.T) {
	a := NewFallbackAdapter(errAdapter{}, okAdapter{text: "fallback"})
	resp, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "x"}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.Text != "fallback" {
		t.Fatalf("resp.Text = %q, want fallback", resp.Text)
	}
}

func TestFallbackAdapterSkipsFallbackOnCanceledContext(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(cancelAdapter{}, fb)
	_, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "x"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if fb.calls != 0 {
		t.Fatalf("fallback should not be called, calls = %d", fb.calls)
	}
}

func TestFallbackAdapterSkipsFallbackAfterDelta(t *testing.T) {
	fb := &countingAdapter{text: "fallback"}
	a := NewFallbackAdapter(partialThenErrAdapter{}, fb)
	_, err := a.StreamResponse(context.Background(), MessageRequest{InputText: "x"}, func(string) error { return nil })
	if err == nil {
		t.Fatalf("StreamResponse() expected error")
	}
	if fb.calls != 0 {
		t.Fatalf("fallback should not be called after a delta, calls = %d", fb.calls)
	}
}

type errAdapter struct{}

func (errAdapter) StreamResponse(context.Context, MessageRequest, DeltaHandler) (MessageResponse, error) {
	return MessageResponse{}, errors.New("boom")
}

type okAdapter struct {
	text string
}

func (a okAdapter) StreamResponse(context.Context, MessageRequest, DeltaHandler) (MessageResponse, error) {
	return MessageResponse{Text: a.text}, nil
}

type cancelAdapter struct{}

func (cancelAdapter) StreamResponse(context.Context, MessageRequest, DeltaHandler) (MessageResponse, error) {
	return MessageResponse{}, context.Canceled
}

type partialThenErrAdapter struct{}

func (partialThenErrAdapter) StreamResponse(_ context.Context, _ MessageRequest, onDelta DeltaHandler) (MessageResponse, error) {
	if err := onDelta("half"); err != nil {
		return MessageResponse{}, err
	}
	return MessageResponse{}, errors.New("connection reset")
}

type countingAdapter struct {
	text  string
	calls int
}

func (a *countingAdapter) StreamResponse(context.Context, MessageRequest, DeltaHandler) (MessageResponse, error) {
	a.calls++
	return MessageResponse{Text: a.text}, nil
}
