package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/tutord/internal/chat"
)

// scriptedEngine plays back a fixed token sequence.
type scriptedEngine struct {
	loaded bool
	tokens []string
	genErr error
}

func (e *scriptedEngine) Load(path string, cfg EngineConfig) error { e.loaded = true; return nil }
func (e *scriptedEngine) Loaded() bool                             { return e.loaded }
func (e *scriptedEngine) Stop()                                    {}

func (e *scriptedEngine) Generate(prompt string, maxTokens int, temperature float64, emit func(string)) error {
	for _, tok := range e.tokens {
		emit(tok)
	}
	return e.genErr
}

// blockingEngine emits one token and then waits for Stop.
type blockingEngine struct {
	started  chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (e *blockingEngine) Load(path string, cfg EngineConfig) error { return nil }
func (e *blockingEngine) Loaded() bool                             { return true }

func (e *blockingEngine) Generate(prompt string, maxTokens int, temperature float64, emit func(string)) error {
	emit("first")
	close(e.started)
	<-e.stopped
	return nil
}

func (e *blockingEngine) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

func TestOnDeviceStream_Tokens(t *testing.T) {
	eng := &scriptedEngine{loaded: true, tokens: []string{"Hel", "lo"}}
	c := NewOnDevice(eng)

	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	tokens, streamErr := drain(t, st)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if len(tokens) != 3 {
		t.Fatalf("got %d tokens, want 3", len(tokens))
	}
	if tokens[0].Content != "Hel" || tokens[1].Content != "lo" || !tokens[2].Done {
		t.Errorf("tokens = %+v", tokens)
	}
}

func TestOnDeviceStream_NotLoaded(t *testing.T) {
	c := NewOnDevice(&scriptedEngine{loaded: false})
	_, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if !errors.Is(err, ErrModelNotLoaded) {
		t.Fatalf("err = %v, want ErrModelNotLoaded", err)
	}
}

func TestOnDeviceStream_EngineError(t *testing.T) {
	eng := &scriptedEngine{loaded: true, tokens: []string{"par"}, genErr: errors.New("decode failed")}
	c := NewOnDevice(eng)

	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	tokens, streamErr := drain(t, st)
	if streamErr == nil {
		t.Fatal("expected stream error")
	}
	for _, tok := range tokens {
		if tok.Done {
			t.Error("failed stream must not carry a terminal token")
		}
	}
}

func TestOnDeviceStream_StopKeepsPartial(t *testing.T) {
	eng := newBlockingEngine()
	c := NewOnDevice(eng)

	st, err := c.Stream(context.Background(), Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	first := <-st.Tokens()
	if first.Content != "first" {
		t.Fatalf("first token = %+v", first)
	}

	c.Stop()

	var rest []chat.Token
	for tok := range st.Tokens() {
		rest = append(rest, tok)
	}
	if streamErr := st.Err(); streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if len(rest) != 1 || !rest[0].Done {
		t.Fatalf("tokens after stop = %+v, want single terminal", rest)
	}
}

func TestOnDeviceStream_ContextCancelStopsEngine(t *testing.T) {
	eng := newBlockingEngine()
	c := NewOnDevice(eng)

	ctx, cancel := context.WithCancel(context.Background())
	st, err := c.Stream(ctx, Request{Messages: userMessages("hi")})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	<-eng.started
	cancel()

	select {
	case <-eng.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("engine was not stopped after context cancellation")
	}

	for range st.Tokens() {
	}
}

func TestFormatPrompt(t *testing.T) {
	got := FormatPrompt([]chat.Message{
		chat.System("You are a tutor"),
		chat.User("hi"),
	})
	want := "<|im_start|>system\nYou are a tutor<|im_end|>\n" +
		"<|im_start|>user\nhi<|im_end|>\n" +
		"<|im_start|>assistant\n"
	if got != want {
		t.Errorf("FormatPrompt = %q, want %q", got, want)
	}
}
