package provider

import (
	"context"
	"strings"

	"github.com/kalambet/tutord/internal/chat"
)

// EngineConfig is the load-time configuration for a native inference
// engine.
type EngineConfig struct {
	ContextSize int
	GPULayers   int
	Threads     int
	Temperature float64
	MaxTokens   int
}

// Engine is a native inference runtime wrapping a llama.cpp style
// library. Generate blocks for the whole run, invoking emit once per
// produced token; Stop aborts a running generation and is safe to call
// from any goroutine.
type Engine interface {
	Load(path string, cfg EngineConfig) error
	Loaded() bool
	Generate(prompt string, maxTokens int, temperature float64, emit func(text string)) error
	Stop()
}

// OnDevice serves completions from a model running inside the process
// via a native engine. It is the provider of last resort when the
// device is offline.
type OnDevice struct {
	engine Engine
}

// NewOnDevice wraps an engine. The engine must already have a model
// loaded, or Stream returns ErrModelNotLoaded.
func NewOnDevice(engine Engine) *OnDevice {
	return &OnDevice{engine: engine}
}

func (c *OnDevice) Name() string { return NameOnDevice }

func (c *OnDevice) Local() bool { return true }

// Stop aborts the running generation, if any.
func (c *OnDevice) Stop() { c.engine.Stop() }

// Stream runs one generation. The engine's emit callback feeds the
// stream; a nil Generate error ends it with the terminal token, an
// error ends it without one.
func (c *OnDevice) Stream(ctx context.Context, req Request) (*Stream, error) {
	if !c.engine.Loaded() {
		return nil, ErrModelNotLoaded
	}

	prompt := FormatPrompt(req.Messages)
	st := NewStream()

	genDone := make(chan struct{})
	go func() {
		defer close(genDone)
		err := c.engine.Generate(prompt, req.MaxTokens, req.Temperature, func(text string) {
			if text == "" {
				return
			}
			st.Emit(ctx, chat.Token{Content: text})
		})
		if err != nil {
			st.Fail(err)
			return
		}
		st.Emit(ctx, chat.Token{Done: true})
		st.Close()
	}()

	// Cancellation reaches the engine through Stop; a stopped run
	// returns nil from Generate and keeps the partial output.
	go func() {
		select {
		case <-ctx.Done():
			c.engine.Stop()
		case <-genDone:
		}
	}()

	return st, nil
}

// FormatPrompt renders a conversation in ChatML, the template the
// bundled model family expects, ending with an open assistant turn.
func FormatPrompt(messages []chat.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		sb.WriteString("<|im_start|>")
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("<|im_end|>\n")
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}
