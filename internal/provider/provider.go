// Package provider defines the streaming LLM provider abstraction and
// the concrete clients behind it. Every provider turns a conversation
// into a token stream that ends with exactly one terminal token.
package provider

import (
	"context"
	"errors"

	"github.com/kalambet/tutord/internal/chat"
)

// Registry names for the built-in providers. The routing table refers
// to providers by these names.
const (
	NameAnthropic = "anthropic"
	NameOpenAI    = "openai"
	NameEdge      = "edge"
	NameOnDevice  = "ondevice"
)

var (
	// ErrAuthFailed marks a rejected credential (HTTP 401). Callers
	// should surface it instead of retrying.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrModelNotLoaded is returned by the on-device provider when no
	// model file has been loaded into the engine.
	ErrModelNotLoaded = errors.New("model not loaded")
)

// Request is a single generation attempt. Model overrides the
// provider's default when non-empty; MaxTokens and Temperature are
// passed through when positive.
type Request struct {
	Messages    []chat.Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider streams completions for conversations.
//
// Stream returns once the attempt is underway; tokens arrive on the
// returned Stream. A Stream is single-use: resuming after interruption
// means calling Stream again with the full conversation.
type Provider interface {
	// Name is the registry name the routing table uses.
	Name() string
	// Local reports whether the provider can serve without network
	// connectivity.
	Local() bool
	// Stream starts one generation attempt.
	Stream(ctx context.Context, req Request) (*Stream, error)
	// Stop aborts the in-flight generation, if any. Safe to call at
	// any time, from any goroutine.
	Stop()
}
