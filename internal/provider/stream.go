package provider

import (
	"context"
	"sync"

	"github.com/kalambet/tutord/internal/chat"
)

// streamBuffer absorbs short consumer stalls without blocking the
// network read loop.
const streamBuffer = 64

// Stream carries the tokens of one generation attempt. Consumers range
// over Tokens until it closes, then check Err:
//
//	for tok := range st.Tokens() { ... }
//	if err := st.Err(); err != nil { ... }
//
// A successful stream ends with a single terminal token (Done true)
// before the channel closes. A failed stream closes without one and
// Err reports why.
type Stream struct {
	tokens chan chat.Token

	mu     sync.Mutex
	err    error
	closed bool
}

// NewStream creates a stream with the standard buffer. Producers call
// Emit for each token and then exactly one of Close or Fail.
func NewStream() *Stream {
	return &Stream{tokens: make(chan chat.Token, streamBuffer)}
}

// Tokens is the receive side of the stream.
func (s *Stream) Tokens() <-chan chat.Token {
	return s.tokens
}

// Err reports the stream's failure, if any. Meaningful once Tokens has
// closed; nil means the stream ended cleanly.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers one token, giving up when ctx is cancelled. It reports
// whether the producer should continue.
func (s *Stream) Emit(ctx context.Context, tok chat.Token) bool {
	select {
	case s.tokens <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream cleanly.
func (s *Stream) Close() {
	s.finish(nil)
}

// Fail ends the stream with an error.
func (s *Stream) Fail(err error) {
	s.finish(err)
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.tokens)
}

// Collect drains the stream into a single string, stopping at the
// terminal token. It is the non-streaming convenience used by callers
// that want the whole completion at once.
func Collect(s *Stream) (string, error) {
	var b []byte
	for tok := range s.Tokens() {
		if tok.Done {
			break
		}
		b = append(b, tok.Content...)
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return string(b), nil
}
