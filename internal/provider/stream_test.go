package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/tutord/internal/chat"
)

func TestCollect(t *testing.T) {
	st := NewStream()
	go func() {
		ctx := context.Background()
		st.Emit(ctx, chat.Token{Content: "Hello"})
		st.Emit(ctx, chat.Token{Content: " world"})
		st.Emit(ctx, chat.Token{Done: true})
		st.Close()
	}()

	got, err := Collect(st)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("Collect = %q, want %q", got, "Hello world")
	}
}

func TestCollect_Error(t *testing.T) {
	st := NewStream()
	go func() {
		st.Emit(context.Background(), chat.Token{Content: "partial"})
		st.Fail(errors.New("boom"))
	}()

	_, err := Collect(st)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestStream_EmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := NewStream()
	// Fill the buffer so the send side cannot proceed.
	for range streamBuffer {
		if !st.Emit(context.Background(), chat.Token{Content: "x"}) {
			t.Fatal("buffered emit should succeed")
		}
	}
	if st.Emit(ctx, chat.Token{Content: "y"}) {
		t.Error("emit with cancelled context and full buffer should fail")
	}
}

func TestStream_FinishTwice(t *testing.T) {
	st := NewStream()
	st.Close()
	st.Fail(errors.New("late"))

	if err := st.Err(); err != nil {
		t.Errorf("Err = %v, want nil after Close won", err)
	}
	if _, ok := <-st.Tokens(); ok {
		t.Error("tokens channel should be closed")
	}
}
