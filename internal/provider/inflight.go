package provider

import (
	"context"
	"sync"
	"time"
)

// inflight remembers the cancel function of the most recent request so
// Stop can abort it from any goroutine. Cancelling an already-finished
// request is a no-op.
type inflight struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

func newInflight() *inflight { return &inflight{} }

// begin derives the request context, with a deadline when timeout is
// positive, and records its cancel as the current one.
func (f *inflight) begin(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var reqCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		reqCtx, cancel = context.WithCancel(ctx)
	}
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	return reqCtx, cancel
}

// stop cancels the most recently begun request, if any.
func (f *inflight) stop() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
