package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// rateLimitError marks an HTTP 429 so the retry driver can tell it
// apart from terminal failures.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

// openWithRetry runs open until it succeeds or fails with something
// other than a rate limit. The wait between attempts starts at
// initialBackoff and doubles each round.
func openWithRetry(ctx context.Context, open func(context.Context) (io.ReadCloser, error)) (io.ReadCloser, error) {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		rc, err := open(ctx)
		var limited *rateLimitError
		if err == nil || !errors.As(err, &limited) {
			return rc, err
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, err)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// bodyWithCancel releases the request context once the stream reader
// is done with the response body.
type bodyWithCancel struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (b *bodyWithCancel) Read(p []byte) (int, error) { return b.rc.Read(p) }

func (b *bodyWithCancel) Close() error {
	defer b.cancel()
	return b.rc.Close()
}
