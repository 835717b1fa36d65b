package models

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	reachTimeout  = 5 * time.Second
	reachCacheTTL = 5 * time.Minute
)

type reachEntry struct {
	ok      bool
	checked time.Time
}

// reachCache answers "is this URL fetchable right now" with a short
// cache. Concurrent checks of the same URL collapse into one request.
type reachCache struct {
	httpClient *http.Client
	flights    singleflight.Group

	mu      sync.Mutex
	entries map[string]reachEntry
}

func newReachCache() *reachCache {
	return &reachCache{
		httpClient: &http.Client{
			Timeout: reachTimeout,
		},
		entries: make(map[string]reachEntry),
	}
}

func (r *reachCache) reachable(ctx context.Context, url string) bool {
	r.mu.Lock()
	e, ok := r.entries[url]
	r.mu.Unlock()
	if ok && time.Since(e.checked) < reachCacheTTL {
		return e.ok
	}

	v, _, _ := r.flights.Do(url, func() (any, error) {
		ok := r.check(ctx, url)
		r.mu.Lock()
		r.entries[url] = reachEntry{ok: ok, checked: time.Now()}
		r.mu.Unlock()
		return ok, nil
	})
	result, _ := v.(bool)
	return result
}

func (r *reachCache) check(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, reachTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusBadRequest
}

// Reachable reports whether a model's source URL currently answers.
// Results are cached briefly and concurrent checks are deduplicated.
func (m *Manager) Reachable(ctx context.Context, name string) bool {
	spec, ok := m.catalog.Get(name)
	if !ok {
		return false
	}
	return m.reach.reachable(ctx, spec.URL)
}
