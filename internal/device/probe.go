package device

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kalambet/tutord/internal/routing"
)

const (
	probeURL      = "http://connectivitycheck.gstatic.com/generate_204"
	probeTimeout  = 3 * time.Second
	probeCacheTTL = 15 * time.Second

	excellentLatency = 150 * time.Millisecond
	goodLatency      = 600 * time.Millisecond
)

// Prober measures network quality by timing a tiny HTTP request.
// Samples are cached so routing can ask per request without hammering
// the probe endpoint.
type Prober struct {
	url        string
	httpClient *http.Client

	mu      sync.Mutex
	sampled time.Time
	quality routing.NetworkQuality
}

// NewProber creates a prober against the given URL; empty means the
// default connectivity check endpoint.
func NewProber(url string) *Prober {
	if url == "" {
		url = probeURL
	}
	return &Prober{
		url: url,
		httpClient: &http.Client{
			Timeout: probeTimeout,
		},
	}
}

// Quality returns the cached sample, refreshing it when stale.
func (p *Prober) Quality() routing.NetworkQuality {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sampled.IsZero() && time.Since(p.sampled) < probeCacheTTL {
		return p.quality
	}
	p.quality = p.sample()
	p.sampled = time.Now()
	return p.quality
}

func (p *Prober) sample() routing.NetworkQuality {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return routing.NetworkOffline
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return routing.NetworkOffline
	}
	resp.Body.Close()
	latency := time.Since(start)

	switch {
	case latency <= excellentLatency:
		return routing.NetworkExcellent
	case latency <= goodLatency:
		return routing.NetworkGood
	default:
		return routing.NetworkPoor
	}
}
