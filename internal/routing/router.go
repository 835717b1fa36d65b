package routing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/classify"
	"github.com/kalambet/tutord/internal/provider"
)

// ErrNoProvider means no registered provider matched the candidate
// list. It surfaces before any network or engine I/O.
var ErrNoProvider = errors.New("no provider available")

// Decision is the record of one routing choice, completed with timing
// once the stream ends.
type Decision struct {
	At         time.Time
	Category   classify.TaskCategory
	Tier       DeviceTier
	Network    NetworkQuality
	Preference CostPreference
	Candidates []string
	Provider   string
	TTFT       time.Duration
	Err        string
}

// Recorder sinks completed routing decisions.
type Recorder interface {
	RecordDecision(d Decision)
}

// Composer decorates a conversation after the routing decision and before
// the provider call. The decision never depends on what it adds.
type Composer interface {
	Compose(conversation []chat.Message) []chat.Message
}

// Router picks a provider per request and relays its stream. Each Send
// is a fresh attempt over the full conversation; an interrupted stream
// is resumed by calling Send again, never by splicing mid-stream.
type Router struct {
	table   *Table
	tier    DeviceTier
	network NetworkProbe
	prefs   PreferenceSource

	mu        sync.Mutex
	providers map[string]provider.Provider
	recorder  Recorder
	composer  Composer
	last      provider.Provider
}

// NewRouter creates a router over the given table. Nil probe and
// preference sources default to good network and balanced cost.
func NewRouter(table *Table, tier DeviceTier, network NetworkProbe, prefs PreferenceSource) *Router {
	if network == nil {
		network = StaticNetwork(NetworkGood)
	}
	if prefs == nil {
		prefs = StaticPreference(PreferBalanced)
	}
	return &Router{
		table:     table,
		tier:      tier,
		network:   network,
		prefs:     prefs,
		providers: make(map[string]provider.Provider),
	}
}

// Register adds a provider under its own name. Later registrations
// replace earlier ones with the same name.
func (r *Router) Register(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// SetRecorder installs the decision sink.
func (r *Router) SetRecorder(rec Recorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// SetComposer installs the conversation decorator.
func (r *Router) SetComposer(c Composer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.composer = c
}

// Providers returns the registered provider names with their locality.
func (r *Router) Providers() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.providers))
	for name, p := range r.providers {
		out[name] = p.Local()
	}
	return out
}

func (r *Router) lookup(name string) provider.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[name]
}

func (r *Router) isLocal(name string) bool {
	p := r.lookup(name)
	return p != nil && p.Local()
}

// resolve classifies the conversation, samples the runtime signals and
// walks the candidate list to the first registered provider.
func (r *Router) resolve(messages []chat.Message) (Decision, []string, provider.Provider) {
	d := Decision{
		At:         time.Now(),
		Category:   classify.Classify(messages),
		Tier:       r.tier,
		Network:    r.network.Quality(),
		Preference: r.prefs.CostPreference(),
	}
	rc := Context{
		Category:       d.Category,
		DeviceTier:     d.Tier,
		NetworkQuality: d.Network,
		CostPreference: d.Preference,
	}
	candidates := r.table.Candidates(rc, r.isLocal)
	d.Candidates = candidates

	for _, name := range candidates {
		if p := r.lookup(name); p != nil {
			d.Provider = name
			return d, candidates, p
		}
	}
	return d, candidates, nil
}

// Preview reports how a conversation would route, without sending.
func (r *Router) Preview(messages []chat.Message) Decision {
	d, _, _ := r.resolve(messages)
	return d
}

// Send routes the conversation and starts a stream on the chosen
// provider. There is no automatic failover: errors from the chosen
// provider surface to the caller, who retries with a fresh Send.
func (r *Router) Send(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	d, candidates, p := r.resolve(req.Messages)
	if p == nil {
		slog.Warn("no provider for request",
			"category", d.Category.String(),
			"network", d.Network.String(),
			"candidates", candidates)
		return nil, ErrNoProvider
	}

	r.mu.Lock()
	r.last = p
	comp := r.composer
	r.mu.Unlock()

	if comp != nil {
		req.Messages = comp.Compose(req.Messages)
	}

	slog.Debug("routing request",
		"category", d.Category.String(),
		"network", d.Network.String(),
		"preference", d.Preference.String(),
		"provider", d.Provider)

	inner, err := p.Stream(ctx, req)
	if err != nil {
		d.Err = err.Error()
		r.record(d)
		return nil, err
	}
	return r.relay(ctx, inner, d), nil
}

// Stop aborts the stream of the most recent Send, if any.
func (r *Router) Stop() {
	r.mu.Lock()
	last := r.last
	r.mu.Unlock()
	if last != nil {
		last.Stop()
	}
}

// relay copies tokens from the provider stream onto a fresh stream,
// timing the first token and recording the decision once the stream
// settles.
func (r *Router) relay(ctx context.Context, inner *provider.Stream, d Decision) *provider.Stream {
	outer := provider.NewStream()
	start := time.Now()

	go func() {
		var ttft time.Duration
		for tok := range inner.Tokens() {
			if ttft == 0 {
				ttft = time.Since(start)
			}
			if !outer.Emit(ctx, tok) {
				outer.Fail(ctx.Err())
				d.TTFT = ttft
				d.Err = ctx.Err().Error()
				r.record(d)
				return
			}
		}
		d.TTFT = ttft
		if err := inner.Err(); err != nil {
			d.Err = err.Error()
			outer.Fail(err)
		} else {
			outer.Close()
		}
		r.record(d)
	}()

	return outer
}

func (r *Router) record(d Decision) {
	r.mu.Lock()
	rec := r.recorder
	r.mu.Unlock()
	if rec != nil {
		rec.RecordDecision(d)
	}
	slog.Debug("routing decision",
		"category", d.Category.String(),
		"provider", d.Provider,
		"ttft_ms", d.TTFT.Milliseconds(),
		"error", d.Err)
}
