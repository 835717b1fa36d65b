package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const (
	partialSuffix = ".download"
	copyBufSize   = 256 * 1024
)

// Manager downloads catalog models into a directory, resuming partial
// transfers and verifying checksums before the final rename. One
// download per model runs at a time; concurrent requests join it.
type Manager struct {
	dir        string
	catalog    *Catalog
	httpClient *http.Client

	flights singleflight.Group
	reach   *reachCache

	mu        sync.Mutex
	states    map[string]State
	cancels   map[string]context.CancelFunc
	observers []Observer
}

// NewManager creates a manager storing models under dir.
func NewManager(dir string, catalog *Catalog) *Manager {
	return &Manager{
		dir:     dir,
		catalog: catalog,
		httpClient: &http.Client{
			Timeout: 0,
		},
		reach:   newReachCache(),
		states:  make(map[string]State),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Catalog returns the catalog the manager serves.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Subscribe adds an observer for state changes.
func (m *Manager) Subscribe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Path is the final on-disk location for a model.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name)
}

func (m *Manager) partialPath(name string) string {
	return m.Path(name) + partialSuffix
}

// Downloaded reports whether the final file exists.
func (m *Manager) Downloaded(name string) bool {
	_, err := os.Stat(m.Path(name))
	return err == nil
}

// State returns the live state of a model, or one derived from disk
// when no attempt is running.
func (m *Manager) State(name string) State {
	m.mu.Lock()
	st, ok := m.states[name]
	m.mu.Unlock()
	if ok {
		return st
	}
	if fi, err := os.Stat(m.Path(name)); err == nil {
		return State{Model: name, Phase: PhaseComplete, Percent: 100, ReceivedBytes: fi.Size(), TotalBytes: fi.Size()}
	}
	return State{Model: name, Phase: PhaseIdle, Percent: -1}
}

// ModelStatus pairs a catalog spec with its local state.
type ModelStatus struct {
	Spec       Spec  `json:"spec"`
	State      State `json:"state"`
	Downloaded bool  `json:"downloaded"`
}

// List reports every catalog model with its current state.
func (m *Manager) List() []ModelStatus {
	specs := m.catalog.List()
	out := make([]ModelStatus, 0, len(specs))
	for _, s := range specs {
		out = append(out, ModelStatus{
			Spec:       s,
			State:      m.State(s.Name),
			Downloaded: m.Downloaded(s.Name),
		})
	}
	return out
}

// Download fetches a model, resuming any partial file, and returns its
// terminal state. A model that is already on disk completes
// immediately. Concurrent calls for the same model share one attempt.
func (m *Manager) Download(ctx context.Context, name string) (State, error) {
	spec, ok := m.catalog.Get(name)
	if !ok {
		return State{}, fmt.Errorf("unknown model %q", name)
	}

	v, err, _ := m.flights.Do(name, func() (any, error) {
		return m.run(ctx, spec)
	})
	st, _ := v.(State)
	return st, err
}

// Cancel aborts a running download, leaving the partial file for a
// later resume. It reports whether a download was running.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	cancel, ok := m.cancels[name]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Delete removes the model's final file and any partial, cancelling a
// running download first. It reports whether anything existed.
func (m *Manager) Delete(name string) (bool, error) {
	m.Cancel(name)

	existed := false
	for _, p := range []string{m.Path(name), m.partialPath(name)} {
		err := os.Remove(p)
		if err == nil {
			existed = true
			continue
		}
		if !os.IsNotExist(err) {
			return existed, fmt.Errorf("removing %s: %w", p, err)
		}
	}

	m.mu.Lock()
	delete(m.states, name)
	m.mu.Unlock()
	return existed, nil
}

func (m *Manager) run(ctx context.Context, spec Spec) (State, error) {
	if fi, err := os.Stat(m.Path(spec.Name)); err == nil {
		st := State{Model: spec.Name, Phase: PhaseComplete, Percent: 100, ReceivedBytes: fi.Size(), TotalBytes: fi.Size()}
		m.post(st)
		return st, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[spec.Name] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, spec.Name)
		m.mu.Unlock()
	}()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return m.fail(spec.Name, 0, 0, fmt.Errorf("creating models dir: %w", err))
	}

	received, total, err := m.fetch(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			st := State{Model: spec.Name, Phase: PhaseCancelled, Percent: percent(received, total), ReceivedBytes: received, TotalBytes: total}
			m.post(st)
			return st, ctx.Err()
		}
		return m.fail(spec.Name, received, total, err)
	}

	m.post(State{Model: spec.Name, Phase: PhaseVerifying, Percent: percent(received, total), ReceivedBytes: received, TotalBytes: total})

	partial := m.partialPath(spec.Name)
	if spec.SHA256 == "" {
		slog.Info("model has no checksum, skipping verification", "model", spec.Name)
	} else {
		sum, err := fileSHA256(partial)
		if err != nil {
			return m.fail(spec.Name, received, total, fmt.Errorf("hashing download: %w", err))
		}
		if !strings.EqualFold(sum, spec.SHA256) {
			os.Remove(partial)
			return m.fail(spec.Name, received, total, fmt.Errorf("checksum mismatch: got %s, want %s", sum, strings.ToLower(spec.SHA256)))
		}
	}

	if err := os.Rename(partial, m.Path(spec.Name)); err != nil {
		return m.fail(spec.Name, received, total, fmt.Errorf("finalizing download: %w", err))
	}

	st := State{Model: spec.Name, Phase: PhaseComplete, Percent: 100, ReceivedBytes: received, TotalBytes: total}
	m.post(st)
	return st, nil
}

// fetch transfers the remote file into the partial path, resuming from
// its current size. It returns the bytes on disk and the best known
// total.
func (m *Manager) fetch(ctx context.Context, spec Spec) (int64, int64, error) {
	partial := m.partialPath(spec.Name)

	var offset int64
	if fi, err := os.Stat(partial); err == nil {
		offset = fi.Size()
	}

	resp, offset, err := m.openBody(ctx, spec, partial, offset)
	if err != nil {
		return offset, spec.SizeBytes, err
	}
	defer resp.Body.Close()

	total := totalSize(resp, offset, spec.SizeBytes)

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return offset, total, fmt.Errorf("opening partial file: %w", err)
	}

	received := offset
	lastPct := -2
	if pct := percent(received, total); pct != lastPct {
		lastPct = pct
		m.post(State{Model: spec.Name, Phase: PhaseDownloading, Percent: pct, ReceivedBytes: received, TotalBytes: total})
	}

	buf := make([]byte, copyBufSize)
	for {
		// Cancellation is polled once per buffer read so a partial
		// file is always left in a resumable state.
		if err := ctx.Err(); err != nil {
			f.Close()
			return received, total, err
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return received, total, fmt.Errorf("writing download: %w", werr)
			}
			received += int64(n)
			if pct := percent(received, total); pct != lastPct {
				lastPct = pct
				m.post(State{Model: spec.Name, Phase: PhaseDownloading, Percent: pct, ReceivedBytes: received, TotalBytes: total})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			return received, total, fmt.Errorf("reading download: %w", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return received, total, fmt.Errorf("closing partial file: %w", err)
	}
	return received, total, nil
}

// openBody issues the GET, with a Range header when resuming. A server
// that answers a range request with 200 or 416 gets one clean retry
// from byte zero after the stale partial is dropped.
func (m *Manager) openBody(ctx context.Context, spec Spec, partial string, offset int64) (*http.Response, int64, error) {
	resp, err := m.request(ctx, spec.URL, offset)
	if err != nil {
		return nil, offset, err
	}

	if offset > 0 {
		switch resp.StatusCode {
		case http.StatusPartialContent:
			return resp, offset, nil
		case http.StatusOK, http.StatusRequestedRangeNotSatisfiable:
			resp.Body.Close()
			slog.Warn("server did not honor range request, restarting",
				"model", spec.Name, "status", resp.StatusCode, "offset", offset)
			if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
				return nil, 0, fmt.Errorf("dropping stale partial: %w", err)
			}
			resp, err = m.request(ctx, spec.URL, 0)
			if err != nil {
				return nil, 0, err
			}
			offset = 0
		default:
			resp.Body.Close()
			return nil, offset, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, offset, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, offset, nil
}

func (m *Manager) request(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model: %w", err)
	}
	return resp, nil
}

// totalSize picks the best available total: Content-Range wins, then
// Content-Length plus the resume offset, then the catalog's declared
// size.
func totalSize(resp *http.Response, offset int64, declared int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if v, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil && v > 0 {
				return v
			}
		}
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength + offset
	}
	return declared
}

func percent(received, total int64) int {
	if total <= 0 {
		return -1
	}
	pct := int(received * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (m *Manager) fail(name string, received, total int64, err error) (State, error) {
	st := State{Model: name, Phase: PhaseError, Percent: percent(received, total), ReceivedBytes: received, TotalBytes: total, Err: err.Error()}
	m.post(st)
	return st, err
}

func (m *Manager) post(st State) {
	m.mu.Lock()
	m.states[st.Model] = st
	obs := make([]Observer, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()
	for _, fn := range obs {
		fn(st)
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
