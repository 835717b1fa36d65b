package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/models"
	"github.com/kalambet/tutord/internal/profile"
	"github.com/kalambet/tutord/internal/provider"
	"github.com/kalambet/tutord/internal/routing"
	"github.com/kalambet/tutord/internal/storage"
)

// fakeProvider streams canned tokens.
type fakeProvider struct {
	name    string
	local   bool
	tokens  []string
	openErr error
	failErr error // fail the stream after the tokens instead of finishing
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Local() bool  { return p.local }
func (p *fakeProvider) Stop()        {}

func (p *fakeProvider) Stream(ctx context.Context, req provider.Request) (*provider.Stream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	st := provider.NewStream()
	go func() {
		for _, tok := range p.tokens {
			if !st.Emit(ctx, chat.Token{Content: tok}) {
				st.Fail(ctx.Err())
				return
			}
		}
		if p.failErr != nil {
			st.Fail(p.failErr)
			return
		}
		st.Emit(ctx, chat.Token{Done: true})
		st.Close()
	}()
	return st, nil
}

func newTestDeps(t *testing.T) AppDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	catalog := models.NewCatalog(models.Spec{
		Name:      "tiny.gguf",
		URL:       "http://127.0.0.1:0/tiny.gguf",
		SizeBytes: 64,
	})
	manager := models.NewManager(t.TempDir(), catalog)

	router := routing.NewRouter(routing.NewTable(), routing.TierFlagship, nil, nil)
	router.Register(&fakeProvider{name: provider.NameOpenAI, tokens: []string{"Hello", " there"}})

	return AppDeps{
		Router:  router,
		Manager: manager,
		Store:   store,
		Profile: profile.NewManager(store),
		Token:   "test-token",
	}
}

// doRequest hits the handler from loopback, the daemon's usual caller.
func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.RemoteAddr = "127.0.0.1:54321"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))
	rr := doRequest(t, h, http.MethodGet, "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestBearerAuth_NonLoopbackRejected(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestBearerAuth_NonLoopbackWithToken(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Authorization", "Bearer test-token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestBearerAuth_WrongToken(t *testing.T) {
	h := NewAppHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestBearerAuth_EmptyTokenClosesDaemon(t *testing.T) {
	deps := newTestDeps(t)
	deps.Token = ""
	h := NewAppHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}
