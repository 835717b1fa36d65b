package device

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/tutord/internal/routing"
)

func TestSnapshotTier(t *testing.T) {
	cases := []struct {
		name string
		snap Snapshot
		want routing.DeviceTier
	}{
		{"flagship with npu", Snapshot{TotalRAMMB: 12288, HasNPU: true}, routing.TierFlagship},
		{"flagship with gpu", Snapshot{TotalRAMMB: 8192, HasGPU: true}, routing.TierFlagship},
		{"big ram no accelerator", Snapshot{TotalRAMMB: 16384}, routing.TierStandard},
		{"standard", Snapshot{TotalRAMMB: 6144}, routing.TierStandard},
		{"minimum", Snapshot{TotalRAMMB: 3072, HasGPU: true}, routing.TierMinimum},
		{"unknown ram", Snapshot{}, routing.TierMinimum},
	}
	for _, tc := range cases {
		if got := tc.snap.Tier(); got != tc.want {
			t.Errorf("%s: Tier = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSelectBackend(t *testing.T) {
	cases := []struct {
		snap Snapshot
		want Backend
	}{
		{Snapshot{HasNPU: true, HasGPU: true}, BackendNPU},
		{Snapshot{HasGPU: true}, BackendGPU},
		{Snapshot{}, BackendCPU},
	}
	for _, tc := range cases {
		if got := SelectBackend(tc.snap); got != tc.want {
			t.Errorf("SelectBackend(%+v) = %v, want %v", tc.snap, got, tc.want)
		}
	}
}

func TestProber_ReachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProber(srv.URL)
	q := p.Quality()
	if q == routing.NetworkOffline {
		t.Errorf("Quality = offline with server up")
	}
}

func TestProber_Offline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewProber(srv.URL)
	if q := p.Quality(); q != routing.NetworkOffline {
		t.Errorf("Quality = %v, want offline", q)
	}
}

func TestProber_CachesSample(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProber(srv.URL)
	p.Quality()
	p.Quality()
	p.Quality()

	if hits != 1 {
		t.Errorf("probe endpoint hit %d times, want 1", hits)
	}
}
