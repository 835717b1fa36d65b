package routing

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutord/internal/storage"
)

// DecisionStore persists routed-request metrics.
type DecisionStore interface {
	SaveDecision(d storage.RoutingDecision) error
}

// StoreRecorder lands decisions in the routing_decisions table. Insert
// failures are logged and dropped so metrics never fail a request.
type StoreRecorder struct {
	store DecisionStore
}

func NewStoreRecorder(store DecisionStore) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// RecordDecision implements Recorder.
func (r *StoreRecorder) RecordDecision(d Decision) {
	candidates := "[]"
	if len(d.Candidates) > 0 {
		b, _ := json.Marshal(d.Candidates)
		candidates = string(b)
	}
	status := "ok"
	if d.Err != "" {
		status = "error"
	}
	at := d.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := storage.RoutingDecision{
		ID:             uuid.New().String(),
		CreatedAt:      at,
		Category:       d.Category.String(),
		DeviceTier:     d.Tier.String(),
		Network:        d.Network.String(),
		CostPreference: d.Preference.String(),
		Candidates:     candidates,
		Provider:       d.Provider,
		TTFTMillis:     d.TTFT.Milliseconds(),
		Status:         status,
		Error:          d.Err,
	}
	if err := r.store.SaveDecision(row); err != nil {
		slog.Warn("dropping routing decision record", "error", err)
	}
}
