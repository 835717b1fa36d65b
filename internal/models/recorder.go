package models

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/tutord/internal/storage"
)

// EventStore persists download phase transitions.
type EventStore interface {
	SaveDownloadEvent(e storage.DownloadEvent) error
}

// RecordEvents returns an Observer that lands phase transitions in store.
// Percent ticks inside a phase are not persisted, so a transfer leaves a
// handful of rows instead of one per percent.
func RecordEvents(store EventStore) Observer {
	var mu sync.Mutex
	last := make(map[string]Phase)

	return func(st State) {
		mu.Lock()
		prev, seen := last[st.Model]
		if seen && prev == st.Phase {
			mu.Unlock()
			return
		}
		last[st.Model] = st.Phase
		mu.Unlock()

		e := storage.DownloadEvent{
			CreatedAt:     time.Now().UTC(),
			Model:         st.Model,
			Phase:         st.Phase.String(),
			Percent:       st.Percent,
			ReceivedBytes: st.ReceivedBytes,
			TotalBytes:    st.TotalBytes,
			Error:         st.Err,
		}
		if err := store.SaveDownloadEvent(e); err != nil {
			slog.Warn("dropping download event", "model", st.Model, "error", err)
		}
	}
}
