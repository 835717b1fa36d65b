package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// RoutingDecision is one routed request as landed in the metrics table.
// Enum fields are stored as their display names so the rows read well
// in raw SQL.
type RoutingDecision struct {
	ID             string
	CreatedAt      time.Time
	Category       string
	DeviceTier     string
	Network        string
	CostPreference string
	Candidates     string // JSON array stored as text
	Provider       string
	TTFTMillis     int64
	Status         string // "ok", "error"
	Error          string
}

// DownloadEvent is one phase transition of a model transfer.
type DownloadEvent struct {
	ID            int64
	CreatedAt     time.Time
	Model         string
	Phase         string
	Percent       int
	ReceivedBytes int64
	TotalBytes    int64
	Error         string
}

// Job is one row of the persistent work queue. PayloadJSON is opaque to
// the store; the worker decodes it per Type.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string

	Status      string // pending | running | completed | failed
	Attempts    int
	MaxAttempts int
	LastError   string

	RunAfter  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
