package models

import "encoding/json"

// Phase is a download's position in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDownloading
	PhaseVerifying
	PhaseComplete
	PhaseError
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDownloading:
		return "downloading"
	case PhaseVerifying:
		return "verifying"
	case PhaseComplete:
		return "complete"
	case PhaseError:
		return "error"
	case PhaseCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the phase ends a download attempt.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// MarshalJSON renders the phase as its name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// State is a snapshot of one model's download. Percent is -1 while the
// total size is unknown.
type State struct {
	Model         string `json:"model"`
	Phase         Phase  `json:"phase"`
	Percent       int    `json:"percent"`
	ReceivedBytes int64  `json:"received_bytes"`
	TotalBytes    int64  `json:"total_bytes"`
	Err           string `json:"error,omitempty"`
}

// Observer receives state snapshots. During a transfer it fires only
// when the integer percent moves; phase changes always fire.
type Observer func(State)
