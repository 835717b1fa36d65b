// Package device captures the hardware and connectivity signals that
// feed routing and model eligibility decisions.
package device

import (
	"github.com/kalambet/tutord/internal/routing"
)

// Backend is the compute backend a native engine should run on.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
	BackendNPU
)

func (b Backend) String() string {
	switch b {
	case BackendNPU:
		return "npu"
	case BackendGPU:
		return "gpu"
	case BackendCPU:
		return "cpu"
	}
	return "unknown"
}

// Snapshot is a point-in-time view of the hardware. It is taken once at
// startup; config overrides fill in what detection cannot see.
type Snapshot struct {
	TotalRAMMB int
	HasGPU     bool
	HasNPU     bool
}

// Detect builds a snapshot from what the platform exposes. Accelerator
// presence cannot be probed portably and defaults to false.
func Detect() Snapshot {
	return Snapshot{TotalRAMMB: totalRAMMB()}
}

// Tier buckets the snapshot for routing. Flagship needs both memory
// headroom and an accelerator; standard needs the memory alone.
func (s Snapshot) Tier() routing.DeviceTier {
	switch {
	case s.TotalRAMMB >= 8192 && (s.HasNPU || s.HasGPU):
		return routing.TierFlagship
	case s.TotalRAMMB >= 4096:
		return routing.TierStandard
	default:
		return routing.TierMinimum
	}
}

// SelectBackend picks the best available compute backend, preferring
// dedicated accelerators over the CPU.
func SelectBackend(s Snapshot) Backend {
	switch {
	case s.HasNPU:
		return BackendNPU
	case s.HasGPU:
		return BackendGPU
	default:
		return BackendCPU
	}
}
