// Package routing decides which provider handles a request. A static
// table maps task categories and cost preferences to ordered candidate
// lists, and runtime signals (network, device, user preference) narrow
// the list before the router walks it.
package routing

import (
	"fmt"

	"github.com/kalambet/tutord/internal/classify"
)

// DeviceTier buckets hardware capability. It is derived once at startup
// and gates which providers get registered; routing itself treats it as
// an opaque label.
type DeviceTier int

const (
	TierMinimum DeviceTier = iota
	TierStandard
	TierFlagship
)

func (t DeviceTier) String() string {
	switch t {
	case TierFlagship:
		return "flagship"
	case TierStandard:
		return "standard"
	case TierMinimum:
		return "minimum"
	}
	return "unknown"
}

// ParseDeviceTier maps a config value to a tier. Unrecognized values
// fall back to the minimum tier rather than failing startup.
func ParseDeviceTier(s string) DeviceTier {
	switch s {
	case "flagship":
		return TierFlagship
	case "standard":
		return TierStandard
	default:
		return TierMinimum
	}
}

// NetworkQuality is the coarse connectivity signal sampled per request.
type NetworkQuality int

const (
	NetworkOffline NetworkQuality = iota
	NetworkPoor
	NetworkGood
	NetworkExcellent
)

func (q NetworkQuality) String() string {
	switch q {
	case NetworkExcellent:
		return "excellent"
	case NetworkGood:
		return "good"
	case NetworkPoor:
		return "poor"
	case NetworkOffline:
		return "offline"
	}
	return "unknown"
}

func ParseNetworkQuality(s string) (NetworkQuality, error) {
	switch s {
	case "excellent":
		return NetworkExcellent, nil
	case "good":
		return NetworkGood, nil
	case "poor":
		return NetworkPoor, nil
	case "offline":
		return NetworkOffline, nil
	}
	return NetworkOffline, fmt.Errorf("unknown network quality %q", s)
}

// CostPreference is the user's quality/cost trade-off.
type CostPreference int

const (
	PreferBalanced CostPreference = iota
	PreferQuality
	PreferCost
)

func (p CostPreference) String() string {
	switch p {
	case PreferQuality:
		return "quality"
	case PreferBalanced:
		return "balanced"
	case PreferCost:
		return "cost"
	}
	return "unknown"
}

func ParseCostPreference(s string) (CostPreference, error) {
	switch s {
	case "quality":
		return PreferQuality, nil
	case "balanced":
		return PreferBalanced, nil
	case "cost":
		return PreferCost, nil
	}
	return PreferBalanced, fmt.Errorf("unknown cost preference %q", s)
}

// Context carries everything the table needs to produce a candidate
// list for one request.
type Context struct {
	Category       classify.TaskCategory
	DeviceTier     DeviceTier
	NetworkQuality NetworkQuality
	CostPreference CostPreference
}

// NetworkProbe reports current connectivity. Implementations may cache;
// the router samples it once per Send.
type NetworkProbe interface {
	Quality() NetworkQuality
}

// StaticNetwork is a probe pinned to a fixed quality, used for tests
// and for the config override.
type StaticNetwork NetworkQuality

func (s StaticNetwork) Quality() NetworkQuality { return NetworkQuality(s) }

// PreferenceSource yields the learner's current cost preference.
type PreferenceSource interface {
	CostPreference() CostPreference
}

// StaticPreference is a fixed-value PreferenceSource.
type StaticPreference CostPreference

func (s StaticPreference) CostPreference() CostPreference { return CostPreference(s) }
