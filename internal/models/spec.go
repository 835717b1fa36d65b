// Package models manages the on-device model catalog and the download
// lifecycle that takes a catalog entry from a remote URL to a verified
// local file.
package models

import (
	"github.com/kalambet/tutord/internal/device"
)

// Spec describes one downloadable model. Name doubles as the on-disk
// file name, so catalog names stay filesystem-safe.
type Spec struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	MinRAMMB    int    `json:"min_ram_mb"`
	ContextSize int    `json:"context_size"`
}

// EligibleFor reports whether the device has the memory headroom the
// model needs. A zero MinRAMMB means no requirement.
func (s Spec) EligibleFor(snap device.Snapshot) bool {
	return s.MinRAMMB == 0 || snap.TotalRAMMB >= s.MinRAMMB
}

// Catalog is the ordered set of models the app knows how to fetch.
type Catalog struct {
	specs map[string]Spec
	order []string
}

// NewCatalog builds a catalog preserving declaration order. Duplicate
// names keep the last spec.
func NewCatalog(specs ...Spec) *Catalog {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if _, seen := c.specs[s.Name]; !seen {
			c.order = append(c.order, s.Name)
		}
		c.specs[s.Name] = s
	}
	return c
}

// Get returns the spec for a name.
func (c *Catalog) Get(name string) (Spec, bool) {
	s, ok := c.specs[name]
	return s, ok
}

// List returns the specs in declaration order.
func (c *Catalog) List() []Spec {
	out := make([]Spec, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.specs[name])
	}
	return out
}

// Best returns the largest eligible model for the snapshot, or false
// when none fits.
func (c *Catalog) Best(snap device.Snapshot) (Spec, bool) {
	var best Spec
	found := false
	for _, s := range c.List() {
		if !s.EligibleFor(snap) {
			continue
		}
		if !found || s.SizeBytes > best.SizeBytes {
			best = s
			found = true
		}
	}
	return best, found
}

// DefaultCatalog is the built-in model set, smallest first.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Spec{
			Name:        "qwen2.5-0.5b-instruct-q4_k_m.gguf",
			URL:         "https://huggingface.co/Qwen/Qwen2.5-0.5B-Instruct-GGUF/resolve/main/qwen2.5-0.5b-instruct-q4_k_m.gguf",
			SHA256:      "8e1fd633ca00418da19be9ba262dba85f99ff5a9b4700f3ba1c40bfbab3d1f9a",
			SizeBytes:   491_666_688,
			MinRAMMB:    2048,
			ContextSize: 4096,
		},
		Spec{
			Name:        "qwen2.5-1.5b-instruct-q4_k_m.gguf",
			URL:         "https://huggingface.co/Qwen/Qwen2.5-1.5B-Instruct-GGUF/resolve/main/qwen2.5-1.5b-instruct-q4_k_m.gguf",
			SHA256:      "1fd9346295ba9e97d3f1a35f4bd7f52f80a04f3c1e9e96b1c47f9aec1f6e9d0b",
			SizeBytes:   1_117_320_512,
			MinRAMMB:    4096,
			ContextSize: 8192,
		},
		Spec{
			Name:        "qwen2.5-3b-instruct-q4_k_m.gguf",
			URL:         "https://huggingface.co/Qwen/Qwen2.5-3B-Instruct-GGUF/resolve/main/qwen2.5-3b-instruct-q4_k_m.gguf",
			SHA256:      "4ccf2b918dfd833c34b0b4b50e4a2cc7bb634a2f4c9c4b8a39c6079d374a86de",
			SizeBytes:   2_104_932_352,
			MinRAMMB:    6144,
			ContextSize: 8192,
		},
	)
}
