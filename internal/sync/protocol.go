// Package sync implements the trust-gated sync protocol (spec §4.I/§4.J):
// frontier-based delta exchange between two peers sharing an object store,
// CAS-driven patch application, and the trust gate that decides which
// writers' patches get admitted.
package sync

import (
	"github.com/rohankatakam/warp/internal/patch"
)

// Request is what a client sends to ask a peer for everything newer than
// its own known frontier.
type Request struct {
	Type     string            `codec:"type"`
	Frontier map[string]string `codec:"frontier"`
}

// PatchEnvelope carries one patch plus the writer/commit it came from, so a
// response can be applied without re-deriving provenance.
type PatchEnvelope struct {
	WriterID string      `codec:"writerId"`
	Sha      string      `codec:"sha"`
	Patch    patch.Patch `codec:"patch"`
}

// Response is what a peer sends back: its own frontier (for the client's
// next round) plus the patches needed to catch the client up.
type Response struct {
	Type     string            `codec:"type"`
	Frontier map[string]string `codec:"frontier"`
	Patches  []PatchEnvelope   `codec:"patches"`
}

// Caps bounds a response's size to guard against a hostile or buggy peer.
// Zero-value fields fall back to DefaultCaps' values.
type Caps struct {
	MaxWritersInFrontier int
	MaxPatches           int
	MaxOpsPerPatch       int
	MaxBodyBytes         int
}

// DefaultCaps matches the spec's stated defaults.
func DefaultCaps() Caps {
	return Caps{
		MaxWritersInFrontier: 1024,
		MaxPatches:           10_000,
		MaxOpsPerPatch:       10_000,
		MaxBodyBytes:         10 * 1024 * 1024,
	}
}

func (c Caps) withDefaults() Caps {
	d := DefaultCaps()
	if c.MaxWritersInFrontier <= 0 {
		c.MaxWritersInFrontier = d.MaxWritersInFrontier
	}
	if c.MaxPatches <= 0 {
		c.MaxPatches = d.MaxPatches
	}
	if c.MaxOpsPerPatch <= 0 {
		c.MaxOpsPerPatch = d.MaxOpsPerPatch
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	return c
}
