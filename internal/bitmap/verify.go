package bitmap

import (
	"context"
	"math/rand"
	"sort"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/reduce"
)

// Mismatch describes one node whose indexed children diverge from the
// ground truth recomputed directly from state.
type Mismatch struct {
	Node     string
	Expected []string
	Got      []string
}

// Verify draws a seeded sample of up to sampleSize alive nodes from state
// and cross-checks the index's forward adjacency against adjacency
// recomputed directly from state's alive edges. The seed is deterministic
// so a failing Verify run is reproducible.
func Verify(ctx context.Context, idx *Index, state *reduce.State, seed int64, sampleSize int) ([]Mismatch, error) {
	truth := make(map[string][]string)
	for _, key := range state.EdgeAlive.AliveElements() {
		from, to, _, err := crdt.DecodeEdgeKey(key)
		if err != nil {
			continue
		}
		truth[string(from)] = append(truth[string(from)], string(to))
	}
	for n := range truth {
		sort.Strings(truth[n])
	}

	nodes := state.NodeAlive.AliveElements()
	sort.Strings(nodes) // deterministic base ordering before seeded sampling
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	if sampleSize < len(nodes) {
		nodes = nodes[:sampleSize]
	}

	var mismatches []Mismatch
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return mismatches, err
		}
		got, err := idx.GetChildren(ctx, n)
		if err != nil {
			return mismatches, err
		}
		want := truth[n]
		if !equalStrings(got, want) {
			mismatches = append(mismatches, Mismatch{Node: n, Expected: want, Got: got})
		}
	}
	return mismatches, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
