// Package neighbor exposes a uniform neighbor-lookup contract (spec §4.H)
// over either the materialized state directly (AdjacencyProvider, synchronous)
// or the bitmap index (BitmapProvider, shard-load latency). Both satisfy
// Provider and the same ordering/dedup/unknown-node contract.
package neighbor

import (
	"context"
	"sort"

	"github.com/rohankatakam/warp/internal/bitmap"
	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/reduce"
)

// Direction selects which adjacency a query traverses.
type Direction int

const (
	Out Direction = iota
	In
	Both
)

// Edge is one (neighborId, label) result entry.
type Edge struct {
	NeighborID string
	Label      string
}

// Provider is the uniform capability set every neighbor source implements.
type Provider interface {
	HasNode(ctx context.Context, id string) (bool, error)
	// GetNeighbors returns id's neighbors in dir, optionally filtered to
	// labels (nil/empty means no filter), sorted by (neighborId, label) in
	// codepoint order. An unknown id returns an empty, non-error result.
	GetNeighbors(ctx context.Context, id string, dir Direction, labels map[string]struct{}) ([]Edge, error)
}

func filterAndSort(edges []Edge, labels map[string]struct{}) []Edge {
	out := edges
	if len(labels) > 0 {
		out = out[:0]
		for _, e := range edges {
			if _, ok := labels[e.Label]; ok {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NeighborID != out[j].NeighborID {
			return out[i].NeighborID < out[j].NeighborID
		}
		return out[i].Label < out[j].Label
	})
	return dedup(out)
}

func dedup(edges []Edge) []Edge {
	if len(edges) < 2 {
		return edges
	}
	out := edges[:1]
	for _, e := range edges[1:] {
		last := out[len(out)-1]
		if e.NeighborID == last.NeighborID && e.Label == last.Label {
			continue
		}
		out = append(out, e)
	}
	return out
}

// AdjacencyProvider reads directly from a materialized reduce.State.
// Identifiers are plain Go map keys throughout — proto-pollution style
// concerns (__proto__, constructor, toString as node ids) don't apply to Go
// maps, which have no prototype chain.
type AdjacencyProvider struct {
	state *reduce.State
}

// NewAdjacencyProvider wraps state as a synchronous Provider.
func NewAdjacencyProvider(state *reduce.State) *AdjacencyProvider {
	return &AdjacencyProvider{state: state}
}

func (p *AdjacencyProvider) HasNode(_ context.Context, id string) (bool, error) {
	return p.state.HasNode(id), nil
}

func (p *AdjacencyProvider) GetNeighbors(_ context.Context, id string, dir Direction, labels map[string]struct{}) ([]Edge, error) {
	var edges []Edge
	for _, key := range p.state.EdgeAlive.AliveElements() {
		from, to, label, err := crdt.DecodeEdgeKey(key)
		if err != nil {
			continue
		}
		if (dir == Out || dir == Both) && string(from) == id {
			edges = append(edges, Edge{NeighborID: string(to), Label: label})
		}
		if (dir == In || dir == Both) && string(to) == id {
			edges = append(edges, Edge{NeighborID: string(from), Label: label})
		}
	}
	return filterAndSort(edges, labels), nil
}

// BitmapProvider reads from a bitmap index. Queries are asynchronous in the
// sense that a shard may need to be fetched and decoded on demand; label
// information isn't carried by the bitmap index (spec §4.G stores bare
// adjacency, not per-edge labels), so label filtering here only accepts the
// empty-label match or an unfiltered query.
//
// Consequently P7 ("AdjacencyProvider and BitmapProvider return equal
// neighbor sets under equal label filters") holds only for the empty-label
// query: every edge this provider returns carries Label == "", regardless of
// the label the edge was actually added with, so a labeled query against
// AdjacencyProvider and this provider agree on NeighborID sets but not on
// Label. Callers that need P7 to hold exactly must route labeled neighbor
// queries to AdjacencyProvider.
type BitmapProvider struct {
	index *bitmap.Index
}

// NewBitmapProvider wraps idx as a Provider.
func NewBitmapProvider(idx *bitmap.Index) *BitmapProvider {
	return &BitmapProvider{index: idx}
}

func (p *BitmapProvider) HasNode(ctx context.Context, id string) (bool, error) {
	children, err := p.index.GetChildren(ctx, id)
	if err != nil {
		return false, err
	}
	if len(children) > 0 {
		return true, nil
	}
	parents, err := p.index.GetParents(ctx, id)
	if err != nil {
		return false, err
	}
	return len(parents) > 0, nil
}

func (p *BitmapProvider) GetNeighbors(ctx context.Context, id string, dir Direction, labels map[string]struct{}) ([]Edge, error) {
	// the bitmap index is unlabeled; a label filter that excludes "" matches
	// nothing, per the labeled-edge contract ("unknown labels -> empty").
	if len(labels) > 0 {
		if _, ok := labels[""]; !ok {
			return nil, nil
		}
	}
	var edges []Edge
	if dir == Out || dir == Both {
		children, err := p.index.GetChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			edges = append(edges, Edge{NeighborID: c, Label: ""})
		}
	}
	if dir == In || dir == Both {
		parents, err := p.index.GetParents(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, par := range parents {
			edges = append(edges, Edge{NeighborID: par, Label: ""})
		}
	}
	return filterAndSort(edges, nil), nil
}
