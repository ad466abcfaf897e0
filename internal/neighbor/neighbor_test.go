package neighbor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/bitmap"
	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

func sampleState() *reduce.State {
	s := reduce.New()
	s.NodeAlive.Add("n1", crdt.Dot{Writer: "w", Lamport: 1})
	s.NodeAlive.Add("n2", crdt.Dot{Writer: "w", Lamport: 2})
	s.NodeAlive.Add("__proto__", crdt.Dot{Writer: "w", Lamport: 3})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("n1", "n2", "knows"), crdt.Dot{Writer: "w", Lamport: 4})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("n1", "__proto__", "owns"), crdt.Dot{Writer: "w", Lamport: 5})
	return s
}

func TestAdjacencyProviderSortedAndDeduped(t *testing.T) {
	p := NewAdjacencyProvider(sampleState())
	ctx := context.Background()

	edges, err := p.GetNeighbors(ctx, "n1", Out, nil)
	require.NoError(t, err)
	require.Equal(t, []Edge{{NeighborID: "__proto__", Label: "owns"}, {NeighborID: "n2", Label: "knows"}}, edges)
}

func TestAdjacencyProviderUnknownNodeEmpty(t *testing.T) {
	p := NewAdjacencyProvider(sampleState())
	edges, err := p.GetNeighbors(context.Background(), "nobody", Both, nil)
	require.NoError(t, err)
	require.Empty(t, edges)
}

func TestAdjacencyProviderLabelFilter(t *testing.T) {
	p := NewAdjacencyProvider(sampleState())
	edges, err := p.GetNeighbors(context.Background(), "n1", Out, map[string]struct{}{"knows": {}})
	require.NoError(t, err)
	require.Equal(t, []Edge{{NeighborID: "n2", Label: "knows"}}, edges)
}

func TestAdjacencyProviderBothDirectionDedup(t *testing.T) {
	s := reduce.New()
	s.NodeAlive.Add("a", crdt.Dot{Writer: "w", Lamport: 1})
	s.NodeAlive.Add("b", crdt.Dot{Writer: "w", Lamport: 2})
	s.EdgeAlive.Add(crdt.EncodeEdgeKey("a", "b", "x"), crdt.Dot{Writer: "w", Lamport: 3})
	p := NewAdjacencyProvider(s)

	edges, err := p.GetNeighbors(context.Background(), "a", Both, nil)
	require.NoError(t, err)
	require.Equal(t, []Edge{{NeighborID: "b", Label: "x"}}, edges)
}

// TestBitmapProviderMatchesAdjacency checks P7's NeighborID-set equality
// against AdjacencyProvider for an unfiltered query, but also asserts the
// known gap: BitmapProvider loses label information entirely, so on a graph
// with labeled edges P7's label equality does not hold between the two
// providers. This keeps the limitation documented on BitmapProvider visible
// in the suite instead of hidden behind a bare length assertion.
func TestBitmapProviderMatchesAdjacency(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	state := sampleState()
	_, err := bitmap.Build(ctx, store, layout, state, nil)
	require.NoError(t, err)
	idx, err := bitmap.Load(ctx, store, layout)
	require.NoError(t, err)

	adjacency := NewAdjacencyProvider(state)
	adjEdges, err := adjacency.GetNeighbors(ctx, "n1", Out, nil)
	require.NoError(t, err)
	require.Equal(t, []Edge{{NeighborID: "__proto__", Label: "owns"}, {NeighborID: "n2", Label: "knows"}}, adjEdges)

	p := NewBitmapProvider(idx)
	bitmapEdges, err := p.GetNeighbors(ctx, "n1", Out, nil)
	require.NoError(t, err)
	require.Len(t, bitmapEdges, len(adjEdges))

	adjNeighbors := make(map[string]struct{}, len(adjEdges))
	for _, e := range adjEdges {
		adjNeighbors[e.NeighborID] = struct{}{}
	}
	for _, e := range bitmapEdges {
		_, ok := adjNeighbors[e.NeighborID]
		require.True(t, ok, "bitmap neighbor %q not present in adjacency result", e.NeighborID)
		// P7 gap: the bitmap index carries no label dimension, so every edge
		// comes back unlabeled even though the source edges have real labels
		// ("owns", "knows") in AdjacencyProvider's output above.
		require.Equal(t, "", e.Label)
	}
}

func TestBitmapProviderLabelFilterExcludesUnlabeled(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	state := sampleState()
	_, err := bitmap.Build(ctx, store, layout, state, nil)
	require.NoError(t, err)
	idx, err := bitmap.Load(ctx, store, layout)
	require.NoError(t, err)

	p := NewBitmapProvider(idx)
	edges, err := p.GetNeighbors(ctx, "n1", Out, map[string]struct{}{"knows": {}})
	require.NoError(t, err)
	require.Empty(t, edges)
}
