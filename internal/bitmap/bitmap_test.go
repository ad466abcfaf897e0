package bitmap

import (
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

func TestShardByteHexVsFNV(t *testing.T) {
	hexID := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef" // 40 lowercase hex chars
	require.Equal(t, byte(0xde), shardByte(hexID))

	// non-hex id falls back to FNV-1a low byte; just check determinism.
	a := shardByte("user:alice")
	b := shardByte("user:alice")
	require.Equal(t, a, b)
}

func TestIDTableDenseAssignmentAndOverflow(t *testing.T) {
	tbl := NewIDTable()
	g1, err := tbl.Assign("n1")
	require.NoError(t, err)
	g2, err := tbl.Assign("n1")
	require.NoError(t, err)
	require.Equal(t, g1, g2, "re-assigning the same id returns the same global id")

	id, ok := tbl.Resolve(g1)
	require.True(t, ok)
	require.Equal(t, "n1", id)

	overflowShard := shardByte("overflow")
	tbl.nextLocal[overflowShard] = maxLocalID
	_, err = tbl.Assign("overflow")
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.ShardIDOverflow))
}

func TestShardEncodeDecodeRoundTrip(t *testing.T) {
	bm := roaring.New()
	bm.Add(1)
	bm.Add(5000)
	data, err := encodeShard(map[uint32]*roaring.Bitmap{0: bm})
	require.NoError(t, err)

	out, err := decodeShard(data)
	require.NoError(t, err)
	require.True(t, out[0].Contains(1))
	require.True(t, out[0].Contains(5000))
}

func TestDecodeShardRejectsCorruptMagic(t *testing.T) {
	_, err := decodeShard([]byte("not-a-shard-file"))
	require.Error(t, err)
}

func buildGraphState() *reduce.State {
	s := reduce.New()
	s.NodeAlive.Add("n1", crdt.Dot{Writer: "w", Lamport: 1})
	s.NodeAlive.Add("n2", crdt.Dot{Writer: "w", Lamport: 2})
	s.NodeAlive.Add("n3", crdt.Dot{Writer: "w", Lamport: 3})
	key := crdt.EncodeEdgeKey("n1", "n2", "knows")
	s.EdgeAlive.Add(key, crdt.Dot{Writer: "w", Lamport: 4})
	key2 := crdt.EncodeEdgeKey("n1", "n3", "knows")
	s.EdgeAlive.Add(key2, crdt.Dot{Writer: "w", Lamport: 5})
	return s
}

func TestBuildLoadQueryChildren(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	state := buildGraphState()

	_, err := Build(ctx, store, layout, state, map[string]string{"w": "commitA"})
	require.NoError(t, err)

	idx, err := Load(ctx, store, layout)
	require.NoError(t, err)
	require.NotNil(t, idx)

	children, err := idx.GetChildren(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, []string{"n2", "n3"}, children)

	parents, err := idx.GetParents(ctx, "n2")
	require.NoError(t, err)
	require.Equal(t, []string{"n1"}, parents)
}

func TestQueryUnknownNodeReturnsEmptyNotError(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	_, err := Build(ctx, store, layout, buildGraphState(), nil)
	require.NoError(t, err)
	idx, err := Load(ctx, store, layout)
	require.NoError(t, err)

	got, err := idx.GetChildren(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestIndexStalenessDetection(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	_, err := Build(ctx, store, layout, buildGraphState(), map[string]string{"w": "commitA"})
	require.NoError(t, err)
	idx, err := Load(ctx, store, layout)
	require.NoError(t, err)

	require.False(t, idx.IsStale(map[string]string{"w": "commitA"}))
	require.True(t, idx.IsStale(map[string]string{"w": "commitB"}))
}

func TestVerifyFindsNoMismatchesOnFreshIndex(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	state := buildGraphState()
	_, err := Build(ctx, store, layout, state, nil)
	require.NoError(t, err)
	idx, err := Load(ctx, store, layout)
	require.NoError(t, err)

	mismatches, err := Verify(ctx, idx, state, 42, 10)
	require.NoError(t, err)
	require.Empty(t, mismatches)
}
