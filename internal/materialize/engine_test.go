package materialize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/patch"
	"github.com/rohankatakam/warp/internal/reduce"
)

func commitNode(t *testing.T, ctx context.Context, store objstore.Store, layout objstore.RefLayout, writer crdt.WriterID, state reduce.State, node string) {
	t.Helper()
	tip, err := store.ReadRef(ctx, layout.WriterRef(string(writer)))
	if err == objstore.ErrRefNotFound {
		tip = ""
	} else {
		require.NoError(t, err)
	}
	b := patch.NewBuilder(writer, 0, crdt.VersionVector{}, &state, tip)
	b.AddNode(node)
	_, err = b.Commit(ctx, store, layout)
	require.NoError(t, err)
}

func TestMaterializeFoldsAllWritersFromScratch(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}

	commitNode(t, ctx, store, layout, "alice", *reduce.New(), "n1")
	commitNode(t, ctx, store, layout, "bob", *reduce.New(), "n2")

	eng := New(store, layout, NewStoreChainReader(store, layout), nil, DefaultConfig())
	state, err := eng.Materialize(ctx)
	require.NoError(t, err)
	require.True(t, state.HasNode("n1"))
	require.True(t, state.HasNode("n2"))
}

func TestMaterializeGetServesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	commitNode(t, ctx, store, layout, "alice", *reduce.New(), "n1")

	cfg := DefaultConfig()
	cfg.AutoMaterialize = false
	eng := New(store, layout, NewStoreChainReader(store, layout), nil, cfg)

	state, err := eng.Materialize(ctx)
	require.NoError(t, err)
	require.True(t, state.HasNode("n1"))

	commitNode(t, ctx, store, layout, "bob", *reduce.New(), "n2")
	// not invalidated yet: Get still serves the pre-existing snapshot
	cached, err := eng.Get(ctx)
	require.NoError(t, err)
	require.False(t, cached.HasNode("n2"))

	eng.Invalidate()
	cached, err = eng.Get(ctx)
	require.NoError(t, err)
	require.False(t, cached.HasNode("n2")) // non-auto, non-strict: still serves stale
}

func TestMaterializeStrictModeFailsOnDirtyRead(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}

	cfg := DefaultConfig()
	cfg.AutoMaterialize = false
	cfg.Strict = true
	eng := New(store, layout, NewStoreChainReader(store, layout), nil, cfg)

	_, err := eng.Get(ctx)
	require.Error(t, err)
}

func TestMaterializeIncrementalResumeFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	commitNode(t, ctx, store, layout, "alice", *reduce.New(), "n1")

	cfg := DefaultConfig()
	cfg.CheckpointEvery = 1
	eng := New(store, layout, NewStoreChainReader(store, layout), nil, cfg)

	state, err := eng.Materialize(ctx)
	require.NoError(t, err)
	require.True(t, state.HasNode("n1"))

	_, err = store.ReadRef(ctx, layout.CheckpointLatest())
	require.NoError(t, err) // a checkpoint was auto-created

	commitNode(t, ctx, store, layout, "alice", *state, "n2")
	state2, err := eng.Materialize(ctx)
	require.NoError(t, err)
	require.True(t, state2.HasNode("n1"))
	require.True(t, state2.HasNode("n2"))
}
