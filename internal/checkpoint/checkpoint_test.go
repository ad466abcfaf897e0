package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

func TestCreateAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}

	state := reduce.New()
	state.NodeAlive.Add("n1", crdt.Dot{Writer: "alice", Lamport: 1})
	state.SetNodeProperty("n1", "name", crdt.EventID{Lamport: 1, Writer: "alice"}, "Ada")
	state.Vector = state.Vector.Update("alice", 1)

	sha, err := Create(ctx, store, layout, state, map[string]string{"alice": "commitA"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	rec, gotSha, err := Load(ctx, store, layout, "")
	require.NoError(t, err)
	require.Equal(t, sha, gotSha)
	require.Equal(t, "commitA", rec.PatchHeads["alice"])
	require.True(t, rec.State.HasNode("n1"))
	v, ok := rec.State.NodeProperty("n1", "name")
	require.True(t, ok)
	require.Equal(t, "Ada", v)
}

func TestLoadWithNoCheckpointReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}
	rec, sha, err := Load(ctx, store, layout, "")
	require.NoError(t, err)
	require.Nil(t, rec)
	require.Empty(t, sha)
}

func TestCreateSurfacesCASConflictOnStalePrior(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemStore()
	layout := objstore.RefLayout{Graph: "g"}

	_, err := Create(ctx, store, layout, reduce.New(), nil, "")
	require.NoError(t, err)

	_, err = Create(ctx, store, layout, reduce.New(), nil, "")
	require.Error(t, err)
}
