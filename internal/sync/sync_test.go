package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/materialize"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/patch"
	"github.com/rohankatakam/warp/internal/reduce"
	"github.com/rohankatakam/warp/internal/trust"
)

func commitNode(t *testing.T, ctx context.Context, store objstore.Store, layout objstore.RefLayout, writer crdt.WriterID, node string) {
	t.Helper()
	tip, err := store.ReadRef(ctx, layout.WriterRef(string(writer)))
	if err == objstore.ErrRefNotFound {
		tip = ""
	} else {
		require.NoError(t, err)
	}
	state := reduce.New()
	b := patch.NewBuilder(writer, 0, crdt.VersionVector{}, state, tip)
	b.AddNode(node)
	_, err = b.Commit(ctx, store, layout)
	require.NoError(t, err)
}

func TestBuildApplyRoundTrip(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}

	peerStore := objstore.NewMemStore()
	commitNode(t, ctx, peerStore, layout, "alice", "n1")
	commitNode(t, ctx, peerStore, layout, "bob", "n2")

	clientStore := objstore.NewMemStore()
	eng := materialize.New(clientStore, layout, materialize.NewStoreChainReader(clientStore, layout), nil, materialize.DefaultConfig())

	resp, err := BuildResponse(ctx, peerStore, layout, Request{Type: "sync-request", Frontier: map[string]string{}})
	require.NoError(t, err)
	require.Len(t, resp.Patches, 2)

	err = ApplyResponse(ctx, clientStore, layout, eng, resp, DefaultCaps(), Gate{Mode: ModeOff})
	require.NoError(t, err)

	state, err := eng.Get(ctx)
	require.NoError(t, err)
	require.True(t, state.HasNode("n1"))
	require.True(t, state.HasNode("n2"))
}

func TestBuildResponseIncrementalFromFrontier(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}

	peerStore := objstore.NewMemStore()
	commitNode(t, ctx, peerStore, layout, "alice", "n1")
	firstTip, err := peerStore.ReadRef(ctx, layout.WriterRef("alice"))
	require.NoError(t, err)
	commitNode(t, ctx, peerStore, layout, "alice", "n2")

	resp, err := BuildResponse(ctx, peerStore, layout, Request{Type: "sync-request", Frontier: map[string]string{"alice": firstTip}})
	require.NoError(t, err)
	require.Len(t, resp.Patches, 1)
}

func TestApplyResponseRejectsOversizedFrontier(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}
	clientStore := objstore.NewMemStore()

	resp := &Response{
		Type:     "sync-response",
		Frontier: map[string]string{"w1": "sha1", "w2": "sha2"},
	}
	caps := Caps{MaxWritersInFrontier: 1}
	err := ApplyResponse(ctx, clientStore, layout, nil, resp, caps, Gate{Mode: ModeOff})
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.SyncMalformed))
}

func TestApplyResponseRejectsTooManyOpsPerPatch(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}
	clientStore := objstore.NewMemStore()

	resp := &Response{
		Type: "sync-response",
		Patches: []PatchEnvelope{{
			WriterID: "alice",
			Sha:      "sha1",
			Patch: patch.Patch{
				SchemaVersion: patch.Schema,
				Writer:        "alice",
				Ops: []patch.Op{
					{Type: patch.OpNodeAdd, Node: "n1", Dot: &crdt.Dot{Writer: "alice", Lamport: 1}},
					{Type: patch.OpNodeAdd, Node: "n2", Dot: &crdt.Dot{Writer: "alice", Lamport: 2}},
				},
			},
		}},
	}
	caps := Caps{MaxOpsPerPatch: 1}
	err := ApplyResponse(ctx, clientStore, layout, nil, resp, caps, Gate{Mode: ModeOff})
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.SyncMalformed))
}

func TestApplyResponseTrustGateEnforceRejectsUntrustedWriter(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}

	peerStore := objstore.NewMemStore()
	commitNode(t, ctx, peerStore, layout, "bob", "n1")
	resp, err := BuildResponse(ctx, peerStore, layout, Request{Type: "sync-request", Frontier: map[string]string{}})
	require.NoError(t, err)

	clientStore := objstore.NewMemStore()
	gate := Gate{
		Mode: ModeEnforce,
		Evaluate: func(ctx context.Context) (trust.Evaluation, error) {
			return trust.Evaluation{Trusted: map[string]struct{}{"alice": {}}}, nil
		},
	}
	err = ApplyResponse(ctx, clientStore, layout, nil, resp, DefaultCaps(), gate)
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.SyncUntrustedWriter))

	_, rerr := clientStore.ReadRef(ctx, layout.WriterRef("bob"))
	require.ErrorIs(t, rerr, objstore.ErrRefNotFound)
}

func TestApplyResponseTrustGateLogOnlyAllowsUntrustedWriter(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}

	peerStore := objstore.NewMemStore()
	commitNode(t, ctx, peerStore, layout, "bob", "n1")
	resp, err := BuildResponse(ctx, peerStore, layout, Request{Type: "sync-request", Frontier: map[string]string{}})
	require.NoError(t, err)

	clientStore := objstore.NewMemStore()
	gate := Gate{
		Mode: ModeLogOnly,
		Evaluate: func(ctx context.Context) (trust.Evaluation, error) {
			return trust.Evaluation{Trusted: map[string]struct{}{}}, nil
		},
	}
	err = ApplyResponse(ctx, clientStore, layout, nil, resp, DefaultCaps(), gate)
	require.NoError(t, err)
}

func TestApplyResponseSurfacesCASConflictOnConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	layout := objstore.RefLayout{Graph: "g"}

	peerStore := objstore.NewMemStore()
	commitNode(t, ctx, peerStore, layout, "alice", "n1")
	resp, err := BuildResponse(ctx, peerStore, layout, Request{Type: "sync-request", Frontier: map[string]string{}})
	require.NoError(t, err)

	clientStore := objstore.NewMemStore()
	// simulate a concurrent local commit for the same writer racing ahead
	commitNode(t, ctx, clientStore, layout, "alice", "local-only")

	err = ApplyResponse(ctx, clientStore, layout, nil, resp, DefaultCaps(), Gate{Mode: ModeOff})
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.SyncMalformed) || errs.IsCode(err, errs.CASConflict))
}
