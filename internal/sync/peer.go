package sync

import (
	"context"

	"github.com/rohankatakam/warp/internal/materialize"
	"github.com/rohankatakam/warp/internal/objstore"
)

// BuildResponse answers req from the local object store: for every writer
// discovered locally, it walks that writer's chain from its tip back to
// (exclusive) req.Frontier's recorded sha, or the root if the requester has
// never seen that writer, collecting patches in chronological order.
func BuildResponse(ctx context.Context, store objstore.Store, layout objstore.RefLayout, req Request) (*Response, error) {
	chain := materialize.NewStoreChainReader(store, layout)
	writers, err := chain.DiscoverWriters(ctx)
	if err != nil {
		return nil, err
	}

	frontier := make(map[string]string, len(writers))
	var envelopes []PatchEnvelope
	for _, w := range writers {
		tip, err := chain.Tip(ctx, w)
		if err != nil {
			return nil, err
		}
		frontier[w] = tip

		patches, err := chain.PatchesSince(ctx, w, req.Frontier[w])
		if err != nil {
			return nil, err
		}
		for _, p := range patches {
			envelopes = append(envelopes, PatchEnvelope{WriterID: w, Sha: p.Sha, Patch: p.Patch})
		}
	}
	return &Response{Type: "sync-response", Frontier: frontier, Patches: envelopes}, nil
}
