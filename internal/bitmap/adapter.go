package bitmap

import (
	"context"

	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

// Adapter satisfies materialize.Indexer by delegating to Build, letting a
// materialize.Engine drive bitmap index rebuilds without importing this
// package's concrete types.
type Adapter struct {
	Store  objstore.Store
	Layout objstore.RefLayout
}

func (a Adapter) RebuildIndex(ctx context.Context, state *reduce.State, frontier map[string]string) (string, error) {
	return Build(ctx, a.Store, a.Layout, state, frontier)
}
