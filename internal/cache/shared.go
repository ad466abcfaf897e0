// Package cache implements the optional shared materialized-view cache
// (spec SPEC_FULL §4.H): a Redis-backed publish/fetch of {frontier,
// viewHash, indexOID} per graph, letting a second engine instance over the
// same object store skip a redundant index rebuild when its own frontier
// matches. Never a correctness dependency — materialize.Engine always
// re-validates the fetched frontier against current writer refs before
// trusting the cached indexOID.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/rohankatakam/warp/internal/materialize"
)

// SharedCache publishes/fetches materialize.SharedView snapshots over a
// Redis Client, implementing materialize.SharedCache.
type SharedCache struct {
	client *Client
	ttl    time.Duration
}

// DefaultViewTTL matches the client's own default cache TTL.
const DefaultViewTTL = 15 * time.Minute

// NewSharedCache wraps client as a materialize.SharedCache.
func NewSharedCache(client *Client, ttl time.Duration) *SharedCache {
	if ttl <= 0 {
		ttl = DefaultViewTTL
	}
	return &SharedCache{client: client, ttl: ttl}
}

func viewKey(graph string) string {
	return fmt.Sprintf("warp:materialize:view:%s", graph)
}

// Fetch retrieves the last published view for graph, if any.
func (s *SharedCache) Fetch(ctx context.Context, graph string) (materialize.SharedView, bool, error) {
	var v materialize.SharedView
	found, err := s.client.Get(ctx, viewKey(graph), &v)
	if err != nil || !found {
		return materialize.SharedView{}, false, err
	}
	return v, true, nil
}

// Publish stores view for graph with the cache's configured TTL.
func (s *SharedCache) Publish(ctx context.Context, graph string, view materialize.SharedView) error {
	return s.client.SetWithTTL(ctx, viewKey(graph), view, s.ttl)
}
