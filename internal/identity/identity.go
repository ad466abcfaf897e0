// Package identity manages writer identity lifecycle (spec §3 Lifecycle):
// each (graph, agent) gets a stable writerID, created once and persisted
// through the object-store port's config namespace rather than a local
// dotfile, so the identity travels with the object store itself.
package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
)

const configKey = "identity.writer"

// Identity is the persisted writer record for one graph.
type Identity struct {
	GraphName string    `json:"graphName"`
	WriterID  string    `json:"writerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnsureWriter loads the graph's persisted Identity, or creates and
// persists one if none exists yet. preferredWriterID, if non-empty, is used
// verbatim instead of a generated uuid (host-supplied writer ids).
func EnsureWriter(ctx context.Context, store objstore.Store, graph string, preferredWriterID string) (Identity, error) {
	id, ok, err := Load(ctx, store, graph)
	if err != nil {
		return Identity{}, err
	}
	if ok {
		return id, nil
	}

	writerID := preferredWriterID
	if writerID == "" {
		writerID = uuid.NewString()
	}
	id = Identity{GraphName: graph, WriterID: writerID, CreatedAt: time.Now().UTC()}
	if err := save(ctx, store, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Load reads the graph's persisted Identity, if any.
func Load(ctx context.Context, store objstore.Store, graph string) (Identity, bool, error) {
	raw, ok, err := store.ConfigGet(ctx, configKey+"."+graph)
	if err != nil {
		return Identity{}, false, errs.RefIOWrap(err, "read writer identity config")
	}
	if !ok {
		return Identity{}, false, nil
	}
	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return Identity{}, false, errs.Wrapf(err, errs.Internal, errs.SeverityHigh, "decode writer identity")
	}
	return id, true, nil
}

func save(ctx context.Context, store objstore.Store, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return errs.InternalWrap(err, "encode writer identity")
	}
	if err := store.ConfigSet(ctx, configKey+"."+id.GraphName, string(data)); err != nil {
		return errs.RefIOWrap(err, "persist writer identity")
	}
	return nil
}
