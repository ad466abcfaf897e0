// Package materialize implements the materialization engine (spec §4.E):
// checkpoint discovery, incremental patch replay, cache invalidation, and
// the auto-checkpoint / GC policies layered on top of internal/reduce.
package materialize

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/warp/internal/checkpoint"
	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

// Indexer rebuilds a derived index (the bitmap index, typically) from a
// materialized state. Optional: a nil Indexer simply skips step 6 of the
// materialize algorithm.
type Indexer interface {
	RebuildIndex(ctx context.Context, state *reduce.State, frontier map[string]string) (string, error)
}

// SharedView is the cross-instance snapshot a SharedCache publishes and
// retrieves: enough to skip a redundant index rebuild, never enough to skip
// recomputing state (the frontier is always re-validated against the object
// store's current writer refs before being trusted).
type SharedView struct {
	Frontier map[string]string
	ViewHash string
	IndexOID string
}

// SharedCache is the optional cross-process materialize cache (spec §4.H):
// when configured, a second engine instance over the same object store can
// skip re-running Indexer.RebuildIndex when its own computed frontier
// matches what's published here. Purely an optimization; Fetch returning
// ok=false or a stale frontier just falls back to a normal local rebuild.
type SharedCache interface {
	Fetch(ctx context.Context, graph string) (SharedView, bool, error)
	Publish(ctx context.Context, graph string, view SharedView) error
}

// Config tunes the engine's auto-policies. All are per spec §4.E.
type Config struct {
	AutoMaterialize      bool // re-materialize on read when dirty
	Strict               bool // fail QUERY_STALE_STATE instead of serving stale reads when dirty and not auto
	MaxConcurrentFetches int  // bound on concurrent per-writer chain walks; <=1 means sequential
	CheckpointEvery      int  // 0 or negative disables auto-checkpointing
	GCEnabled            bool
	GCThreshold          float64 // tombstone ratio above which compaction triggers
	GCMinPatches         int     // minimum patches folded since last compaction before it can trigger again
	Shared               SharedCache
	ReverifyIdentifiers  bool // re-check I1 on every op at fold time (config.Identifiers.ReverifyOnFold)
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		AutoMaterialize:      true,
		Strict:               false,
		MaxConcurrentFetches: 8,
		CheckpointEvery:      0,
		GCEnabled:            false,
		GCThreshold:          0.3,
		GCMinPatches:         1,
		ReverifyIdentifiers:  true,
	}
}

// Engine owns the per-instance materialized-state cache for one graph.
type Engine struct {
	store  objstore.Store
	layout objstore.RefLayout
	chain  ChainReader
	index  Indexer
	cfg    Config

	mu                     sync.Mutex
	lastGood               *reduce.State
	frontier               map[string]string
	viewHash               string
	dirty                  bool
	patchesSinceCheckpoint int
	patchesSinceCompaction int
	lastCheckpointSha      string
	indexOID               string
}

// IndexOID returns the most recently rebuilt index's content address, or ""
// if no Indexer is configured or no materialize has run yet.
func (e *Engine) IndexOID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexOID
}

// New constructs an Engine. index may be nil.
func New(store objstore.Store, layout objstore.RefLayout, chain ChainReader, index Indexer, cfg Config) *Engine {
	return &Engine{store: store, layout: layout, chain: chain, index: index, cfg: cfg, dirty: true}
}

// Invalidate marks the cache dirty, per spec §5's invalidation rule: a local
// commit, a sync-apply, a checkpoint load, or an explicit call all route
// here.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirty = true
}

// Get returns the current state honoring the cache's dirty-flag policy: in
// AutoMaterialize mode a dirty cache is refreshed synchronously; otherwise a
// dirty cache either serves the last good snapshot (default) or fails with
// QUERY_STALE_STATE (Strict).
func (e *Engine) Get(ctx context.Context) (*reduce.State, error) {
	e.mu.Lock()
	dirty := e.dirty
	lastGood := e.lastGood
	e.mu.Unlock()

	if !dirty {
		return lastGood, nil
	}
	if e.cfg.AutoMaterialize {
		return e.Materialize(ctx)
	}
	if e.cfg.Strict {
		return nil, errs.Newf(errs.QueryStaleState, errs.SeverityMedium, "materialized state is stale")
	}
	return lastGood, nil
}

// Materialize runs the full algorithm: checkpoint discovery, frontier
// computation, incremental-or-full patch load, fold, cache update, optional
// index rebuild, and auto-policy evaluation.
func (e *Engine) Materialize(ctx context.Context) (*reduce.State, error) {
	base := reduce.New()
	patchHeads := map[string]string{}
	priorCheckpointSha := ""

	rec, sha, err := checkpoint.Load(ctx, e.store, e.layout, "")
	if err != nil {
		return nil, err
	}
	if rec != nil {
		base = rec.State
		patchHeads = rec.PatchHeads
		priorCheckpointSha = sha
	}

	writers, err := e.chain.DiscoverWriters(ctx)
	if err != nil {
		return nil, err
	}

	frontier := make(map[string]string, len(writers))
	var frontierMu sync.Mutex
	allPatches := make([][]reduce.Sourced, len(writers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(1, e.cfg.MaxConcurrentFetches))
	for i, w := range writers {
		i, w := i, w
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errs.Newf(errs.Canceled, errs.SeverityMedium, "materialize canceled")
			}
			tip, err := e.chain.Tip(gctx, w)
			if err != nil {
				return err
			}
			frontierMu.Lock()
			frontier[w] = tip
			frontierMu.Unlock()

			patches, err := e.chain.PatchesSince(gctx, w, patchHeads[w])
			if err != nil {
				return err
			}
			allPatches[i] = patches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var folded int
	var flat []reduce.Sourced
	for _, ps := range allPatches {
		flat = append(flat, ps...)
		folded += len(ps)
	}

	if e.cfg.ReverifyIdentifiers {
		if err := reduce.ValidateIdentifiers(flat); err != nil {
			return nil, err
		}
	}

	state, err := reduce.Reduce(base, flat)
	if err != nil {
		return nil, err
	}
	viewHash, err := state.ViewHash()
	if err != nil {
		return nil, errs.InternalWrap(err, "compute view hash")
	}

	var indexOID string
	if e.cfg.Shared != nil {
		if sv, ok, serr := e.cfg.Shared.Fetch(ctx, e.layout.Graph); serr == nil && ok && frontierEqual(sv.Frontier, frontier) {
			indexOID = sv.IndexOID
		}
	}
	if indexOID == "" && e.index != nil {
		indexOID, err = e.index.RebuildIndex(ctx, state, frontier)
		if err != nil {
			return nil, err
		}
	}
	if e.cfg.Shared != nil {
		_ = e.cfg.Shared.Publish(ctx, e.layout.Graph, SharedView{Frontier: frontier, ViewHash: viewHash, IndexOID: indexOID})
	}

	e.mu.Lock()
	e.lastGood = state
	e.frontier = frontier
	e.viewHash = viewHash
	e.dirty = false
	e.patchesSinceCheckpoint += folded
	e.patchesSinceCompaction += folded
	e.lastCheckpointSha = priorCheckpointSha
	if indexOID != "" {
		e.indexOID = indexOID
	}
	e.mu.Unlock()

	if err := e.evaluateCheckpointPolicy(ctx, state, frontier); err != nil {
		return nil, err
	}
	if err := e.evaluateGCPolicy(ctx, state, frontier); err != nil {
		return nil, err
	}
	return state, nil
}

func (e *Engine) evaluateCheckpointPolicy(ctx context.Context, state *reduce.State, frontier map[string]string) error {
	if e.cfg.CheckpointEvery <= 0 {
		return nil
	}
	e.mu.Lock()
	due := e.patchesSinceCheckpoint >= e.cfg.CheckpointEvery
	prior := e.lastCheckpointSha
	e.mu.Unlock()
	if !due {
		return nil
	}
	sha, err := checkpoint.Create(ctx, e.store, e.layout, state, frontier, prior)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.patchesSinceCheckpoint = 0
	e.lastCheckpointSha = sha
	e.mu.Unlock()
	return nil
}

// evaluateGCPolicy compacts tombstones once the ratio crosses the threshold
// and enough patches have folded since the last compaction. Compaction folds
// a fresh OR-Set per entity, keeping only alive elements with a single
// synthetic dot each, then swaps the cache atomically (readers only ever see
// the mutex-guarded pre- or post-compaction lastGood, never a partial one)
// and writes a replacement checkpoint.
func (e *Engine) evaluateGCPolicy(ctx context.Context, state *reduce.State, frontier map[string]string) error {
	if !e.cfg.GCEnabled {
		return nil
	}
	e.mu.Lock()
	due := state.TombstoneRatio() > e.cfg.GCThreshold && e.patchesSinceCompaction >= e.cfg.GCMinPatches
	prior := e.lastCheckpointSha
	e.mu.Unlock()
	if !due {
		return nil
	}

	compacted := reduce.New()
	compacted.NodeAlive = state.NodeAlive.Compact(compactionWriter)
	compacted.EdgeAlive = state.EdgeAlive.Compact(compactionWriter)
	for _, pe := range state.NodePropEntries() {
		compacted.SetNodeProperty(pe.Entity, pe.Key, pe.Event, pe.Value)
	}
	for _, pe := range state.EdgePropEntries() {
		compacted.SetEdgeProperty(pe.Entity, pe.Key, pe.Event, pe.Value)
	}
	compacted.Vector = state.Vector.Clone()

	sha, err := checkpoint.Create(ctx, e.store, e.layout, compacted, frontier, prior)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.lastGood = compacted
	e.patchesSinceCompaction = 0
	e.lastCheckpointSha = sha
	e.mu.Unlock()
	return nil
}

const compactionWriter crdt.WriterID = "__gc_compaction__"

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func frontierEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for w, sha := range a {
		if b[w] != sha {
			return false
		}
	}
	return true
}
