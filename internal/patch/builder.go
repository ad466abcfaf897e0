package patch

import (
	"context"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
)

// StateView is the minimal read surface a Builder needs from a materialized
// state in order to compute observed-remove tombstones: the add-dots
// currently alive for a node or edge.
type StateView interface {
	AliveNodeDots(node string) map[crdt.Dot]struct{}
	AliveEdgeDots(key crdt.EdgeKey) map[crdt.Dot]struct{}
}

// Builder accumulates ops against a base state and produces one Patch. A
// Builder is single-use: construct, call its mutators, call Commit once.
type Builder struct {
	writer  crdt.WriterID
	lamport uint64
	context crdt.VersionVector
	state   StateView

	ops    []Op
	reads  []string
	writes []string

	// tombstone snapshot is taken lazily, once per entity, the first time it
	// is removed in this patch: later removes of the same entity within the
	// same patch reuse the cached dot set instead of re-querying state,
	// keeping a single remove-set consistent even if state is concurrently
	// materializing.
	nodeTombstones map[string]map[crdt.Dot]struct{}
	edgeTombstones map[crdt.EdgeKey]map[crdt.Dot]struct{}

	parentRef string // CAS expected-old value for the writer ref at commit time
	err       error
}

// NewBuilder starts a patch for writer against context, reading tombstone
// observations from state. parentRef is the writer ref's current value
// (empty string if the writer has no prior patch), used as the CAS
// expected-old at Commit.
func NewBuilder(writer crdt.WriterID, lamport uint64, context crdt.VersionVector, state StateView, parentRef string) *Builder {
	return &Builder{
		writer:         writer,
		lamport:        lamport,
		context:        context,
		state:          state,
		nodeTombstones: make(map[string]map[crdt.Dot]struct{}),
		edgeTombstones: make(map[crdt.EdgeKey]map[crdt.Dot]struct{}),
		parentRef:      parentRef,
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) nextDot() crdt.Dot {
	b.lamport++
	return crdt.Dot{Writer: b.writer, Lamport: b.lamport}
}

// AddNode appends a NodeAdd op minting a fresh dot for node.
func (b *Builder) AddNode(node string) *Builder {
	if err := crdt.ValidateID([]byte(node)); err != nil {
		b.fail(err)
		return b
	}
	dot := b.nextDot()
	b.ops = append(b.ops, Op{Type: OpNodeAdd, Node: node, Dot: &dot})
	b.writes = append(b.writes, node)
	return b
}

// RemoveNode appends a NodeRemove op observing every add-dot currently alive
// for node (the one-time-per-entity tombstone snapshot).
func (b *Builder) RemoveNode(node string) *Builder {
	if err := crdt.ValidateID([]byte(node)); err != nil {
		b.fail(err)
		return b
	}
	dots, ok := b.nodeTombstones[node]
	if !ok {
		dots = b.state.AliveNodeDots(node)
		b.nodeTombstones[node] = dots
	}
	observed := dotSlice(dots)
	b.ops = append(b.ops, Op{Type: OpNodeRemove, Node: node, ObservedDots: observed})
	b.writes = append(b.writes, node)
	return b
}

// AddEdge appends an EdgeAdd op minting a fresh dot for (from,label,to).
func (b *Builder) AddEdge(from, to, label string) *Builder {
	if err := validateEdgeIDs(from, to, label); err != nil {
		b.fail(err)
		return b
	}
	dot := b.nextDot()
	b.ops = append(b.ops, Op{Type: OpEdgeAdd, From: from, To: to, Label: label, Dot: &dot})
	b.writes = append(b.writes, from, to)
	return b
}

// RemoveEdge appends an EdgeRemove op observing every add-dot currently
// alive for (from,label,to).
func (b *Builder) RemoveEdge(from, to, label string) *Builder {
	if err := validateEdgeIDs(from, to, label); err != nil {
		b.fail(err)
		return b
	}
	key := crdt.EncodeEdgeKey(crdt.NodeID(from), crdt.NodeID(to), label)
	dots, ok := b.edgeTombstones[key]
	if !ok {
		dots = b.state.AliveEdgeDots(key)
		b.edgeTombstones[key] = dots
	}
	observed := dotSlice(dots)
	b.ops = append(b.ops, Op{Type: OpEdgeRemove, From: from, To: to, Label: label, ObservedDots: observed})
	b.writes = append(b.writes, from, to)
	return b
}

// SetProperty appends a PropSet op for node's key.
func (b *Builder) SetProperty(node, key string, value interface{}) *Builder {
	if err := crdt.ValidateID([]byte(node)); err != nil {
		b.fail(err)
		return b
	}
	if err := crdt.ValidateID([]byte(key)); err != nil {
		b.fail(err)
		return b
	}
	b.ops = append(b.ops, Op{Type: OpPropSet, Scope: node, Key: key, Value: value})
	b.writes = append(b.writes, node)
	return b
}

// SetEdgeProperty appends an EdgePropSet op for (from,label,to)'s key.
func (b *Builder) SetEdgeProperty(from, to, label, key string, value interface{}) *Builder {
	if err := validateEdgeIDs(from, to, label); err != nil {
		b.fail(err)
		return b
	}
	if err := crdt.ValidateID([]byte(key)); err != nil {
		b.fail(err)
		return b
	}
	b.ops = append(b.ops, Op{Type: OpEdgePropSet, From: from, To: to, Label: label, Key: key, Value: value})
	b.writes = append(b.writes, from, to)
	return b
}

// validateEdgeIDs enforces I1 on all three identifier positions of an edge
// triple eagerly, at the builder boundary, per §7.
func validateEdgeIDs(from, to, label string) error {
	if err := crdt.ValidateID([]byte(from)); err != nil {
		return err
	}
	if err := crdt.ValidateID([]byte(to)); err != nil {
		return err
	}
	return crdt.ValidateID([]byte(label))
}

// MarkRead records node as having been read, for write-write conflict
// diagnostics surfaced alongside the patch (not enforced by the builder
// itself).
func (b *Builder) MarkRead(node string) *Builder {
	b.reads = append(b.reads, node)
	return b
}

// Result is the outcome of a successful Commit.
type Result struct {
	Sha   string
	Patch Patch
}

// Commit validates, canonically serializes, and stores the accumulated ops
// as a new commit, then CAS-advances the writer's ref from parentRef to the
// new commit sha. A ref mismatch surfaces errs.CASConflict so the caller can
// re-read state and retry with a fresh Builder.
func (b *Builder) Commit(ctx context.Context, store objstore.Store, layout objstore.RefLayout) (*Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.ops) == 0 {
		return nil, errs.InvalidInputf("patch has no ops")
	}

	p := Patch{
		SchemaVersion: Schema,
		Writer:        string(b.writer),
		Lamport:       b.lamport,
		Context:       b.context,
		Ops:           b.ops,
		Reads:         dedupe(b.reads),
		Writes:        dedupe(b.writes),
	}
	if err := p.ValidateShape(); err != nil {
		return nil, err
	}

	data, err := codec.Encode(p)
	if err != nil {
		return nil, errs.InternalWrap(err, "encode patch")
	}
	blobOID, err := store.WriteBlob(ctx, data)
	if err != nil {
		return nil, errs.RefIOWrap(err, "write patch blob")
	}
	treeOID, err := store.WriteTree(ctx, []objstore.TreeEntry{{Mode: objstore.ModeBlob, OID: blobOID, Name: "patch.cbor"}})
	if err != nil {
		return nil, errs.RefIOWrap(err, "write patch tree")
	}
	var parents []string
	if b.parentRef != "" {
		parents = []string{b.parentRef}
	}
	sha, err := store.Commit(ctx, objstore.CommitInfo{TreeOID: treeOID, Parents: parents, Message: "patch"})
	if err != nil {
		return nil, errs.RefIOWrap(err, "commit patch")
	}

	ref := layout.WriterRef(string(b.writer))
	if err := store.CompareAndSwapRef(ctx, ref, sha, b.parentRef); err != nil {
		if err == objstore.ErrCASMismatch {
			return nil, errs.CASConflictf("writer %s ref advanced concurrently", b.writer).WithContext("ref", ref)
		}
		return nil, errs.RefIOWrap(err, "advance writer ref")
	}

	return &Result{Sha: sha, Patch: p}, nil
}

func dotSlice(m map[crdt.Dot]struct{}) []crdt.Dot {
	if len(m) == 0 {
		return nil
	}
	out := make([]crdt.Dot, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
