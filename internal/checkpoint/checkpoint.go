// Package checkpoint persists and resumes materialized state snapshots
// (spec §4.F): a checkpoint is {schema, state, patchHeads} stored as a
// canonical blob and referenced by refs/warp/<graph>/checkpoints/latest.
package checkpoint

import (
	"context"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

// Schema is the checkpoint record's wire-format version.
const Schema = 5

// wireState is the canonical-codec shape of reduce.State: the CRDT internals
// (dot sets, lww entries) are unexported, so a checkpoint persists the
// currently-alive dot maps directly rather than round-tripping through
// unexported fields.
type wireState struct {
	NodeAddDots map[string][]crdt.Dot       `codec:"node_add"`
	EdgeAddDots map[crdt.EdgeKey][]crdt.Dot `codec:"edge_add"`
	NodeProps   []propEntry                 `codec:"node_props"`
	EdgeProps   []propEntry                 `codec:"edge_props"`
	Vector      crdt.VersionVector          `codec:"vv"`
}

type propEntry struct {
	Entity string        `codec:"e"`
	Key    string        `codec:"k"`
	Event  crdt.EventID  `codec:"id"`
	Value  codec.Value   `codec:"v"`
}

// Record is the decoded checkpoint: the folded state plus the per-writer
// commit sha each writer's chain had reached when state was produced.
type Record struct {
	SchemaVersion int
	State         *reduce.State
	PatchHeads    map[string]string
}

type wireRecord struct {
	SchemaVersion int               `codec:"schema"`
	State         wireState         `codec:"state"`
	PatchHeads    map[string]string `codec:"patch_heads"`
}

// Create persists state and patchHeads as a new checkpoint commit, parented
// on priorCommitSha (empty if this is the first checkpoint), and CAS-updates
// the graph's checkpoints/latest ref. Returns the new commit sha.
func Create(ctx context.Context, store objstore.Store, layout objstore.RefLayout, state *reduce.State, patchHeads map[string]string, priorCommitSha string) (string, error) {
	rec := wireRecord{
		SchemaVersion: Schema,
		State:         toWire(state),
		PatchHeads:    patchHeads,
	}
	data, err := codec.Encode(rec)
	if err != nil {
		return "", errs.InternalWrap(err, "encode checkpoint")
	}
	blobOID, err := store.WriteBlob(ctx, data)
	if err != nil {
		return "", errs.RefIOWrap(err, "write checkpoint blob")
	}
	treeOID, err := store.WriteTree(ctx, []objstore.TreeEntry{{Mode: objstore.ModeBlob, OID: blobOID, Name: "checkpoint.cbor"}})
	if err != nil {
		return "", errs.RefIOWrap(err, "write checkpoint tree")
	}
	var parents []string
	if priorCommitSha != "" {
		parents = []string{priorCommitSha}
	}
	sha, err := store.Commit(ctx, objstore.CommitInfo{TreeOID: treeOID, Parents: parents, Message: "checkpoint"})
	if err != nil {
		return "", errs.RefIOWrap(err, "commit checkpoint")
	}

	ref := layout.CheckpointLatest()
	if err := store.CompareAndSwapRef(ctx, ref, sha, priorCommitSha); err != nil {
		if err == objstore.ErrCASMismatch {
			return "", errs.CASConflictf("checkpoints/latest advanced concurrently").WithContext("ref", ref)
		}
		return "", errs.RefIOWrap(err, "advance checkpoint ref")
	}
	return sha, nil
}

// Load resolves sha (or the graph's current checkpoints/latest ref, if sha
// is empty) and decodes the checkpoint record it points to. Returns
// (nil, "", nil) if no checkpoint exists yet.
func Load(ctx context.Context, store objstore.Store, layout objstore.RefLayout, sha string) (*Record, string, error) {
	if sha == "" {
		ref, err := store.ReadRef(ctx, layout.CheckpointLatest())
		if err == objstore.ErrRefNotFound {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", errs.RefIOWrap(err, "read checkpoints/latest")
		}
		sha = ref
	}
	treeOID, err := store.GetCommitTree(ctx, sha)
	if err != nil {
		return nil, "", errs.RefIOWrap(err, "resolve checkpoint commit %s", sha)
	}
	entries, err := store.ReadTreeOIDs(ctx, treeOID)
	if err != nil {
		return nil, "", errs.RefIOWrap(err, "read checkpoint tree")
	}
	blobOID, ok := entries["checkpoint.cbor"]
	if !ok {
		return nil, "", errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh, "checkpoint commit %s missing checkpoint.cbor", sha)
	}
	data, err := store.ReadBlob(ctx, blobOID)
	if err != nil {
		return nil, "", errs.RefIOWrap(err, "read checkpoint blob")
	}
	var rec wireRecord
	if err := codec.Decode(data, &rec); err != nil {
		return nil, "", errs.Wrapf(err, errs.SchemaUnsupported, errs.SeverityHigh, "decode checkpoint")
	}
	if rec.SchemaVersion != Schema {
		return nil, "", errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh, "checkpoint schema %d unsupported (want %d)", rec.SchemaVersion, Schema)
	}
	return &Record{SchemaVersion: rec.SchemaVersion, State: fromWire(rec.State), PatchHeads: rec.PatchHeads}, sha, nil
}

// toWire persists only currently-alive add-dots, not full tombstone history:
// a checkpoint is a snapshot of live state, not a resumable patch log, so
// anything already dead carries no information a future fold would need.
func toWire(s *reduce.State) wireState {
	w := wireState{
		NodeAddDots: make(map[string][]crdt.Dot),
		EdgeAddDots: make(map[crdt.EdgeKey][]crdt.Dot),
		Vector:      s.Vector.Clone(),
	}
	for _, n := range s.NodeAlive.AliveElements() {
		for d := range s.NodeAlive.AliveDots(n) {
			w.NodeAddDots[n] = append(w.NodeAddDots[n], d)
		}
	}
	for _, e := range s.EdgeAlive.AliveElements() {
		for d := range s.EdgeAlive.AliveDots(e) {
			w.EdgeAddDots[e] = append(w.EdgeAddDots[e], d)
		}
	}
	for _, pe := range s.NodePropEntries() {
		w.NodeProps = append(w.NodeProps, propEntry{Entity: pe.Entity, Key: pe.Key, Event: pe.Event, Value: pe.Value})
	}
	for _, pe := range s.EdgePropEntries() {
		w.EdgeProps = append(w.EdgeProps, propEntry{Entity: pe.Entity, Key: pe.Key, Event: pe.Event, Value: pe.Value})
	}
	return w
}

func fromWire(w wireState) *reduce.State {
	s := reduce.New()
	for n, dots := range w.NodeAddDots {
		for _, d := range dots {
			s.NodeAlive.Add(n, d)
		}
	}
	for e, dots := range w.EdgeAddDots {
		for _, d := range dots {
			s.EdgeAlive.Add(e, d)
		}
	}
	for _, pe := range w.NodeProps {
		s.SetNodeProperty(pe.Entity, pe.Key, pe.Event, pe.Value)
	}
	for _, pe := range w.EdgeProps {
		s.SetEdgeProperty(pe.Entity, pe.Key, pe.Event, pe.Value)
	}
	s.Vector = w.Vector.Clone()
	return s
}
