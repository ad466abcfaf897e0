package reduce

import (
	"sort"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/patch"
)

// Sourced pairs a patch with the commit sha it was read back from, the input
// shape Reduce requires to build EventIDs and advance the version vector.
type Sourced struct {
	Patch patch.Patch
	Sha   string
}

// Reduce folds patches into initial in canonical order and returns the
// resulting state. Patches are first sorted by (lamport, writer, commitSha)
// so that two peers folding the same patch set in different arrival order
// always reach the same state (P1) — CRDT commutativity makes the op
// application itself order-independent, but a stable fold order keeps
// debugging and auditing deterministic.
func Reduce(initial *State, patches []Sourced) (*State, error) {
	ordered := make([]Sourced, len(patches))
	copy(ordered, patches)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i].Patch, ordered[j].Patch
		if a.Lamport != b.Lamport {
			return a.Lamport < b.Lamport
		}
		if a.Writer != b.Writer {
			return a.Writer < b.Writer
		}
		return ordered[i].Sha < ordered[j].Sha
	})

	state := initial
	for _, src := range ordered {
		if src.Patch.SchemaVersion != patch.Schema {
			return nil, errs.Newf(errs.SchemaUnsupported, errs.SeverityHigh,
				"patch schema %d unsupported (want %d)", src.Patch.SchemaVersion, patch.Schema)
		}
		if err := src.Patch.ValidateShape(); err != nil {
			return nil, err
		}
		for i, op := range src.Patch.Ops {
			eid := crdt.EventID{
				Lamport:   src.Patch.Lamport,
				Writer:    crdt.WriterID(src.Patch.Writer),
				CommitSHA: src.Sha,
				OpIndex:   i,
			}
			applyOp(state, op, eid)
		}
		state.Vector = state.Vector.Update(crdt.WriterID(src.Patch.Writer), src.Patch.Lamport)
	}
	return state, nil
}

// ValidateIdentifiers re-checks every op's node/edge/label/scope identifier
// against the reserved-byte rule (I1). The patch builder already enforces
// this when a patch is built; this is the fold-time re-verification the
// config's identifiers.reverify_on_fold flag gates, catching a patch built
// by a writer that predates a reserved-byte rule tightening.
func ValidateIdentifiers(patches []Sourced) error {
	for _, src := range patches {
		for _, op := range src.Patch.Ops {
			for _, id := range []string{op.Node, op.From, op.To, op.Label, op.Scope, op.Key} {
				if id == "" {
					continue
				}
				if err := crdt.ValidateID([]byte(id)); err != nil {
					return errs.Wrapf(err, errs.InvalidInput, errs.SeverityHigh,
						"writer %s patch identifier %q", src.Patch.Writer, id)
				}
			}
		}
	}
	return nil
}

func applyOp(s *State, op patch.Op, eid crdt.EventID) {
	switch op.Type {
	case patch.OpNodeAdd:
		s.NodeAlive.Add(op.Node, *op.Dot)
	case patch.OpNodeRemove:
		s.NodeAlive.Remove(op.Node, dotSet(op.ObservedDots))
	case patch.OpEdgeAdd:
		key := crdt.EncodeEdgeKey(crdt.NodeID(op.From), crdt.NodeID(op.To), op.Label)
		s.EdgeAlive.Add(key, *op.Dot)
	case patch.OpEdgeRemove:
		key := crdt.EncodeEdgeKey(crdt.NodeID(op.From), crdt.NodeID(op.To), op.Label)
		s.EdgeAlive.Remove(key, dotSet(op.ObservedDots))
	case patch.OpPropSet:
		s.NodeProps.Set(propKey{entity: op.Scope, key: op.Key}, eid, op.Value)
	case patch.OpEdgePropSet:
		key := crdt.EncodeEdgeKey(crdt.NodeID(op.From), crdt.NodeID(op.To), op.Label)
		s.EdgeProps.Set(propKey{entity: string(key), key: op.Key}, eid, op.Value)
	}
}

func dotSet(dots []crdt.Dot) map[crdt.Dot]struct{} {
	if len(dots) == 0 {
		return nil
	}
	out := make(map[crdt.Dot]struct{}, len(dots))
	for _, d := range dots {
		out[d] = struct{}{}
	}
	return out
}
