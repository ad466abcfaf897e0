// Package patch defines the Op/Patch wire model (spec §3, §4.E) and the
// builder that turns a sequence of graph mutations requested against a live
// state view into a canonically-serializable, append-only Patch.
package patch

import "github.com/rohankatakam/warp/internal/crdt"

// Schema is the current patch wire-format version.
const Schema = 5

// OpType tags the closed union of operation variants.
type OpType string

const (
	OpNodeAdd      OpType = "NodeAdd"
	OpNodeRemove   OpType = "NodeRemove"
	OpEdgeAdd      OpType = "EdgeAdd"
	OpEdgeRemove   OpType = "EdgeRemove"
	OpPropSet      OpType = "PropSet"
	OpEdgePropSet  OpType = "EdgePropSet"
)

// Op is one operation within a patch. Exactly one of the type-specific field
// groups is populated, selected by Type; decode validates exhaustively
// against the closed OpType union.
type Op struct {
	Type OpType `codec:"type"`

	// NodeAdd / NodeRemove
	Node         string     `codec:"node,omitempty"`
	Dot          *crdt.Dot  `codec:"dot,omitempty"`
	ObservedDots []crdt.Dot `codec:"observed,omitempty"`

	// EdgeAdd / EdgeRemove / EdgePropSet
	From  string `codec:"from,omitempty"`
	To    string `codec:"to,omitempty"`
	Label string `codec:"label,omitempty"`

	// PropSet / EdgePropSet
	Scope string      `codec:"scope,omitempty"` // node id for PropSet; unused for EdgePropSet (From/To/Label identify the edge)
	Key   string      `codec:"key,omitempty"`
	Value interface{} `codec:"value,omitempty"`
}

// Patch is one writer's atomic, causally-contexted group of ops.
type Patch struct {
	SchemaVersion int                 `codec:"schema"`
	Writer        string              `codec:"writer"`
	Lamport       uint64              `codec:"lamport"`
	Context       crdt.VersionVector  `codec:"context"`
	Ops           []Op                `codec:"ops"`
	Reads         []string            `codec:"reads,omitempty"`
	Writes        []string            `codec:"writes,omitempty"`
	Signature     *Signature          `codec:"signature,omitempty"`
}

// Signature is the optional envelope wrapping a patch's authenticity proof.
type Signature struct {
	Alg string `codec:"alg"`
	Sig []byte `codec:"sig"`
	Key []byte `codec:"key,omitempty"` // signer's public key, when not resolved via trust chain
}

// ValidateShape exhaustively checks that every op matches a known OpType and
// carries the fields that type requires, rejecting anything else as
// SCHEMA_UNSUPPORTED-shaped malformed input.
func (p *Patch) ValidateShape() error {
	for i := range p.Ops {
		if err := p.Ops[i].validateShape(); err != nil {
			return err
		}
	}
	return nil
}

func (o *Op) validateShape() error {
	switch o.Type {
	case OpNodeAdd:
		if o.Node == "" || o.Dot == nil {
			return errMalformed(o.Type)
		}
	case OpNodeRemove:
		if o.Node == "" {
			return errMalformed(o.Type)
		}
	case OpEdgeAdd:
		if o.From == "" || o.To == "" || o.Dot == nil {
			return errMalformed(o.Type)
		}
	case OpEdgeRemove:
		if o.From == "" || o.To == "" {
			return errMalformed(o.Type)
		}
	case OpPropSet:
		if o.Scope == "" || o.Key == "" {
			return errMalformed(o.Type)
		}
	case OpEdgePropSet:
		if o.From == "" || o.To == "" || o.Key == "" {
			return errMalformed(o.Type)
		}
	default:
		return errUnknownType(o.Type)
	}
	return nil
}
