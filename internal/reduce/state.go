// Package reduce folds an ordered sequence of patches into a StateV5: the
// materialized view every query and index build reads from (spec §4.D).
package reduce

import (
	"sort"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/objhash"
)

// propKey identifies one (entity, property-name) slot in an LWW register.
type propKey struct {
	entity string
	key    string
}

// State is the folded materialization of a graph at some frontier. It
// satisfies patch.StateView so a fresh Builder can be constructed directly
// against it.
type State struct {
	NodeAlive *crdt.ORSet[string]
	EdgeAlive *crdt.ORSet[crdt.EdgeKey]
	NodeProps *crdt.LWWRegister[propKey]
	EdgeProps *crdt.LWWRegister[propKey]
	Vector    crdt.VersionVector
}

// New returns an empty state at the zero frontier.
func New() *State {
	return &State{
		NodeAlive: crdt.NewORSet[string](),
		EdgeAlive: crdt.NewORSet[crdt.EdgeKey](),
		NodeProps: crdt.NewLWWRegister[propKey](),
		EdgeProps: crdt.NewLWWRegister[propKey](),
		Vector:    crdt.VersionVector{},
	}
}

// AliveNodeDots implements patch.StateView.
func (s *State) AliveNodeDots(node string) map[crdt.Dot]struct{} {
	return s.NodeAlive.AliveDots(node)
}

// AliveEdgeDots implements patch.StateView.
func (s *State) AliveEdgeDots(key crdt.EdgeKey) map[crdt.Dot]struct{} {
	return s.EdgeAlive.AliveDots(key)
}

// HasNode reports whether node is currently alive.
func (s *State) HasNode(node string) bool { return s.NodeAlive.Alive(node) }

// HasEdge reports whether the (from,to,label) edge is currently alive.
func (s *State) HasEdge(key crdt.EdgeKey) bool { return s.EdgeAlive.Alive(key) }

// NodeProperty returns the current LWW value for (node, key), if any.
func (s *State) NodeProperty(node, key string) (interface{}, bool) {
	v, _, ok := s.NodeProps.Get(propKey{entity: node, key: key})
	return v, ok
}

// EdgeProperty returns the current LWW value for (edgeKey, key), if any.
func (s *State) EdgeProperty(edge crdt.EdgeKey, key string) (interface{}, bool) {
	v, _, ok := s.EdgeProps.Get(propKey{entity: string(edge), key: key})
	return v, ok
}

// PropEntry is one exported (entity, key) -> (eventID, value) LWW slot, used
// by checkpoint to serialize property registers whose internal key type is
// unexported.
type PropEntry struct {
	Entity string
	Key    string
	Event  crdt.EventID
	Value  interface{}
}

// NodePropEntries returns every node property currently set.
func (s *State) NodePropEntries() []PropEntry { return entriesOf(s.NodeProps) }

// EdgePropEntries returns every edge property currently set.
func (s *State) EdgePropEntries() []PropEntry { return entriesOf(s.EdgeProps) }

func entriesOf(r *crdt.LWWRegister[propKey]) []PropEntry {
	keys := r.Keys()
	out := make([]PropEntry, 0, len(keys))
	for _, k := range keys {
		v, eid, ok := r.Get(k)
		if !ok {
			continue
		}
		out = append(out, PropEntry{Entity: k.entity, Key: k.key, Event: eid, Value: v})
	}
	return out
}

// SetNodeProperty applies a decoded node-property entry directly, used when
// rehydrating state from a checkpoint.
func (s *State) SetNodeProperty(entity, key string, eid crdt.EventID, value interface{}) {
	s.NodeProps.Set(propKey{entity: entity, key: key}, eid, value)
}

// SetEdgeProperty applies a decoded edge-property entry directly, used when
// rehydrating state from a checkpoint.
func (s *State) SetEdgeProperty(entity string, key string, eid crdt.EventID, value interface{}) {
	s.EdgeProps.Set(propKey{entity: entity, key: key}, eid, value)
}

// Merge folds other into s in place (used to combine a base checkpoint state
// with an incrementally-folded delta).
func (s *State) Merge(other *State) {
	s.NodeAlive.Merge(other.NodeAlive)
	s.EdgeAlive.Merge(other.EdgeAlive)
	s.NodeProps.Merge(other.NodeProps)
	s.EdgeProps.Merge(other.EdgeProps)
	s.Vector = s.Vector.Join(other.Vector)
}

// digest is the canonical, content-hashable projection of a State: slices
// are sorted before encoding since codec's canonical mode only orders map
// keys, not slice elements.
type digest struct {
	Nodes     []string        `codec:"nodes"`
	Edges     []crdt.EdgeKey  `codec:"edges"`
	NodeProps []PropEntry     `codec:"node_props"`
	EdgeProps []PropEntry     `codec:"edge_props"`
	Vector    crdt.VersionVector `codec:"vv"`
}

// ViewHash returns the content address of s, the value the materialization
// engine caches after each materialization and publishes to its shared cache.
func (s *State) ViewHash() (string, error) {
	nodes := s.NodeAlive.AliveElements()
	sort.Strings(nodes)
	edges := s.EdgeAlive.AliveElements()
	sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
	nodeProps := s.NodePropEntries()
	sort.Slice(nodeProps, func(i, j int) bool { return propLess(nodeProps[i], nodeProps[j]) })
	edgeProps := s.EdgePropEntries()
	sort.Slice(edgeProps, func(i, j int) bool { return propLess(edgeProps[i], edgeProps[j]) })

	oid, err := objhash.HashCanonical(digest{
		Nodes: nodes, Edges: edges, NodeProps: nodeProps, EdgeProps: edgeProps, Vector: s.Vector,
	})
	return string(oid), err
}

func propLess(a, b PropEntry) bool {
	if a.Entity != b.Entity {
		return a.Entity < b.Entity
	}
	return a.Key < b.Key
}

// TombstoneRatio reports the larger of the two OR-Set tombstone ratios,
// the signal the GC policy (spec §4.H) thresholds against.
func (s *State) TombstoneRatio() float64 {
	n := s.NodeAlive.TombstoneRatio()
	e := s.EdgeAlive.TombstoneRatio()
	if e > n {
		return e
	}
	return n
}
