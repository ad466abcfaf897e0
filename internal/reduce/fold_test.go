package reduce

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/patch"
)

func nodeAdd(writer string, lamport uint64, node string) patch.Patch {
	dot := crdt.Dot{Writer: crdt.WriterID(writer), Lamport: lamport}
	return patch.Patch{
		SchemaVersion: patch.Schema,
		Writer:        writer,
		Lamport:       lamport,
		Ops:           []patch.Op{{Type: patch.OpNodeAdd, Node: node, Dot: &dot}},
	}
}

func TestReduceIsOrderIndependentOfInputSlice(t *testing.T) {
	patches := []Sourced{
		{Patch: nodeAdd("bob", 2, "n2"), Sha: "s2"},
		{Patch: nodeAdd("alice", 1, "n1"), Sha: "s1"},
	}
	reversed := []Sourced{patches[1], patches[0]}

	s1, err := Reduce(New(), patches)
	require.NoError(t, err)
	s2, err := Reduce(New(), reversed)
	require.NoError(t, err)

	require.ElementsMatch(t, s1.NodeAlive.AliveElements(), s2.NodeAlive.AliveElements())
	require.True(t, s1.Vector.Equal(s2.Vector))
}

func TestReduceConcurrentAddAfterObservedRemoveSurvives(t *testing.T) {
	addDot := crdt.Dot{Writer: "alice", Lamport: 1}
	concurrentDot := crdt.Dot{Writer: "bob", Lamport: 1}

	add := patch.Patch{SchemaVersion: patch.Schema, Writer: "alice", Lamport: 1,
		Ops: []patch.Op{{Type: patch.OpNodeAdd, Node: "n1", Dot: &addDot}}}
	remove := patch.Patch{SchemaVersion: patch.Schema, Writer: "alice", Lamport: 2,
		Ops: []patch.Op{{Type: patch.OpNodeRemove, Node: "n1", ObservedDots: []crdt.Dot{addDot}}}}
	concurrentAdd := patch.Patch{SchemaVersion: patch.Schema, Writer: "bob", Lamport: 1,
		Ops: []patch.Op{{Type: patch.OpNodeAdd, Node: "n1", Dot: &concurrentDot}}}

	state, err := Reduce(New(), []Sourced{
		{Patch: add, Sha: "s1"}, {Patch: remove, Sha: "s2"}, {Patch: concurrentAdd, Sha: "s3"},
	})
	require.NoError(t, err)
	require.True(t, state.HasNode("n1"))
}

func TestReduceRejectsUnsupportedSchema(t *testing.T) {
	bad := patch.Patch{SchemaVersion: patch.Schema + 1}
	_, err := Reduce(New(), []Sourced{{Patch: bad, Sha: "s1"}})
	require.Error(t, err)
}

func TestValidateIdentifiersRejectsReservedLeadingByte(t *testing.T) {
	dot := crdt.Dot{Writer: "alice", Lamport: 1}
	bad := patch.Patch{SchemaVersion: patch.Schema, Writer: "alice", Lamport: 1,
		Ops: []patch.Op{{Type: patch.OpNodeAdd, Node: "\x01bad", Dot: &dot}}}

	err := ValidateIdentifiers([]Sourced{{Patch: bad, Sha: "s1"}})
	require.Error(t, err)
}

func TestValidateIdentifiersAcceptsOrdinaryIDs(t *testing.T) {
	err := ValidateIdentifiers([]Sourced{{Patch: nodeAdd("alice", 1, "u:alice"), Sha: "s1"}})
	require.NoError(t, err)
}

func TestValidateIdentifiersRejectsReservedLeadingByteInPropKey(t *testing.T) {
	bad := patch.Patch{SchemaVersion: patch.Schema, Writer: "alice", Lamport: 1,
		Ops: []patch.Op{{Type: patch.OpPropSet, Scope: "n1", Key: "\x01bad", Value: "v"}}}

	err := ValidateIdentifiers([]Sourced{{Patch: bad, Sha: "s1"}})
	require.Error(t, err)
}

func TestReduceLWWPropSetPicksHigherEventID(t *testing.T) {
	p1 := patch.Patch{SchemaVersion: patch.Schema, Writer: "alice", Lamport: 1,
		Ops: []patch.Op{{Type: patch.OpPropSet, Scope: "n1", Key: "name", Value: "old"}}}
	p2 := patch.Patch{SchemaVersion: patch.Schema, Writer: "alice", Lamport: 2,
		Ops: []patch.Op{{Type: patch.OpPropSet, Scope: "n1", Key: "name", Value: "new"}}}

	state, err := Reduce(New(), []Sourced{{Patch: p2, Sha: "s2"}, {Patch: p1, Sha: "s1"}})
	require.NoError(t, err)
	v, ok := state.NodeProperty("n1", "name")
	require.True(t, ok)
	require.Equal(t, "new", v)
}
