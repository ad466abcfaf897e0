package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	require.NoError(t, ValidateID([]byte("u:alice")))
	require.Error(t, ValidateID([]byte{0x01, 'x'}))
	require.Error(t, ValidateID([]byte("a\x00b")))
	require.Error(t, ValidateID(nil))
}

func TestORSetReAddAfterObservedRemove(t *testing.T) {
	s := NewORSet[string]()
	d1 := Dot{Writer: "alice", Lamport: 1}
	s.Add("x", d1)
	require.True(t, s.Alive("x"))

	s.Remove("x", map[Dot]struct{}{d1: {}})
	require.False(t, s.Alive("x"))

	d2 := Dot{Writer: "bob", Lamport: 2}
	s.Add("x", d2)
	require.True(t, s.Alive("x"), "re-add after observed remove must resurrect the element (P2)")
}

func TestORSetConcurrentAddNotObserved(t *testing.T) {
	// alice removes what she observed; bob's concurrent add is untouched.
	s := NewORSet[string]()
	dAlice := Dot{Writer: "alice", Lamport: 1}
	s.Add("x", dAlice)

	observed := s.AliveDots("x")
	dBob := Dot{Writer: "bob", Lamport: 1}
	s.Add("x", dBob) // concurrent with the remove below

	s.Remove("x", observed)
	require.True(t, s.Alive("x"), "bob's dot was never observed by alice's remove")
}

func TestLWWMonotonicityBothOrders(t *testing.T) {
	e1 := EventID{Lamport: 1, Writer: "a"}
	e2 := EventID{Lamport: 2, Writer: "a"}

	forward := NewLWWRegister[string]()
	forward.Set("k", e1, "v1")
	forward.Set("k", e2, "v2")
	v, _, _ := forward.Get("k")
	require.Equal(t, "v2", v)

	reverse := NewLWWRegister[string]()
	reverse.Set("k", e2, "v2")
	reverse.Set("k", e1, "v1")
	v, _, _ = reverse.Get("k")
	require.Equal(t, "v2", v, "later EventID must win regardless of application order")
}

func TestEventIDTotalOrder(t *testing.T) {
	a := EventID{Lamport: 1, Writer: "a", CommitSHA: "s1", OpIndex: 0}
	b := EventID{Lamport: 1, Writer: "a", CommitSHA: "s1", OpIndex: 1}
	require.True(t, b.GreaterThan(a))
	require.Equal(t, 0, a.Compare(a))
}

func TestVersionVectorJoinAndDominates(t *testing.T) {
	a := VersionVector{"w1": 3, "w2": 1}
	b := VersionVector{"w1": 2, "w2": 5}
	joined := a.Join(b)
	require.Equal(t, uint64(3), joined["w1"])
	require.Equal(t, uint64(5), joined["w2"])
	require.True(t, joined.Dominates(a))
	require.True(t, joined.Dominates(b))
	require.False(t, a.Dominates(b))
}

func TestEncodeEdgeKeyNoCollisionAcrossBoundaries(t *testing.T) {
	k1 := EncodeEdgeKey("ab", "c", "d")
	k2 := EncodeEdgeKey("a", "bc", "d")
	require.NotEqual(t, k1, k2)
}

func TestEncodeDecodeEdgeKeyRoundTrip(t *testing.T) {
	k := EncodeEdgeKey("n1", "n2", "knows")
	from, to, label, err := DecodeEdgeKey(k)
	require.NoError(t, err)
	require.Equal(t, NodeID("n1"), from)
	require.Equal(t, NodeID("n2"), to)
	require.Equal(t, "knows", label)
}

func TestDecodeEdgeKeyUnlabeled(t *testing.T) {
	k := EncodeEdgeKey("a", "b", "")
	from, to, label, err := DecodeEdgeKey(k)
	require.NoError(t, err)
	require.Equal(t, NodeID("a"), from)
	require.Equal(t, NodeID("b"), to)
	require.Equal(t, "", label)
}
