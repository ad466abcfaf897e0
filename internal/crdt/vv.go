package crdt

// VersionVector maps writer -> max lamport observed from that writer,
// capturing the causal context known at some point in time.
type VersionVector map[WriterID]uint64

// Clone returns a deep copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for w, n := range v {
		out[w] = n
	}
	return out
}

// Update stores max(current[w], n) in place and returns v for chaining.
func (v VersionVector) Update(w WriterID, n uint64) VersionVector {
	if cur, ok := v[w]; !ok || n > cur {
		v[w] = n
	}
	return v
}

// Join returns the pointwise maximum of v and other, leaving both unmodified.
func (v VersionVector) Join(other VersionVector) VersionVector {
	out := v.Clone()
	for w, n := range other {
		out.Update(w, n)
	}
	return out
}

// Dominates reports whether v[w] >= other[w] for every writer w known to
// other (writers absent from other are trivially dominated).
func (v VersionVector) Dominates(other VersionVector) bool {
	for w, n := range other {
		if v[w] < n {
			return false
		}
	}
	return true
}

// Equal reports whether v and other observe the same lamport per writer,
// ignoring writers mapped to zero (absence and explicit-zero are the same).
func (v VersionVector) Equal(other VersionVector) bool {
	return v.Dominates(other) && other.Dominates(v)
}
