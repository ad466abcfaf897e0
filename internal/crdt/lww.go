package crdt

// lwwEntry pairs a value with the EventID that last won the register.
type lwwEntry struct {
	eventID EventID
	value   interface{}
}

// LWWRegister is a last-write-wins map keyed by K. An update wins iff its
// EventID strictly exceeds the stored one under EventID.Compare (I4 rules
// out ties between distinct updates).
type LWWRegister[K comparable] struct {
	entries map[K]lwwEntry
}

// NewLWWRegister returns an empty LWW-Register.
func NewLWWRegister[K comparable]() *LWWRegister[K] {
	return &LWWRegister[K]{entries: make(map[K]lwwEntry)}
}

// Set applies (k, eid, v) iff eid is strictly greater than the currently
// stored EventID for k, or k has no entry yet. Idempotent re-application of
// the same (k, eid) is a no-op either way (P3).
func (r *LWWRegister[K]) Set(k K, eid EventID, v interface{}) {
	cur, ok := r.entries[k]
	if !ok || eid.GreaterThan(cur.eventID) {
		r.entries[k] = lwwEntry{eventID: eid, value: v}
	}
}

// Get returns the current value and EventID for k.
func (r *LWWRegister[K]) Get(k K) (interface{}, EventID, bool) {
	e, ok := r.entries[k]
	if !ok {
		return nil, EventID{}, false
	}
	return e.value, e.eventID, true
}

// Keys returns every key with a stored value.
func (r *LWWRegister[K]) Keys() []K {
	out := make([]K, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	return out
}

// Merge folds other into r, keeping the higher EventID per key.
func (r *LWWRegister[K]) Merge(other *LWWRegister[K]) {
	for k, e := range other.entries {
		r.Set(k, e.eventID, e.value)
	}
}
