package crdt

// ORSet is an observed-remove set: each element maps to the set of add-dots
// that are currently alive and the set of remove-dots observed against it. An
// element is alive iff at least one add-dot has not been cancelled by a
// remove that observed it (I2). Concurrent add-after-observed-remove
// therefore re-adds the element (P2), because the new add-dot was never in
// anyone's observed-remove set.
type ORSet[T comparable] struct {
	addDots    map[T]map[Dot]struct{}
	removeDots map[T]map[Dot]struct{}
}

// NewORSet returns an empty OR-Set.
func NewORSet[T comparable]() *ORSet[T] {
	return &ORSet[T]{
		addDots:    make(map[T]map[Dot]struct{}),
		removeDots: make(map[T]map[Dot]struct{}),
	}
}

// Add records that d added e.
func (s *ORSet[T]) Add(e T, d Dot) {
	if s.addDots[e] == nil {
		s.addDots[e] = make(map[Dot]struct{})
	}
	s.addDots[e][d] = struct{}{}
}

// Remove records the add-dots the remover observed for e as cancelled. Dots
// not present in observed are left untouched, including any added
// concurrently with this remove.
func (s *ORSet[T]) Remove(e T, observed map[Dot]struct{}) {
	if len(observed) == 0 {
		return
	}
	if s.removeDots[e] == nil {
		s.removeDots[e] = make(map[Dot]struct{})
	}
	for d := range observed {
		s.removeDots[e][d] = struct{}{}
	}
}

// AliveDots returns the add-dots for e not present in e's observed-remove
// set — the snapshot a builder takes before emitting a Remove op.
func (s *ORSet[T]) AliveDots(e T) map[Dot]struct{} {
	adds := s.addDots[e]
	if len(adds) == 0 {
		return nil
	}
	removed := s.removeDots[e]
	out := make(map[Dot]struct{}, len(adds))
	for d := range adds {
		if removed == nil {
			out[d] = struct{}{}
			continue
		}
		if _, dead := removed[d]; !dead {
			out[d] = struct{}{}
		}
	}
	return out
}

// Alive reports whether e has at least one surviving add-dot.
func (s *ORSet[T]) Alive(e T) bool {
	return len(s.AliveDots(e)) > 0
}

// Elements returns every element with at least one add-dot ever recorded,
// regardless of current aliveness (used by compaction/GC to enumerate
// tombstones).
func (s *ORSet[T]) Elements() []T {
	out := make([]T, 0, len(s.addDots))
	for e := range s.addDots {
		out = append(out, e)
	}
	return out
}

// AliveElements returns every element currently alive.
func (s *ORSet[T]) AliveElements() []T {
	out := make([]T, 0, len(s.addDots))
	for e := range s.addDots {
		if s.Alive(e) {
			out = append(out, e)
		}
	}
	return out
}

// Merge performs the pointwise union of s and other's add/remove dot sets,
// mutating s.
func (s *ORSet[T]) Merge(other *ORSet[T]) {
	for e, dots := range other.addDots {
		for d := range dots {
			s.Add(e, d)
		}
	}
	for e, dots := range other.removeDots {
		if s.removeDots[e] == nil {
			s.removeDots[e] = make(map[Dot]struct{})
		}
		for d := range dots {
			s.removeDots[e][d] = struct{}{}
		}
	}
}

// TombstoneRatio returns remove-dots / add-dots across the whole set, the
// metric the GC policy compares against its threshold.
func (s *ORSet[T]) TombstoneRatio() float64 {
	var adds, removes int
	for _, dots := range s.addDots {
		adds += len(dots)
	}
	for _, dots := range s.removeDots {
		removes += len(dots)
	}
	if adds == 0 {
		return 0
	}
	return float64(removes) / float64(adds)
}

// Compact returns a fresh OR-Set containing only currently-alive elements,
// each re-seeded with a single synthetic add-dot and no remove history. Used
// by the materialization engine's GC compaction step.
func (s *ORSet[T]) Compact(resetWriter WriterID) *ORSet[T] {
	out := NewORSet[T]()
	var lamport uint64
	for _, e := range s.AliveElements() {
		lamport++
		out.Add(e, Dot{Writer: resetWriter, Lamport: lamport})
	}
	return out
}
