package crdt

// WriterID identifies a writer (agent) that owns an append-only patch chain.
type WriterID string

// Dot is a unique tag (writer, lamport) on an OR-Set add. Dot uniqueness
// follows from I3: a writer's lamport counter is strictly monotonic across
// its own patches.
type Dot struct {
	Writer  WriterID `codec:"w"`
	Lamport uint64   `codec:"l"`
}

// Less orders dots by (writer, lamport) for deterministic iteration/sorting.
func (d Dot) Less(other Dot) bool {
	if d.Writer != other.Writer {
		return d.Writer < other.Writer
	}
	return d.Lamport < other.Lamport
}
