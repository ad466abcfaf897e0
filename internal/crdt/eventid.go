package crdt

// EventID is the total-ordered LWW timestamp: (lamport, writer, commitSha,
// opIndex). Equal iff all four components are equal (I4).
type EventID struct {
	Lamport   uint64   `codec:"l"`
	Writer    WriterID `codec:"w"`
	CommitSHA string   `codec:"c"`
	OpIndex   int      `codec:"i"`
}

// Compare returns -1, 0, or 1 ordering e before, equal to, or after other,
// lexicographically on (lamport, writer, commitSha, opIndex).
func (e EventID) Compare(other EventID) int {
	if e.Lamport != other.Lamport {
		if e.Lamport < other.Lamport {
			return -1
		}
		return 1
	}
	if e.Writer != other.Writer {
		if e.Writer < other.Writer {
			return -1
		}
		return 1
	}
	if e.CommitSHA != other.CommitSHA {
		if e.CommitSHA < other.CommitSHA {
			return -1
		}
		return 1
	}
	if e.OpIndex != other.OpIndex {
		if e.OpIndex < other.OpIndex {
			return -1
		}
		return 1
	}
	return 0
}

// GreaterThan reports whether e strictly follows other in the total order.
func (e EventID) GreaterThan(other EventID) bool { return e.Compare(other) > 0 }
