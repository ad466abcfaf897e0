// Package bitmap implements the sharded roaring-bitmap adjacency index
// (spec §4.G): a 256-shard projection of the alive subgraph giving O(1)
// amortized neighbor lookups without walking the full materialized state.
package bitmap

import (
	"hash/fnv"

	"github.com/rohankatakam/warp/internal/errs"
)

const maxLocalID = 1 << 24 // 24-bit local id space per shard

// GlobalID packs (shardByte:8, localId:24) into one uint32, per spec §4.G.
type GlobalID uint32

func newGlobalID(shard byte, local uint32) GlobalID {
	return GlobalID(uint32(shard)<<24 | (local & (maxLocalID - 1)))
}

// Shard extracts the shard byte from a packed global id.
func (g GlobalID) Shard() byte { return byte(g >> 24) }

// Local extracts the 24-bit local id from a packed global id.
func (g GlobalID) Local() uint32 { return uint32(g) & (maxLocalID - 1) }

// shardByte implements spec §4.G's shard assignment rule: the first hex
// byte of the id when id is a 40- or 64-character hex string (git/sha256
// object ids), else the low byte of the FNV-1a hash of the id.
func shardByte(id string) byte {
	if (len(id) == 40 || len(id) == 64) && isHex(id) {
		hi := hexVal(id[0])
		lo := hexVal(id[1])
		return hi<<4 | lo
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return byte(h.Sum32())
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// IDTable assigns dense, shard-local ids to node identifiers.
type IDTable struct {
	idToGlobal map[string]GlobalID
	globalToID map[GlobalID]string
	nextLocal  map[byte]uint32
}

// NewIDTable returns an empty id table.
func NewIDTable() *IDTable {
	return &IDTable{
		idToGlobal: make(map[string]GlobalID),
		globalToID: make(map[GlobalID]string),
		nextLocal:  make(map[byte]uint32),
	}
}

// Assign returns id's global id, allocating a fresh dense local id within
// its shard on first sight. Shard overflow past 2^24 local ids raises
// errs.ShardIDOverflow.
func (t *IDTable) Assign(id string) (GlobalID, error) {
	if g, ok := t.idToGlobal[id]; ok {
		return g, nil
	}
	shard := shardByte(id)
	local := t.nextLocal[shard]
	if local >= maxLocalID {
		return 0, errs.Newf(errs.ShardIDOverflow, errs.SeverityHigh, "shard %02x exceeded %d local ids", shard, maxLocalID)
	}
	t.nextLocal[shard] = local + 1
	g := newGlobalID(shard, local)
	t.idToGlobal[id] = g
	t.globalToID[g] = id
	return g, nil
}

// Lookup returns the global id already assigned to id, if any.
func (t *IDTable) Lookup(id string) (GlobalID, bool) {
	g, ok := t.idToGlobal[id]
	return g, ok
}

// Resolve maps a global id back to its string identifier.
func (t *IDTable) Resolve(g GlobalID) (string, bool) {
	id, ok := t.globalToID[g]
	return id, ok
}

// ShardIDs returns every id table entry scoped to one shard (id -> localId),
// the shape persisted at meta/ids_XX.cbor.
func (t *IDTable) ShardIDs(shard byte) map[string]uint32 {
	out := make(map[string]uint32)
	for id, g := range t.idToGlobal {
		if g.Shard() == shard {
			out[id] = g.Local()
		}
	}
	return out
}

// Shards returns every shard byte with at least one assigned id.
func (t *IDTable) Shards() []byte {
	out := make([]byte, 0, len(t.nextLocal))
	for s := range t.nextLocal {
		out = append(out, s)
	}
	return out
}
