package bitmap

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/rohankatakam/warp/internal/codec"
	"github.com/rohankatakam/warp/internal/crdt"
	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
)

const metaFileFmt = "meta/ids_%s.cbor"
const fwdFileFmt = "shards/fwd_%s.bitmap"
const revFileFmt = "shards/rev_%s.bitmap"
const frontierFile = "frontier.cbor"

// Index is the built-or-loaded bitmap index over one graph's alive subgraph.
// Shard contents are loaded and decoded lazily and cached per process;
// Build and Load themselves only touch the tree-level file -> oid mapping.
type Index struct {
	store  objstore.Store
	layout objstore.RefLayout

	fileOIDs map[string]objstore.OID
	frontier map[string]string

	decodeCache *gocache.Cache // decoded shard bitmaps and meta tables, TTL-bounded
	sf          singleflight.Group
}

// Build walks state's alive edges, assigns dense shard-local ids, and
// persists the per-shard meta/forward/reverse bitmap files as a new tree,
// CAS-updating refs/warp/<graph>/index/latest. Returns the new commit sha.
func Build(ctx context.Context, store objstore.Store, layout objstore.RefLayout, state *reduce.State, frontier map[string]string) (string, error) {
	ids := NewIDTable()
	fwd := make(map[byte]map[uint32]*roaring.Bitmap)
	rev := make(map[byte]map[uint32]*roaring.Bitmap)

	for _, key := range state.EdgeAlive.AliveElements() {
		if err := ctx.Err(); err != nil {
			return "", errs.Newf(errs.Canceled, errs.SeverityMedium, "bitmap build canceled")
		}
		from, to, _, err := crdt.DecodeEdgeKey(key)
		if err != nil {
			return "", errs.Wrapf(err, errs.SchemaUnsupported, errs.SeverityHigh, "decode edge key")
		}
		gFrom, err := ids.Assign(string(from))
		if err != nil {
			return "", err
		}
		gTo, err := ids.Assign(string(to))
		if err != nil {
			return "", err
		}
		addToShardBitmap(fwd, gFrom, uint32(gTo))
		addToShardBitmap(rev, gTo, uint32(gFrom))
	}

	var entries []objstore.TreeEntry
	for _, shard := range ids.Shards() {
		hex := shardHex(shard)

		metaData, err := codec.Encode(ids.ShardIDs(shard))
		if err != nil {
			return "", errs.InternalWrap(err, "encode shard meta")
		}
		metaOID, err := store.WriteBlob(ctx, metaData)
		if err != nil {
			return "", errs.RefIOWrap(err, "write shard meta blob")
		}
		entries = append(entries, objstore.TreeEntry{Mode: objstore.ModeBlob, OID: metaOID, Name: fmt.Sprintf(metaFileFmt, hex)})

		fwdData, err := encodeShard(fwd[shard])
		if err != nil {
			return "", err
		}
		fwdOID, err := store.WriteBlob(ctx, fwdData)
		if err != nil {
			return "", errs.RefIOWrap(err, "write forward shard blob")
		}
		entries = append(entries, objstore.TreeEntry{Mode: objstore.ModeBlob, OID: fwdOID, Name: fmt.Sprintf(fwdFileFmt, hex)})

		revData, err := encodeShard(rev[shard])
		if err != nil {
			return "", err
		}
		revOID, err := store.WriteBlob(ctx, revData)
		if err != nil {
			return "", errs.RefIOWrap(err, "write reverse shard blob")
		}
		entries = append(entries, objstore.TreeEntry{Mode: objstore.ModeBlob, OID: revOID, Name: fmt.Sprintf(revFileFmt, hex)})
	}

	frontierData, err := codec.Encode(frontier)
	if err != nil {
		return "", errs.InternalWrap(err, "encode index frontier")
	}
	frontierOID, err := store.WriteBlob(ctx, frontierData)
	if err != nil {
		return "", errs.RefIOWrap(err, "write index frontier blob")
	}
	entries = append(entries, objstore.TreeEntry{Mode: objstore.ModeBlob, OID: frontierOID, Name: frontierFile})

	treeOID, err := store.WriteTree(ctx, entries)
	if err != nil {
		return "", errs.RefIOWrap(err, "write index tree")
	}

	prior, err := store.ReadRef(ctx, layout.IndexLatest())
	if err == objstore.ErrRefNotFound {
		prior = ""
	} else if err != nil {
		return "", errs.RefIOWrap(err, "read index/latest")
	}
	var parents []string
	if prior != "" {
		parents = []string{prior}
	}
	sha, err := store.Commit(ctx, objstore.CommitInfo{TreeOID: treeOID, Parents: parents, Message: "bitmap index"})
	if err != nil {
		return "", errs.RefIOWrap(err, "commit index")
	}
	if err := store.CompareAndSwapRef(ctx, layout.IndexLatest(), sha, prior); err != nil {
		if err == objstore.ErrCASMismatch {
			return "", errs.CASConflictf("index/latest advanced concurrently")
		}
		return "", errs.RefIOWrap(err, "advance index ref")
	}
	return sha, nil
}

// Load resolves the graph's current index commit and records its file ->
// blob-oid mapping and build-time frontier, without fetching any shard
// contents.
func Load(ctx context.Context, store objstore.Store, layout objstore.RefLayout) (*Index, error) {
	sha, err := store.ReadRef(ctx, layout.IndexLatest())
	if err == objstore.ErrRefNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.RefIOWrap(err, "read index/latest")
	}
	treeOID, err := store.GetCommitTree(ctx, sha)
	if err != nil {
		return nil, errs.RefIOWrap(err, "resolve index commit")
	}
	entries, err := store.ReadTreeOIDs(ctx, treeOID)
	if err != nil {
		return nil, errs.RefIOWrap(err, "read index tree")
	}

	idx := &Index{
		store:       store,
		layout:      layout,
		fileOIDs:    entries,
		decodeCache: gocache.New(5*time.Minute, 10*time.Minute),
	}
	if frontierOID, ok := entries[frontierFile]; ok {
		data, err := store.ReadBlob(ctx, frontierOID)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read index frontier blob")
		}
		var frontier map[string]string
		if err := codec.Decode(data, &frontier); err != nil {
			return nil, errs.Wrapf(err, errs.ShardCorruption, errs.SeverityHigh, "decode index frontier")
		}
		idx.frontier = frontier
	}
	return idx, nil
}

// IsStale reports whether the current chain frontier has diverged from the
// frontier this index was built against.
func (idx *Index) IsStale(current map[string]string) bool {
	if len(idx.frontier) != len(current) {
		return true
	}
	for w, sha := range current {
		if idx.frontier[w] != sha {
			return true
		}
	}
	return false
}

// Direction selects which adjacency a neighbor query traverses.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// GetChildren returns id's out-neighbors (forward adjacency), sorted by
// codepoint order on the recovered identifier.
func (idx *Index) GetChildren(ctx context.Context, id string) ([]string, error) {
	return idx.neighbors(ctx, id, fwdFileFmt)
}

// GetParents returns id's in-neighbors (reverse adjacency), sorted by
// codepoint order on the recovered identifier.
func (idx *Index) GetParents(ctx context.Context, id string) ([]string, error) {
	return idx.neighbors(ctx, id, revFileFmt)
}

func (idx *Index) neighbors(ctx context.Context, id string, fileFmt string) ([]string, error) {
	shard := shardByte(id)
	hex := shardHex(shard)

	meta, err := idx.loadMeta(ctx, shard)
	if err != nil {
		return nil, err
	}
	local, ok := meta.idToLocal[id]
	if !ok {
		return nil, nil // unknown node: empty result, never fails
	}

	bitmaps, err := idx.loadShard(ctx, fmt.Sprintf(fileFmt, hex))
	if err != nil {
		return nil, err
	}
	bm, ok := bitmaps[local]
	if !ok {
		return nil, nil
	}

	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		g := GlobalID(it.Next())
		childMeta, err := idx.loadMeta(ctx, g.Shard())
		if err != nil {
			return nil, err
		}
		if name, ok := childMeta.localToID[g.Local()]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

type shardMeta struct {
	idToLocal map[string]uint32
	localToID map[uint32]string
}

func (idx *Index) loadMeta(ctx context.Context, shard byte) (*shardMeta, error) {
	hex := shardHex(shard)
	key := "meta:" + hex
	if v, ok := idx.decodeCache.Get(key); ok {
		return v.(*shardMeta), nil
	}
	v, err, _ := idx.sf.Do(key, func() (interface{}, error) {
		name := fmt.Sprintf(metaFileFmt, hex)
		oid, ok := idx.fileOIDs[name]
		if !ok {
			return &shardMeta{idToLocal: map[string]uint32{}, localToID: map[uint32]string{}}, nil
		}
		data, err := idx.store.ReadBlob(ctx, oid)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read shard meta %s", name)
		}
		var idToLocal map[string]uint32
		if err := codec.Decode(data, &idToLocal); err != nil {
			return nil, errs.Wrapf(err, errs.ShardCorruption, errs.SeverityHigh, "decode shard meta %s", name)
		}
		localToID := make(map[uint32]string, len(idToLocal))
		for id, local := range idToLocal {
			localToID[local] = id
		}
		m := &shardMeta{idToLocal: idToLocal, localToID: localToID}
		idx.decodeCache.Set(key, m, gocache.DefaultExpiration)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*shardMeta), nil
}

func (idx *Index) loadShard(ctx context.Context, name string) (map[uint32]*roaring.Bitmap, error) {
	key := "shard:" + name
	if v, ok := idx.decodeCache.Get(key); ok {
		return v.(map[uint32]*roaring.Bitmap), nil
	}
	v, err, _ := idx.sf.Do(key, func() (interface{}, error) {
		oid, ok := idx.fileOIDs[name]
		if !ok {
			return map[uint32]*roaring.Bitmap{}, nil
		}
		data, err := idx.store.ReadBlob(ctx, oid)
		if err != nil {
			return nil, errs.RefIOWrap(err, "read shard %s", name)
		}
		bitmaps, err := decodeShard(data)
		if err != nil {
			return nil, err
		}
		idx.decodeCache.Set(key, bitmaps, gocache.DefaultExpiration)
		return bitmaps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[uint32]*roaring.Bitmap), nil
}

func addToShardBitmap(m map[byte]map[uint32]*roaring.Bitmap, owner GlobalID, member uint32) {
	shard := owner.Shard()
	if m[shard] == nil {
		m[shard] = make(map[uint32]*roaring.Bitmap)
	}
	bm, ok := m[shard][owner.Local()]
	if !ok {
		bm = roaring.New()
		m[shard][owner.Local()] = bm
	}
	bm.Add(member)
}
