package objstore

import (
	"context"
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/warp/internal/errs"
	"github.com/rohankatakam/warp/internal/objhash"
)

var (
	bucketBlobs   = []byte("blobs")
	bucketTrees   = []byte("trees")
	bucketCommits = []byte("commits")
	bucketRefs    = []byte("refs")
	bucketConfig  = []byte("config")
)

// BoltStore is a durable, single-process Store backed by bbolt. bbolt's
// single-writer file lock already serializes concurrent writers within one
// process; CompareAndSwapRef still performs the expected-old check so the
// same code path works whether or not the caller raced (spec §4.C note on
// local durability).
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if absent) a bbolt-backed object store at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errs.RefIOWrap(err, "open bolt store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBlobs, bucketTrees, bucketCommits, bucketRefs, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errs.RefIOWrap(err, "initialize bolt store buckets")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) WriteBlob(_ context.Context, data []byte) (OID, error) {
	oid := OID(objhash.Hash(data))
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(oid), data)
	})
	return oid, err
}

func (s *BoltStore) ReadBlob(_ context.Context, oid OID) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(oid))
		if v == nil {
			return fmt.Errorf("objstore: blob %s not found", oid)
		}
		out = append(out, v...)
		return nil
	})
	return out, err
}

func (s *BoltStore) WriteTree(ctx context.Context, entries []TreeEntry) (OID, error) {
	mem := NewMemStore() // canonical tree-oid derivation is shared logic
	oid, err := mem.WriteTree(ctx, entries)
	if err != nil {
		return "", err
	}
	named, _ := mem.ReadTreeOIDs(ctx, oid)
	data, err := encodeTree(named)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTrees).Put([]byte(oid), data)
	})
	return oid, err
}

func (s *BoltStore) ReadTreeOIDs(_ context.Context, oid OID) (map[string]OID, error) {
	var out map[string]OID
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTrees).Get([]byte(oid))
		if v == nil {
			return fmt.Errorf("objstore: tree %s not found", oid)
		}
		var err error
		out, err = decodeTree(v)
		return err
	})
	return out, err
}

func (s *BoltStore) Commit(_ context.Context, info CommitInfo) (string, error) {
	var sha string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommits)
		seq, _ := b.NextSequence()
		sha = string(objhash.Hash([]byte(fmt.Sprintf("%s|%v|%s|%d", info.TreeOID, info.Parents, info.Message, seq))))
		data, err := encodeCommit(info)
		if err != nil {
			return err
		}
		return b.Put([]byte(sha), data)
	})
	return sha, err
}

func (s *BoltStore) GetCommitTree(_ context.Context, sha string) (OID, error) {
	var oid OID
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCommits).Get([]byte(sha))
		if v == nil {
			return fmt.Errorf("objstore: commit %s not found", sha)
		}
		info, err := decodeCommit(v)
		if err != nil {
			return err
		}
		oid = info.TreeOID
		return nil
	})
	return oid, err
}

func (s *BoltStore) GetNodeInfo(_ context.Context, sha string) (NodeInfo, error) {
	var out NodeInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCommits).Get([]byte(sha))
		if v == nil {
			return fmt.Errorf("objstore: commit %s not found", sha)
		}
		info, err := decodeCommit(v)
		if err != nil {
			return err
		}
		out = NodeInfo{Parents: info.Parents, Message: info.Message}
		return nil
	})
	return out, err
}

func (s *BoltStore) ReadRef(_ context.Context, ref string) (string, error) {
	var sha string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRefs).Get([]byte(ref))
		if v == nil {
			return ErrRefNotFound
		}
		sha = string(v)
		return nil
	})
	return sha, err
}

func (s *BoltStore) UpdateRef(_ context.Context, ref, newSha string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Put([]byte(ref), []byte(newSha))
	})
}

func (s *BoltStore) CompareAndSwapRef(_ context.Context, ref, newSha, expectedOld string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefs)
		cur := b.Get([]byte(ref))
		if expectedOld == "" {
			if cur != nil {
				return ErrCASMismatch
			}
		} else if cur == nil || string(cur) != expectedOld {
			return ErrCASMismatch
		}
		return b.Put([]byte(ref), []byte(newSha))
	})
}

func (s *BoltStore) ListRefs(_ context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRefs).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && hasPrefix(k, p); k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteRef(_ context.Context, ref string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefs).Delete([]byte(ref))
	})
}

func (s *BoltStore) ConfigGet(_ context.Context, key string) (string, bool, error) {
	var val string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConfig).Get([]byte(key))
		if v != nil {
			val = string(v)
			found = true
		}
		return nil
	})
	return val, found, err
}

func (s *BoltStore) ConfigSet(_ context.Context, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(key), []byte(value))
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// encodeTree/decodeTree and encodeCommit/decodeCommit use a minimal
// length-prefixed line format rather than the canonical codec: these are
// bbolt's own on-disk records, not content-addressed wire objects, so they
// carry no determinism requirement.

func encodeTree(entries map[string]OID) ([]byte, error) {
	out := make([]byte, 0, 64*len(entries))
	for name, oid := range entries {
		out = append(out, []byte(strconv.Itoa(len(name))+":"+name+":"+string(oid)+"\n")...)
	}
	return out, nil
}

func decodeTree(data []byte) (map[string]OID, error) {
	out := make(map[string]OID)
	i := 0
	for i < len(data) {
		j := i
		for j < len(data) && data[j] != ':' {
			j++
		}
		n, err := strconv.Atoi(string(data[i:j]))
		if err != nil {
			return nil, fmt.Errorf("objstore: corrupt tree record")
		}
		j++ // skip ':'
		name := string(data[j : j+n])
		j += n + 1 // skip name + ':'
		k := j
		for k < len(data) && data[k] != '\n' {
			k++
		}
		out[name] = OID(data[j:k])
		i = k + 1
	}
	return out, nil
}

func encodeCommit(info CommitInfo) ([]byte, error) {
	out := []byte(string(info.TreeOID) + "\n")
	for _, p := range info.Parents {
		out = append(out, []byte(p+",")...)
	}
	out = append(out, '\n')
	out = append(out, []byte(info.Message)...)
	return out, nil
}

func decodeCommit(data []byte) (CommitInfo, error) {
	lines := splitN(data, '\n', 3)
	if len(lines) < 2 {
		return CommitInfo{}, fmt.Errorf("objstore: corrupt commit record")
	}
	info := CommitInfo{TreeOID: OID(lines[0])}
	if len(lines[1]) > 0 {
		for _, p := range splitByte(lines[1], ',') {
			if len(p) > 0 {
				info.Parents = append(info.Parents, string(p))
			}
		}
	}
	if len(lines) == 3 {
		info.Message = string(lines[2])
	}
	return info, nil
}

func splitN(data []byte, sep byte, n int) [][]byte {
	var out [][]byte
	start := 0
	for i := 0; i < len(data) && len(out) < n-1; i++ {
		if data[i] == sep {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	out = append(out, data[start:])
	return out
}

func splitByte(data []byte, sep byte) [][]byte {
	var out [][]byte
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == sep {
			out = append(out, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
