package objstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rohankatakam/warp/internal/objhash"
)

// MemStore is a deterministic, in-memory Store used in unit and property
// tests. Every write is content-addressed exactly like a durable backend;
// only the ref map needs a mutex, matching spec §5's "only CAS needs
// serialization" model.
type MemStore struct {
	mu      sync.Mutex
	blobs   map[OID][]byte
	trees   map[OID]map[string]OID
	commits map[string]commitRecord
	refs    map[string]string
	config  map[string]string
	seq     int
}

type commitRecord struct {
	treeOID OID
	parents []string
	message string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		blobs:   make(map[OID][]byte),
		trees:   make(map[OID]map[string]OID),
		commits: make(map[string]commitRecord),
		refs:    make(map[string]string),
		config:  make(map[string]string),
	}
}

func (m *MemStore) WriteBlob(_ context.Context, data []byte) (OID, error) {
	oid := OID(objhash.Hash(data))
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[oid] = cp
	return oid, nil
}

func (m *MemStore) ReadBlob(_ context.Context, oid OID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[oid]
	if !ok {
		return nil, fmt.Errorf("objstore: blob %s not found", oid)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemStore) WriteTree(_ context.Context, entries []TreeEntry) (OID, error) {
	named := make(map[string]OID, len(entries))
	canon := make([]string, 0, len(entries))
	for _, e := range entries {
		named[e.Name] = e.OID
		canon = append(canon, e.Name+"\x00"+string(e.OID)+"\x00"+strconv.Itoa(int(e.Mode)))
	}
	sort.Strings(canon)
	oid := OID(objhash.Hash([]byte(strings.Join(canon, "\x01"))))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[oid] = named
	return oid, nil
}

func (m *MemStore) ReadTreeOIDs(_ context.Context, oid OID) (map[string]OID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[oid]
	if !ok {
		return nil, fmt.Errorf("objstore: tree %s not found", oid)
	}
	out := make(map[string]OID, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) Commit(_ context.Context, info CommitInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	sha := fmt.Sprintf("%s", objhash.Hash([]byte(fmt.Sprintf("%s|%v|%s|%d", info.TreeOID, info.Parents, info.Message, m.seq))))
	m.commits[sha] = commitRecord{treeOID: info.TreeOID, parents: info.Parents, message: info.Message}
	return sha, nil
}

func (m *MemStore) GetCommitTree(_ context.Context, sha string) (OID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return "", fmt.Errorf("objstore: commit %s not found", sha)
	}
	return c.treeOID, nil
}

func (m *MemStore) GetNodeInfo(_ context.Context, sha string) (NodeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return NodeInfo{}, fmt.Errorf("objstore: commit %s not found", sha)
	}
	return NodeInfo{Parents: c.parents, Message: c.message}, nil
}

func (m *MemStore) ReadRef(_ context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha, ok := m.refs[ref]
	if !ok {
		return "", ErrRefNotFound
	}
	return sha, nil
}

func (m *MemStore) UpdateRef(_ context.Context, ref, newSha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[ref] = newSha
	return nil
}

func (m *MemStore) CompareAndSwapRef(_ context.Context, ref, newSha, expectedOld string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.refs[ref]
	if expectedOld == "" {
		if ok {
			return ErrCASMismatch
		}
	} else if !ok || cur != expectedOld {
		return ErrCASMismatch
	}
	m.refs[ref] = newSha
	return nil
}

func (m *MemStore) ListRefs(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for ref := range m.refs {
		if strings.HasPrefix(ref, prefix) {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) DeleteRef(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, ref)
	return nil
}

func (m *MemStore) ConfigGet(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	return v, ok, nil
}

func (m *MemStore) ConfigSet(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}
