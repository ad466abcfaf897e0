// Package objstore defines the object-store port (spec §6): the Git-like
// blob/tree/commit/ref primitives every other component is built on. The
// store itself is an external collaborator — this package only specifies the
// interface plus two conforming implementations (an in-memory store for
// tests and a bbolt-backed durable store for the CLI).
package objstore

import (
	"context"
	"errors"
)

// OID is a content-addressed object id (see internal/objhash.OID).
type OID string

// EntryMode distinguishes tree entry kinds.
type EntryMode int

const (
	ModeBlob EntryMode = iota
	ModeTree
)

// TreeEntry is one named entry in a tree object.
type TreeEntry struct {
	Mode EntryMode
	OID  OID
	Name string
}

// CommitInfo describes a commit object.
type CommitInfo struct {
	TreeOID OID
	Parents []string
	Message string
}

// NodeInfo is the decoded form of a commit read back from the store.
type NodeInfo struct {
	Parents []string
	Message string
}

var (
	// ErrRefNotFound is returned by ReadRef for a ref with no current value.
	ErrRefNotFound = errors.New("objstore: ref not found")
	// ErrCASMismatch is returned by CompareAndSwapRef when expectedOld does
	// not match the ref's current value.
	ErrCASMismatch = errors.New("objstore: compare-and-swap mismatch")
)

// Store is the object-store port every other component is built against.
// Implementations must make writeBlob/writeTree/commit race-free and
// additive; CompareAndSwapRef is the sole serialization point across writers
// (spec §5 Shared-resource policy).
type Store interface {
	WriteBlob(ctx context.Context, data []byte) (OID, error)
	ReadBlob(ctx context.Context, oid OID) ([]byte, error)

	WriteTree(ctx context.Context, entries []TreeEntry) (OID, error)
	ReadTreeOIDs(ctx context.Context, oid OID) (map[string]OID, error)

	Commit(ctx context.Context, info CommitInfo) (string, error)
	GetCommitTree(ctx context.Context, sha string) (OID, error)
	GetNodeInfo(ctx context.Context, sha string) (NodeInfo, error)

	ReadRef(ctx context.Context, ref string) (string, error) // "", ErrRefNotFound if absent
	UpdateRef(ctx context.Context, ref, newSha string) error
	CompareAndSwapRef(ctx context.Context, ref, newSha string, expectedOld string) error
	ListRefs(ctx context.Context, prefix string) ([]string, error)
	DeleteRef(ctx context.Context, ref string) error

	ConfigGet(ctx context.Context, key string) (string, bool, error)
	ConfigSet(ctx context.Context, key, value string) error
}

// RefLayout names the well-known ref namespaces under a graph (spec §6).
type RefLayout struct{ Graph string }

func (r RefLayout) WriterRef(writer string) string {
	return "refs/warp/" + r.Graph + "/writers/" + writer
}

func (r RefLayout) WriterPrefix() string {
	return "refs/warp/" + r.Graph + "/writers/"
}

func (r RefLayout) CheckpointLatest() string {
	return "refs/warp/" + r.Graph + "/checkpoints/latest"
}

func (r RefLayout) IndexLatest() string {
	return "refs/warp/" + r.Graph + "/index/latest"
}

func (r RefLayout) TrustRecords() string {
	return "refs/warp/" + r.Graph + "/trust/records"
}
